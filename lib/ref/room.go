// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
//
// In-room verification requests are tracked per room: only the newest
// request in a room is kept, so the room ID is a map key in the
// verification registry.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
// Returns an error if the string is empty, doesn't start with '!',
// or is missing the ':server' suffix.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	if raw[0] != '!' {
		return RoomID{}, fmt.Errorf("room ID must start with '!': %q", raw)
	}
	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return RoomID{}, fmt.Errorf("room ID missing ':server' suffix: %q", raw)
	}
	if colonIndex == 0 {
		return RoomID{}, fmt.Errorf("room ID has empty local part: %q", raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return RoomID{}, fmt.Errorf("room ID has empty server name: %q", raw)
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
