// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a validated Matrix event ID (e.g., "$abc123xyz").
//
// For in-room verification the event ID of the m.key.verification.request
// message doubles as the flow ID. Event IDs are opaque: the only
// validation is the '$' sigil and a non-empty remainder.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
