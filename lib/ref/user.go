// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// The verification code compares user IDs to decide whether a request
// verifies one of our own devices or another user, so both sides of
// that comparison must be parsed the same way.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseMatrixID(raw); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and ':'. Returns "" for the
// zero value.
func (u UserID) Localpart() string {
	localpart, _, _ := parseMatrixID(u.id)
	return localpart
}

// Server returns the part after the first ':'. Returns "" for the zero
// value.
func (u UserID) Server() string {
	_, server, _ := parseMatrixID(u.id)
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// user ID format. An empty input produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
