// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import "fmt"

// State is the lifecycle state of a verification.
type State uint8

const (
	// StateRequested: the remote side asked us; waiting for the user.
	StateRequested State = iota
	// StateRequestSent: we asked; waiting for the remote to accept.
	StateRequestSent
	// StateSasV1: SAS data is published and awaits comparison.
	StateSasV1
	// StateQrV1Show: our QR code is published and awaits scanning.
	StateQrV1Show
	// StateQrV1Scan: waiting for our camera to decode the peer's code.
	StateQrV1Scan
	// StateQrV1Scanned: the peer scanned our code; waiting for the
	// user to confirm the peer's screen.
	StateQrV1Scanned
	StateCompleted
	StateCancelled
	// StateDismissed is set locally by Dismiss, never by the driver.
	StateDismissed
	// StatePassive: another device of ours handled the request.
	StatePassive
	StateError
)

var stateNames = [...]string{
	StateRequested:   "requested",
	StateRequestSent: "request-sent",
	StateSasV1:       "sas-v1",
	StateQrV1Show:    "qr-v1-show",
	StateQrV1Scan:    "qr-v1-scan",
	StateQrV1Scanned: "qr-v1-scanned",
	StateCompleted:   "completed",
	StateCancelled:   "cancelled",
	StateDismissed:   "dismissed",
	StatePassive:     "passive",
	StateError:       "error",
}

// IsTerminal reports whether the state ends the verification.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateDismissed, StatePassive, StateError:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown verification state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(data []byte) error {
	for index, name := range stateNames {
		if name == string(data) {
			*s = State(index)
			return nil
		}
	}
	return fmt.Errorf("unknown verification state %q", data)
}

// Mode describes whose device is being verified.
type Mode uint8

const (
	// ModeUser verifies another user.
	ModeUser Mode = iota
	// ModeOtherSession verifies another device of our own account.
	ModeOtherSession
	// ModeCurrentSession verifies this device, driven from another one
	// of ours (for example right after login).
	ModeCurrentSession
)

func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "user"
	case ModeOtherSession:
		return "other-session"
	case ModeCurrentSession:
		return "current-session"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(data []byte) error {
	for _, candidate := range []Mode{ModeUser, ModeOtherSession, ModeCurrentSession} {
		if candidate.String() == string(data) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown verification mode %q", data)
}
