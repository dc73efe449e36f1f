// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix event type ("m.key.verification.start",
// "m.room.message", ...). It is a named string rather than a struct:
// event types need no validation, only compile-time separation from
// state keys and flow IDs.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }
