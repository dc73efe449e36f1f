// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers:
// [UserID], [RoomID], [EventID], [DeviceID], and [EventType].
//
// Identifiers arrive as strings in /sync payloads and backend
// callbacks. They are parsed into these types at the boundary so that
// a flow ID is never confused with a room ID or a user ID inside the
// verification code. Parsing validates structure only (sigil, ':server'
// suffix); localpart rules are left to the homeserver.
//
// All types implement encoding.TextMarshaler, so JSON and CBOR carry
// the canonical string form.
package ref
