// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/bureau-foundation/verify/lib/ref"

// Verification event types. The same types are used to-device and
// in-room, except the in-room request which is an m.room.message.
const (
	EventTypeRoomMessage ref.EventType = "m.room.message"

	EventTypeVerificationRequest ref.EventType = "m.key.verification.request"
	EventTypeVerificationReady   ref.EventType = "m.key.verification.ready"
	EventTypeVerificationStart   ref.EventType = "m.key.verification.start"
	EventTypeVerificationCancel  ref.EventType = "m.key.verification.cancel"
	EventTypeVerificationAccept  ref.EventType = "m.key.verification.accept"
	EventTypeVerificationKey     ref.EventType = "m.key.verification.key"
	EventTypeVerificationMac     ref.EventType = "m.key.verification.mac"
	EventTypeVerificationDone    ref.EventType = "m.key.verification.done"
)

// MsgTypeVerificationRequest is the msgtype of an in-room verification
// request.
const MsgTypeVerificationRequest = "m.key.verification.request"

// IsVerificationFollowUp reports whether eventType is one of the events
// exchanged after a request: ready, start, cancel, accept, key, mac,
// done.
func IsVerificationFollowUp(eventType ref.EventType) bool {
	switch eventType {
	case EventTypeVerificationReady,
		EventTypeVerificationStart,
		EventTypeVerificationCancel,
		EventTypeVerificationAccept,
		EventTypeVerificationKey,
		EventTypeVerificationMac,
		EventTypeVerificationDone:
		return true
	default:
		return false
	}
}
