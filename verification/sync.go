// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"time"

	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/messaging"
)

// HandleSync routes the verification traffic of one sync response.
// New requests become verifications that are added and started with
// ctx, so ctx must outlive the sync iteration (typically the sync
// loop's own context). Events for known flows poke the matching
// verification with NotifyState.
func (r *Registry) HandleSync(ctx context.Context, response *messaging.SyncResponse) {
	r.handleToDevice(ctx, response.ToDevice.Events)
	for roomID, room := range response.Rooms.Join {
		r.handleRoomTimeline(ctx, roomID, room.Timeline.Events)
	}
}

// handleToDevice handles verification between devices of our own
// account. The flow ID is the transaction_id.
func (r *Registry) handleToDevice(ctx context.Context, events []messaging.ToDeviceEvent) {
	logger := r.session.logger()
	for _, event := range events {
		flowID := event.TransactionID()

		switch {
		case event.Type == messaging.EventTypeVerificationRequest:
			if existing := r.Get(event.Sender, flowID); existing != nil {
				existing.NotifyState()
				continue
			}
			if event.Sender != r.session.User.ID {
				logger.Warn("ignoring to-device verification request from another user",
					"sender", event.Sender.String())
				continue
			}
			if flowID == "" {
				logger.Warn("ignoring to-device verification request without transaction ID")
				continue
			}
			timestamp, ok := event.Timestamp()
			if !ok {
				logger.Warn("ignoring to-device verification request without timestamp", "flow_id", flowID)
				continue
			}
			startTime, ok := r.requestStartTime(timestamp, flowID)
			if !ok {
				continue
			}

			verification := NewForFlowID(flowID, r.session, r.session.User, startTime)
			if r.Add(verification) {
				verification.Start(ctx)
			}

		case messaging.IsVerificationFollowUp(event.Type):
			if existing := r.Get(event.Sender, flowID); existing != nil {
				existing.NotifyState()
			} else {
				logger.Warn("received verification event without the initial request",
					"type", event.Type.String(), "flow_id", flowID)
			}
		}
	}
}

// handleRoomTimeline handles in-room verification. The flow ID is the
// event ID of the m.room.message request, and follow-ups point at it
// with m.relates_to.
func (r *Registry) handleRoomTimeline(ctx context.Context, roomID ref.RoomID, events []messaging.Event) {
	logger := r.session.logger().With("room_id", roomID.String())
	ownID := r.session.User.ID

	for _, event := range events {
		switch {
		case event.Type == messaging.EventTypeRoomMessage:
			if event.ContentString("msgtype") != messaging.MsgTypeVerificationRequest {
				continue
			}
			flowID := event.EventID.String()
			startTime, ok := r.requestStartTime(event.OriginServerTime(), flowID)
			if !ok {
				continue
			}
			target, err := ref.ParseUserID(event.ContentString("to"))
			if err != nil {
				logger.Warn("ignoring in-room verification request with invalid target",
					"flow_id", flowID, "error", err)
				continue
			}

			var other ref.UserID
			switch {
			case target == ownID:
				other = event.Sender
			case event.Sender == ownID:
				other = target
			default:
				// Neither verifies us nor was sent by us.
				continue
			}

			if previous := r.RoomVerification(roomID); previous != nil && !startTime.After(previous.StartTime()) {
				continue
			}

			verification := r.Get(other, flowID)
			if verification == nil {
				verification = NewForFlowID(flowID, r.session, User{ID: other}, startTime)
				if r.Add(verification) {
					verification.Start(ctx)
				}
			}

			r.mu.Lock()
			r.roomRequests[roomID] = verification
			r.mu.Unlock()

		case messaging.IsVerificationFollowUp(event.Type):
			related, ok := event.RelatesToEventID()
			if !ok {
				continue
			}
			if existing := r.Get(event.Sender, related.String()); existing != nil {
				existing.NotifyState()
			}
		}
	}
}

// requestStartTime validates the age of a request seen in sync.
func (r *Registry) requestStartTime(timestamp time.Time, flowID string) (time.Time, bool) {
	logger := r.session.logger()
	age := r.session.clock().Now().Sub(timestamp)
	if age < 0 {
		logger.Warn("ignoring verification request sent in the future; "+
			"the server or local clock is probably wrong", "flow_id", flowID, "skew", -age)
		return time.Time{}, false
	}
	if age > r.session.timeouts().Creation {
		logger.Debug("ignoring verification request that already timed out", "flow_id", flowID, "age", age)
		return time.Time{}, false
	}
	return timestamp, true
}
