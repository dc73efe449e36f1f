// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"time"

	"github.com/bureau-foundation/verify/lib/ref"
)

// Event is a Matrix room event from a sync timeline.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned contains unsigned event metadata.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns a top-level string field of the content, or ""
// when it is absent or not a string.
func (e Event) ContentString(key string) string {
	return contentString(e.Content, key)
}

// OriginServerTime returns OriginServerTS as a time.Time.
func (e Event) OriginServerTime() time.Time {
	return time.UnixMilli(e.OriginServerTS)
}

// RelatesToEventID returns content["m.relates_to"]["event_id"]. In-room
// verification events use it to point at the originating request.
func (e Event) RelatesToEventID() (ref.EventID, bool) {
	relatesTo, ok := e.Content["m.relates_to"].(map[string]any)
	if !ok {
		return ref.EventID{}, false
	}
	raw, ok := relatesTo["event_id"].(string)
	if !ok {
		return ref.EventID{}, false
	}
	eventID, err := ref.ParseEventID(raw)
	if err != nil {
		return ref.EventID{}, false
	}
	return eventID, true
}

// ToDeviceEvent is an event delivered directly to this device, outside
// any room.
type ToDeviceEvent struct {
	Type    ref.EventType  `json:"type"`
	Sender  ref.UserID     `json:"sender"`
	Content map[string]any `json:"content"`
}

// ContentString returns a top-level string field of the content.
func (e ToDeviceEvent) ContentString(key string) string {
	return contentString(e.Content, key)
}

// TransactionID returns content["transaction_id"], which is the flow
// ID for to-device verification events.
func (e ToDeviceEvent) TransactionID() string {
	return contentString(e.Content, "transaction_id")
}

// Timestamp returns content["timestamp"] (milliseconds since the epoch)
// as a time.Time. Verification requests carry it; other events do not.
func (e ToDeviceEvent) Timestamp() (time.Time, bool) {
	milliseconds, ok := contentInt64(e.Content, "timestamp")
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(milliseconds), true
}

// SyncResponse is the subset of the /sync response body that carries
// verification traffic.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Rooms     RoomsSection    `json:"rooms"`
	ToDevice  ToDeviceSection `json:"to_device"`
}

// RoomsSection holds per-room sync data.
type RoomsSection struct {
	Join map[ref.RoomID]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom holds sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection holds timeline events for a room.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// ToDeviceSection holds events sent directly to this device.
type ToDeviceSection struct {
	Events []ToDeviceEvent `json:"events"`
}

func contentString(content map[string]any, key string) string {
	value, _ := content[key].(string)
	return value
}

// contentInt64 accepts the numeric forms a decoded content map can
// hold: float64 from encoding/json, json.Number with UseNumber, and
// plain integers from in-process producers.
func contentInt64(content map[string]any, key string) (int64, bool) {
	switch value := content[key].(type) {
	case float64:
		return int64(value), true
	case json.Number:
		parsed, err := value.Int64()
		return parsed, err == nil
	case int64:
		return value, true
	case int:
		return int64(value), true
	default:
		return 0, false
	}
}
