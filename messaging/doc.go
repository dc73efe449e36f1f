// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging holds the Matrix client-server /sync payload types
// the verification layer consumes.
//
// Only the parts of a sync response that carry verification traffic are
// modeled: joined-room timelines (in-room verification, where the
// request is an m.room.message with msgtype m.key.verification.request
// and follow-up events relate to it via m.relates_to) and the
// to_device section (verification between devices of one account,
// where every event carries a transaction_id equal to the flow ID).
//
// Event content is kept as map[string]any, matching what
// encoding/json produces for arbitrary objects. The typed accessors
// ([Event.ContentString], [ToDeviceEvent.TransactionID], ...) read the
// few fields the router needs without a second decode.
package messaging
