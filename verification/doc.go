// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verification drives interactive Matrix device verification:
// SAS (emoji or decimal comparison) and QR-code cross-signing between
// two devices.
//
// A [Verification] is the observable front object a UI holds. It is
// created with [NewForFlowID] for a request discovered in /sync,
// [Create] for a request this device originates, or [NewForError]
// when origination failed. [Verification.Start] spawns one driver
// goroutine that runs the protocol to completion against a [Backend].
//
// The front object and the driver share nothing but two bounded
// channels. User intents ([Verification.Accept], [Verification.Cancel],
// [Verification.EmojiMatch], ...) are non-blocking sends on the
// command channel: when the channel is full or the driver has already
// exited the intent is logged and dropped. The driver reports progress
// (negotiated methods, SAS data, QR code, cancel info, state changes,
// and finally its terminal result) on the progress channel, which a
// pump goroutine applies in arrival order. Observers register with
// [Verification.Subscribe] and are told which [Property] changed.
//
// The driver never trusts the command channel alone to learn about
// remote changes. Every wait point re-checks the backend: an active
// SAS exchange for the flow (which preempts the QR path), passive
// supersession by another device, and remote cancellation. The sync
// loop feeds [Registry.HandleSync], which routes verification events
// to the matching Verification as a [Verification.NotifyState] poke.
//
// Once a Verification reaches a terminal state (Completed, Cancelled,
// Dismissed, Error, Passive) no driver message changes it again. Only
// [Verification.Dismiss] may still move it, to Dismissed.
//
// Requests time out: [NewForFlowID] and [Create] arm a single timer
// on the session clock for the larger of the request and received
// timeouts, measured from the request's start time. A request that is
// already expired, or that claims to come from the future, is
// cancelled immediately.
package verification
