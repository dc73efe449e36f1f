// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loopback is an in-process homeserver and crypto layer for
// exercising verifications without a network.
//
// A [Homeserver] holds devices and verification flows. Each [Device]
// implements [verification.Backend] from its own point of view and
// exposes the traffic addressed to it through [Device.Sync], shaped
// like a /sync response, so a [verification.Registry] can consume it
// exactly as it would consume a real one.
//
// Requests between devices of one account travel as to-device events
// with the flow ID as transaction_id. Requests to another account
// travel through a direct room the homeserver creates on demand, with
// the request event ID as flow ID.
//
// The SAS runs an ephemeral X25519 agreement, derives the displayed
// bytes with HKDF-SHA256 and exchanges keyed BLAKE3 MACs. QR codes
// carry a CBOR payload with a per-code secret. Nothing here
// authenticates a long-term device key.
package loopback
