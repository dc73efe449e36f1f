// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration.
//
// Two serialization formats are used with a clear boundary:
//
//   - JSON for Matrix payloads (sync responses, event content) and
//     for the CLI's scenario files.
//   - CBOR for internal data: verification snapshots handed to
//     out-of-process UIs, and the QR payload exchanged between the
//     two devices of the loopback backend.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same snapshot always produces identical bytes, so a UI can compare
// encodings to skip redundant redraws.
//
//	data, err := codec.Marshal(snapshot)
//	err = codec.Unmarshal(data, &snapshot)
//
// # Struct Tag Rules
//
// A `cbor` tag means the type is only ever CBOR. A `json` tag means
// the type may be serialized as both (fxamacker/cbor reads `json` tags
// when `cbor` tags are absent). Never put both tags on one field.
package codec
