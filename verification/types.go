// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"errors"

	"github.com/bureau-foundation/verify/lib/ref"
)

// Emoji is one symbol of an emoji SAS.
type Emoji struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// SasData is the short authentication string both users compare.
// Exactly one of Emoji (seven entries) and Decimals (three numbers)
// is set.
type SasData struct {
	Emoji    []Emoji  `json:"emoji,omitempty"`
	Decimals []uint16 `json:"decimals,omitempty"`
}

// IsEmoji reports whether the data is an emoji SAS.
func (d SasData) IsEmoji() bool { return len(d.Emoji) > 0 }

// QrCode is the payload to render as a QR code for the peer to scan.
type QrCode struct {
	Data []byte `json:"data"`
}

// CancelInfo describes why a verification was cancelled.
type CancelInfo struct {
	// Code is the Matrix cancel code, for example "m.user" or
	// "m.mismatched_sas".
	Code string `json:"code"`
	// Reason is the human-readable reason.
	Reason string `json:"reason"`
	// CancelledByUs is true when this device sent the cancellation.
	CancelledByUs bool `json:"cancelled_by_us"`
}

// User is a party to a verification.
type User struct {
	ID          ref.UserID
	DisplayName string
}

// Name returns the display name, or the user ID when it is unset.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID.String()
}

// Property names a field of a Verification whose change is reported
// to subscribers.
type Property string

const (
	PropertyState               Property = "state"
	PropertySupportedMethods    Property = "supported-methods"
	PropertyForceCurrentSession Property = "force-current-session"
	PropertySasData             Property = "sas-data"
	PropertyQrCode              Property = "qr-code"
	PropertyCancelInfo          Property = "cancel-info"
)

var (
	// ErrRequestNotFound is returned by a Backend when no in-flight
	// request matches a user and flow ID.
	ErrRequestNotFound = errors.New("verification request not found")

	// ErrNoCryptoIdentity is returned by a Backend when the target user
	// has no cross-signing identity to verify against.
	ErrNoCryptoIdentity = errors.New("user has no crypto identity")

	// ErrSasUnavailable means the backend could not start a SAS
	// exchange for a request.
	ErrSasUnavailable = errors.New("SAS verification unavailable")

	// ErrQrUnavailable means the backend could not produce or consume a
	// QR verification for a request.
	ErrQrUnavailable = errors.New("QR verification unavailable")
)
