// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

// commandKind is a user intent sent from the front object to the
// driver.
type commandKind uint8

const (
	commandAccept commandKind = iota
	commandMatch
	commandNotMatch
	commandCancel
	commandStartSas
	// commandScanned carries the data our camera decoded.
	commandScanned
	commandConfirmScanning
	// commandNotifyState carries no intent; it makes the driver
	// re-check backend state.
	commandNotifyState
)

func (k commandKind) String() string {
	switch k {
	case commandAccept:
		return "accept"
	case commandMatch:
		return "match"
	case commandNotMatch:
		return "not-match"
	case commandCancel:
		return "cancel"
	case commandStartSas:
		return "start-sas"
	case commandScanned:
		return "scanned"
	case commandConfirmScanning:
		return "confirm-scanning"
	case commandNotifyState:
		return "notify-state"
	default:
		return "unknown"
	}
}

type command struct {
	kind commandKind
	data []byte
}

// progressKind is a driver report applied to the front object.
type progressKind uint8

const (
	progressState progressKind = iota
	progressSupportedMethods
	progressQrCode
	progressSasData
	progressCancelInfo
	// progressResult is the driver's terminal (State, error). It is
	// always the last message before the channel closes.
	progressResult
)

type progress struct {
	kind       progressKind
	state      State
	methods    SupportedMethods
	qrCode     QrCode
	sasData    SasData
	cancelInfo CancelInfo
	err        error
}
