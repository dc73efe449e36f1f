// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/bureau-foundation/verify/lib/codec"
	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/messaging"
	"github.com/bureau-foundation/verify/verification"
)

// qrPayloadVersion is the only payload layout understood.
const qrPayloadVersion = 1

var (
	errKeyMismatch = errors.New("QR code does not match this verification")
	errNotShower   = errors.New("only the device showing a QR code can render it")
)

// qrPayload is what a shown QR code encodes.
type qrPayload struct {
	Version  int          `cbor:"version"`
	FlowID   string       `cbor:"flow_id"`
	UserID   ref.UserID   `cbor:"user_id"`
	DeviceID ref.DeviceID `cbor:"device_id"`
	Secret   []byte       `cbor:"secret"`
}

func decodeQrPayload(data []byte) (qrPayload, error) {
	var payload qrPayload
	if err := codec.Unmarshal(data, &payload); err != nil {
		return qrPayload{}, fmt.Errorf("decoding QR payload: %w", err)
	}
	if payload.Version != qrPayloadVersion {
		return qrPayload{}, fmt.Errorf("decoding QR payload: unsupported version %d", payload.Version)
	}
	return payload, nil
}

// qrCode is one code shown by one device. Guarded by Homeserver.mu.
type qrCode struct {
	shower  *Device
	secret  []byte
	encoded []byte

	scanner          *Device
	scannerConfirmed bool
	showerConfirmed  bool
}

func newQrCode(f *flow, shower *Device) (*qrCode, error) {
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating QR secret: %w", err)
	}
	encoded, err := codec.Marshal(qrPayload{
		Version:  qrPayloadVersion,
		FlowID:   f.id,
		UserID:   shower.userID,
		DeviceID: shower.deviceID,
		Secret:   secret,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding QR payload: %w", err)
	}
	return &qrCode{shower: shower, secret: secret, encoded: encoded}, nil
}

func (c *qrCode) matches(f *flow, payload qrPayload) bool {
	return payload.FlowID == f.id &&
		payload.UserID == c.shower.userID &&
		payload.DeviceID == c.shower.deviceID &&
		subtle.ConstantTimeCompare(payload.Secret, c.secret) == 1
}

// qrHandle is a device's view of one code: the shower's or the
// scanner's.
type qrHandle struct {
	device *Device
	flow   *flow
	code   *qrCode
}

var _ verification.QrVerification = (*qrHandle)(nil)

func (q *qrHandle) lock() func() {
	q.device.server.mu.Lock()
	return q.device.server.mu.Unlock
}

func (q *qrHandle) Code() ([]byte, error) {
	if q.device != q.code.shower {
		return nil, errNotShower
	}
	return q.code.encoded, nil
}

// HasBeenScanned reports whether the peer scanned and confirmed our
// code.
func (q *qrHandle) HasBeenScanned() bool {
	defer q.lock()()
	return q.code.scannerConfirmed
}

func (q *qrHandle) IsDone() bool {
	defer q.lock()()
	return q.flow.done
}

// Confirm is called by the scanner once the code checked out, which
// tells the shower it was scanned, and by the shower once its user saw
// the scan succeed on the other screen.
func (q *qrHandle) Confirm(context.Context) error {
	defer q.lock()()
	h, f, d, code := q.device.server, q.flow, q.device, q.code
	if err := f.activeLocked(d); err != nil {
		return err
	}
	if f.reciprocated != nil && f.reciprocated != code {
		return fmt.Errorf("flow %s already confirms another QR code: %w", f.id, errKeyMismatch)
	}

	if d == code.shower {
		if !code.scannerConfirmed || code.showerConfirmed {
			return nil
		}
		code.showerConfirmed = true
	} else {
		if code.scannerConfirmed {
			return nil
		}
		code.scanner = d
		code.scannerConfirmed = true
		f.reciprocated = code
		h.sendLocked(f, d, messaging.EventTypeVerificationStart, map[string]any{
			"method": string(verification.ReciprocateV1),
			"secret": code.secret,
		}, code.shower)
	}

	if code.scannerConfirmed && code.showerConfirmed {
		h.finishLocked(f, d)
	}
	return nil
}
