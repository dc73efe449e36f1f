// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/messaging"
	"github.com/bureau-foundation/verify/verification"
)

// Matrix cancel codes used by the homeserver.
const (
	CancelUser          = "m.user"
	CancelAccepted      = "m.accepted"
	CancelMismatchedSas = "m.mismatched_sas"
	CancelKeyMismatch   = "m.key_mismatch"
)

var (
	errFlowCancelled = errors.New("verification flow was cancelled")
	errNotReady      = errors.New("verification flow is not ready")
	errNotResponder  = errors.New("device cannot answer this verification flow")
)

// flow is the server-side state of one verification. Every field is
// guarded by Homeserver.mu.
type flow struct {
	id     string
	roomID ref.RoomID

	initiator *Device
	target    ref.UserID
	responder *Device

	initiatorMethods []verification.Method
	responderMethods []verification.Method
	timestamp        time.Time

	cancel *cancellation
	done   bool

	sas   *sasExchange
	codes map[*Device]*qrCode
	// reciprocated is the code whose scan both sides are confirming.
	reciprocated *qrCode
}

type cancellation struct {
	by     *Device
	code   string
	reason string
}

// participatesLocked reports whether d is one of the two devices
// taking part once the flow is answered.
func (f *flow) participatesLocked(d *Device) bool {
	return d == f.initiator || (f.responder != nil && d == f.responder)
}

// peerLocked returns the device on the other end, or nil while the
// request is unanswered and d is the initiator.
func (f *flow) peerLocked(d *Device) *Device {
	if d == f.initiator {
		return f.responder
	}
	return f.initiator
}

// recipientsLocked lists the devices that should hear from d. Before
// the request is answered every device that saw it does.
func (f *flow) recipientsLocked(h *Homeserver, d *Device) []*Device {
	if f.responder != nil {
		return []*Device{f.peerLocked(d)}
	}
	recipients := []*Device{f.initiator}
	for _, device := range h.devicesOfLocked(f.target, f.initiator) {
		if device != d {
			recipients = append(recipients, device)
		}
	}
	return recipients
}

func (f *flow) cancelInfoLocked(d *Device) *verification.CancelInfo {
	if f.cancel == nil {
		return nil
	}
	return &verification.CancelInfo{
		Code:          f.cancel.code,
		Reason:        f.cancel.reason,
		CancelledByUs: f.cancel.by == d,
	}
}

// cancelLocked cancels f on behalf of d and tells the other side.
// Later cancellations keep the first reason.
func (h *Homeserver) cancelLocked(f *flow, d *Device, code, reason string) {
	if f.cancel != nil || f.done {
		return
	}
	recipients := f.recipientsLocked(h, d)
	f.cancel = &cancellation{by: d, code: code, reason: reason}
	h.logger.Debug("verification cancelled",
		"flow_id", f.id, "device_id", d.deviceID.String(), "code", code)
	h.sendLocked(f, d, messaging.EventTypeVerificationCancel, map[string]any{
		"code":   code,
		"reason": reason,
	}, recipients...)
}

// finishLocked marks f done once both sides have confirmed.
func (h *Homeserver) finishLocked(f *flow, d *Device) {
	f.done = true
	h.logger.Debug("verification done", "flow_id", f.id)
	h.sendLocked(f, d, messaging.EventTypeVerificationDone, nil, f.peerLocked(d))
}

// request is a device's view of a flow.
type request struct {
	device *Device
	flow   *flow
}

var _ verification.Request = (*request)(nil)

func (r *request) lock() func() {
	r.device.server.mu.Lock()
	return r.device.server.mu.Unlock
}

func (r *request) FlowID() string { return r.flow.id }

func (r *request) OtherUserID() ref.UserID {
	if r.device == r.flow.initiator {
		return r.flow.target
	}
	return r.flow.initiator.userID
}

func (r *request) WeStarted() bool { return r.device == r.flow.initiator }

func (r *request) IsReady() bool {
	defer r.lock()()
	return r.flow.responder != nil
}

func (r *request) IsCancelled() bool {
	defer r.lock()()
	return r.flow.cancel != nil
}

// IsPassive is true for devices that watch a flow without taking part:
// other devices of the target once one of them answered, and other
// devices of the initiator's account.
func (r *request) IsPassive() bool {
	defer r.lock()()
	f, d := r.flow, r.device
	if f.participatesLocked(d) {
		return false
	}
	return f.responder != nil || (d.userID == f.initiator.userID && f.target != d.userID)
}

func (r *request) IsDone() bool {
	defer r.lock()()
	return r.flow.done
}

func (r *request) CancelInfo() *verification.CancelInfo {
	defer r.lock()()
	return r.flow.cancelInfoLocked(r.device)
}

func (r *request) TheirSupportedMethods() []verification.Method {
	defer r.lock()()
	if r.device == r.flow.initiator {
		return slices.Clone(r.flow.responderMethods)
	}
	return slices.Clone(r.flow.initiatorMethods)
}

// AcceptWithMethods answers the request from this device. The other
// devices of the target account are told the request was accepted
// elsewhere.
func (r *request) AcceptWithMethods(_ context.Context, methods []verification.Method) error {
	defer r.lock()()
	h, f, d := r.device.server, r.flow, r.device

	switch {
	case f.cancel != nil:
		return errFlowCancelled
	case d == f.initiator || d.userID != f.target:
		return errNotResponder
	case f.responder == d:
		return nil
	case f.responder != nil:
		return fmt.Errorf("flow %s was answered by device %s: %w", f.id, f.responder.deviceID, errNotResponder)
	}

	others := h.devicesOfLocked(f.target, d)
	f.responder = d
	f.responderMethods = slices.Clone(methods)
	h.logger.Debug("verification ready", "flow_id", f.id, "device_id", d.deviceID.String())
	h.sendLocked(f, d, messaging.EventTypeVerificationReady, map[string]any{
		"methods": methodStrings(methods),
	}, f.initiator)

	if f.roomID.IsZero() {
		var passive []*Device
		for _, other := range others {
			if other != f.initiator {
				passive = append(passive, other)
			}
		}
		h.sendLocked(f, d, messaging.EventTypeVerificationCancel, map[string]any{
			"code":   CancelAccepted,
			"reason": "The verification was accepted on another device.",
		}, passive...)
	}
	return nil
}

// GenerateQrCode returns this device's code. Nil when the peer did not
// advertise scanning.
func (r *request) GenerateQrCode(context.Context) (verification.QrVerification, error) {
	defer r.lock()()
	f, d := r.flow, r.device
	if err := f.activeLocked(d); err != nil {
		return nil, err
	}
	if !slices.Contains(f.theirMethodsLocked(d), verification.QrCodeScanV1) {
		return nil, nil
	}
	code, ok := f.codes[d]
	if !ok {
		var err error
		if code, err = newQrCode(f, d); err != nil {
			return nil, err
		}
		f.codes[d] = code
	}
	return &qrHandle{device: d, flow: f, code: code}, nil
}

// ScanQrCode checks a code shown by the peer. A code of another flow,
// or one whose secret does not match, cancels the flow.
func (r *request) ScanQrCode(_ context.Context, data []byte) (verification.QrVerification, error) {
	defer r.lock()()
	h, f, d := r.device.server, r.flow, r.device
	if err := f.activeLocked(d); err != nil {
		return nil, err
	}
	payload, err := decodeQrPayload(data)
	if err != nil {
		return nil, err
	}
	code := f.codes[f.peerLocked(d)]
	if code == nil || !code.matches(f, payload) {
		h.cancelLocked(f, d, CancelKeyMismatch, "The scanned QR code does not belong to this verification.")
		return nil, fmt.Errorf("scanning QR code of flow %s: %w", payload.FlowID, errKeyMismatch)
	}
	return &qrHandle{device: d, flow: f, code: code}, nil
}

// StartSas starts the SAS exchange, or joins the one the peer started.
func (r *request) StartSas(context.Context) (verification.Sas, error) {
	defer r.lock()()
	h, f, d := r.device.server, r.flow, r.device
	if err := f.activeLocked(d); err != nil {
		return nil, err
	}
	if !slices.Contains(f.theirMethodsLocked(d), verification.SasV1) {
		return nil, nil
	}
	if f.sas == nil {
		f.sas = newSasExchange(d)
		h.logger.Debug("SAS started", "flow_id", f.id, "device_id", d.deviceID.String())
		h.sendLocked(f, d, messaging.EventTypeVerificationStart, map[string]any{
			"method": string(verification.SasV1),
		}, f.peerLocked(d))
	}
	return &sasHandle{device: d, flow: f}, nil
}

func (r *request) Cancel(context.Context) error {
	defer r.lock()()
	r.device.server.cancelLocked(r.flow, r.device, CancelUser, "The user cancelled the verification.")
	return nil
}

// activeLocked fails unless d takes part in a ready, live flow.
func (f *flow) activeLocked(d *Device) error {
	switch {
	case f.cancel != nil:
		return errFlowCancelled
	case f.responder == nil:
		return errNotReady
	case !f.participatesLocked(d):
		return errNotResponder
	}
	return nil
}

func (f *flow) theirMethodsLocked(d *Device) []verification.Method {
	if d == f.initiator {
		return f.responderMethods
	}
	return f.initiatorMethods
}
