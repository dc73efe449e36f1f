// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/verify/lib/ref"
)

// driver runs one verification protocol to completion. It lives on
// its own goroutine and is the only user of the backend handles.
type driver struct {
	backend Backend
	session *Session
	logger  *slog.Logger

	userID  ref.UserID
	flowID  string
	request Request

	commands <-chan command
	progress chan<- progress

	// methods starts as the local capabilities and only narrows.
	methods SupportedMethods
}

// run attaches to the request and drives it to a terminal state.
func (d *driver) run(ctx context.Context) (State, error) {
	request, err := d.backend.Request(ctx, d.userID, d.flowID)
	if err != nil {
		return StateError, fmt.Errorf("looking up request %s: %w", d.flowID, err)
	}
	if request == nil {
		return StateError, fmt.Errorf("looking up request %s: %w", d.flowID, ErrRequestNotFound)
	}
	d.request = request

	if request.WeStarted() {
		d.logger.Debug("waiting for the request to become ready")
		if result := d.wait(ctx, waitSpec{flavor: waitFull, until: request.IsReady}); result != nil {
			return result.state, result.err
		}
	} else {
		if request.IsPassive() {
			return StatePassive, nil
		}

		d.logger.Debug("waiting for the user to accept or cancel")
		if result := d.wait(ctx, waitSpec{flavor: waitFull}); result != nil {
			return result.state, result.err
		}

		// The camera is probed now rather than at construction: the
		// user may have plugged one in meanwhile.
		if !d.session.hasCamera(ctx) {
			d.methods &^= MethodQRScan
		}
		if err := request.AcceptWithMethods(ctx, d.methods.Methods()); err != nil {
			return StateError, fmt.Errorf("accepting request: %w", err)
		}
	}

	d.methods = d.methods.Intersect(ParseRemoteMethods(request.TheirSupportedMethods()))
	d.logger.Debug("negotiated verification methods", "methods", d.methods)
	d.publish(ctx, progress{kind: progressSupportedMethods, methods: d.methods})

	switch {
	case d.methods.Has(MethodQRShow):
		return d.showQrCode(ctx)
	case d.methods.Has(MethodQRScan):
		return d.scanQrCode(ctx)
	default:
		return d.startSas(ctx)
	}
}

// showQrCode displays our code and waits for the peer to scan it.
func (d *driver) showQrCode(ctx context.Context) (State, error) {
	qr, err := d.request.GenerateQrCode(ctx)
	if err != nil {
		return StateError, fmt.Errorf("generating QR code: %w", err)
	}
	if qr == nil {
		return StateError, fmt.Errorf("generating QR code: %w", ErrQrUnavailable)
	}

	data, err := qr.Code()
	if err != nil {
		d.logger.Error("unable to render QR code for verification", "error", err)
		return StateError, nil
	}
	d.publish(ctx, progress{kind: progressQrCode, qrCode: QrCode{Data: data}})
	d.setState(ctx, StateQrV1Show)

	if result := d.wait(ctx, waitSpec{flavor: waitFull, until: qr.HasBeenScanned}); result != nil {
		return result.state, result.err
	}
	d.setState(ctx, StateQrV1Scanned)

	d.logger.Debug("waiting for the user to confirm the scan")
	if result := d.wait(ctx, waitSpec{flavor: waitFull}); result != nil {
		return result.state, result.err
	}
	if err := qr.Confirm(ctx); err != nil {
		return StateError, fmt.Errorf("confirming QR verification: %w", err)
	}

	d.logger.Debug("waiting for the verification to be done")
	if result := d.wait(ctx, waitSpec{flavor: waitFull, until: qr.IsDone}); result != nil {
		return result.state, result.err
	}
	return StateCompleted, nil
}

// scanQrCode waits for our camera to decode the peer's code. Only a
// Scanned command, SAS, or a terminal event leaves this loop.
func (d *driver) scanQrCode(ctx context.Context) (State, error) {
	d.setState(ctx, StateQrV1Scan)
	for {
		d.logger.Debug("waiting for the user to scan a QR code")
		if result := d.wait(ctx, waitSpec{flavor: waitFull}); result != nil {
			return result.state, result.err
		}
	}
}

func (d *driver) finishScanning(ctx context.Context, data []byte) (State, error) {
	qr, err := d.request.ScanQrCode(ctx, data)
	if err != nil {
		return StateError, fmt.Errorf("scanning QR code: %w", err)
	}
	if qr == nil {
		return StateError, fmt.Errorf("scanning QR code: %w", ErrQrUnavailable)
	}
	if err := qr.Confirm(ctx); err != nil {
		return StateError, fmt.Errorf("confirming scanned QR code: %w", err)
	}

	d.logger.Debug("waiting for the verification to be done")
	if result := d.wait(ctx, waitSpec{flavor: waitNoInterception, until: qr.IsDone}); result != nil {
		return result.state, result.err
	}
	return StateCompleted, nil
}

// startSas attaches to a running SAS exchange, or starts one.
func (d *driver) startSas(ctx context.Context) (State, error) {
	sas, err := d.backend.Sas(ctx, d.userID, d.flowID)
	if err != nil {
		return StateError, fmt.Errorf("looking up SAS exchange: %w", err)
	}
	if sas == nil {
		sas, err = d.request.StartSas(ctx)
		if err != nil {
			return StateError, fmt.Errorf("starting SAS: %w", err)
		}
		if sas == nil {
			return StateError, fmt.Errorf("starting SAS: %w", ErrSasUnavailable)
		}
	}
	return d.continueSas(ctx, sas)
}

func (d *driver) continueSas(ctx context.Context, sas Sas) (State, error) {
	if err := sas.Accept(ctx); err != nil {
		return StateError, fmt.Errorf("accepting SAS: %w", err)
	}

	d.logger.Debug("waiting for the SAS to be presentable")
	if result := d.wait(ctx, waitSpec{flavor: waitNoInterception, until: sas.CanBePresented}); result != nil {
		return result.state, result.err
	}

	var data SasData
	if emoji, ok := sas.Emoji(); ok {
		data.Emoji = emoji[:]
	} else if decimals, ok := sas.Decimals(); ok {
		data.Decimals = decimals[:]
	} else {
		d.logger.Error("SAS verification failed: backend offers neither emoji nor decimals")
		return StateError, nil
	}
	d.publish(ctx, progress{kind: progressSasData, sasData: data})
	d.setState(ctx, StateSasV1)

	d.logger.Debug("waiting for the user to compare the SAS")
	if result := d.wait(ctx, waitSpec{flavor: waitNoInterception}); result != nil {
		return result.state, result.err
	}
	if err := sas.Confirm(ctx); err != nil {
		return StateError, fmt.Errorf("confirming SAS: %w", err)
	}

	d.logger.Debug("waiting for the verification to be done")
	if result := d.wait(ctx, waitSpec{flavor: waitNoInterception, until: sas.IsDone}); result != nil {
		return result.state, result.err
	}
	return StateCompleted, nil
}

func (d *driver) cancelRequest(ctx context.Context) (State, error) {
	if err := d.request.Cancel(ctx); err != nil {
		return StateError, fmt.Errorf("cancelling request: %w", err)
	}
	d.forwardCancelInfo(ctx, d.request.CancelInfo())
	return StateCancelled, nil
}

// sasMismatch reports a mismatched SAS. Without a running exchange
// there is nothing to tell the backend.
func (d *driver) sasMismatch(ctx context.Context) (State, error) {
	sas, err := d.backend.Sas(ctx, d.userID, d.flowID)
	if err != nil {
		return StateError, fmt.Errorf("looking up SAS exchange: %w", err)
	}
	if sas != nil {
		if err := sas.Mismatch(ctx); err != nil {
			return StateError, fmt.Errorf("reporting SAS mismatch: %w", err)
		}
		d.forwardCancelInfo(ctx, sas.CancelInfo())
	}
	return StateCancelled, nil
}

func (d *driver) forwardCancelInfo(ctx context.Context, info *CancelInfo) {
	if info == nil {
		return
	}
	d.publish(ctx, progress{kind: progressCancelInfo, cancelInfo: *info})
}

func (d *driver) setState(ctx context.Context, state State) {
	d.publish(ctx, progress{kind: progressState, state: state})
}

// publish hands a progress message to the pump. The pump drains the
// channel until it is closed, so this only blocks while the channel
// is full.
func (d *driver) publish(ctx context.Context, message progress) {
	select {
	case d.progress <- message:
	case <-ctx.Done():
	}
}
