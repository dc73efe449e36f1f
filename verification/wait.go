// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"errors"
	"fmt"
)

// errCommandsClosed means the command channel was closed under a
// running driver.
var errCommandsClosed = errors.New("verification command channel closed")

// waitFlavor selects which interruptions a wait honors.
type waitFlavor uint8

const (
	// waitFull is used before SAS can have started. It jumps into SAS
	// whenever the backend reports an exchange for the flow, and it
	// honors StartSas and Scanned.
	waitFull waitFlavor = iota
	// waitNoInterception is used once SAS or scanning owns the flow.
	// It never looks for SAS and ignores StartSas and Scanned.
	waitNoInterception
)

func (f waitFlavor) String() string {
	if f == waitFull {
		return "full"
	}
	return "no-interception"
}

// waitSpec describes one wait point.
type waitSpec struct {
	flavor waitFlavor
	// until, when set, is the backend condition that ends the wait.
	// A nil until waits for a confirming user command instead.
	until func() bool
}

// action is what the driver does with a command received while
// waiting.
type action uint8

const (
	actionIgnore action = iota
	actionRecheck
	actionResume
	actionPassive
	actionCancelRequest
	actionSasMismatch
	actionStartSas
	actionFinishScanning
)

func (a action) String() string {
	switch a {
	case actionIgnore:
		return "ignore"
	case actionRecheck:
		return "recheck"
	case actionResume:
		return "resume"
	case actionPassive:
		return "passive"
	case actionCancelRequest:
		return "cancel-request"
	case actionSasMismatch:
		return "sas-mismatch"
	case actionStartSas:
		return "start-sas"
	case actionFinishScanning:
		return "finish-scanning"
	default:
		return "unknown"
	}
}

// waitConditions is the backend state sampled when a command arrives.
type waitConditions struct {
	passive bool
	// satisfied is true when the wait has no until predicate or the
	// predicate now holds.
	satisfied bool
}

// react maps a command to an action. Accept, ConfirmScanning and Match
// only end a wait that is satisfied: a wait for backend state cannot
// be short-circuited by a stale confirmation.
func react(flavor waitFlavor, kind commandKind, conditions waitConditions) action {
	switch kind {
	case commandCancel:
		return actionCancelRequest
	case commandNotMatch:
		return actionSasMismatch
	case commandAccept, commandConfirmScanning:
		if conditions.satisfied {
			return actionResume
		}
		return actionRecheck
	case commandMatch:
		if conditions.passive {
			return actionPassive
		}
		if conditions.satisfied {
			return actionResume
		}
		return actionIgnore
	case commandStartSas:
		if flavor == waitFull {
			return actionStartSas
		}
		return actionIgnore
	case commandScanned:
		if flavor == waitFull {
			return actionFinishScanning
		}
		return actionIgnore
	case commandNotifyState:
		return actionRecheck
	default:
		return actionIgnore
	}
}

// outcome is a terminal driver result. A nil *outcome from wait means
// the protocol continues.
type outcome struct {
	state State
	err   error
}

func finish(state State, err error) *outcome {
	return &outcome{state: state, err: err}
}

// wait blocks until spec is satisfied or the verification ends. Each
// iteration checks, in order: an active SAS exchange (full flavor
// only), passive supersession, remote cancellation, the until
// predicate. Only then does it block for the next command.
func (d *driver) wait(ctx context.Context, spec waitSpec) *outcome {
	for {
		if spec.flavor == waitFull {
			sas, err := d.backend.Sas(ctx, d.userID, d.flowID)
			if err != nil {
				return finish(StateError, fmt.Errorf("looking up SAS exchange: %w", err))
			}
			if sas != nil {
				d.logger.Debug("SAS exchange started, switching to SAS")
				return finish(d.continueSas(ctx, sas))
			}
		}

		if d.request.IsPassive() {
			return finish(StatePassive, nil)
		}
		if d.request.IsCancelled() {
			d.forwardCancelInfo(ctx, d.request.CancelInfo())
			return finish(StateCancelled, nil)
		}
		if spec.until != nil && spec.until() {
			return nil
		}

		var received command
		select {
		case <-ctx.Done():
			return finish(StateError, ctx.Err())
		case next, ok := <-d.commands:
			if !ok {
				return finish(StateError, errCommandsClosed)
			}
			received = next
		}

		conditions := waitConditions{satisfied: spec.until == nil}
		if received.kind == commandMatch {
			conditions.passive = d.request.IsPassive()
		}
		if !conditions.satisfied {
			conditions.satisfied = spec.until()
		}

		next := react(spec.flavor, received.kind, conditions)
		switch next {
		case actionResume:
			return nil
		case actionPassive:
			return finish(StatePassive, nil)
		case actionCancelRequest:
			return finish(d.cancelRequest(ctx))
		case actionSasMismatch:
			return finish(d.sasMismatch(ctx))
		case actionStartSas:
			return finish(d.startSas(ctx))
		case actionFinishScanning:
			return finish(d.finishScanning(ctx, received.data))
		case actionIgnore:
			d.logger.Debug("ignoring verification command",
				"command", received.kind, "wait", spec.flavor)
		case actionRecheck:
		}
	}
}
