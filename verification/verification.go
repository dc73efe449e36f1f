// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/verify/lib/clock"
)

// loginRequestName is the display name of verifications between our
// own devices.
const loginRequestName = "Login Request"

// Verification is one verification attempt as seen by a UI. All
// methods are safe for concurrent use and none of them block on the
// driver.
type Verification struct {
	session     *Session
	user        User
	flowID      string
	startTime   time.Time
	receiveTime time.Time
	logger      *slog.Logger

	sasData    slot[SasData]
	qrCode     slot[QrCode]
	cancelInfo slot[CancelInfo]

	// done is closed once the driver has exited and all of its
	// progress has been applied.
	done chan struct{}

	mu                  sync.Mutex
	state               State
	supportedMethods    SupportedMethods
	forceCurrentSession bool
	hideError           bool
	closed              bool

	// commands is the send side of the command channel; nil once the
	// driver has exited or when there never is one.
	commands chan command
	// commandQueue and progressQueue are taken by Start.
	commandQueue  chan command
	progressQueue chan progress
	started       bool

	timer *clock.Timer

	subscribers    map[int]func(Property)
	nextSubscriber int
}

func newVerification(session *Session, user User, flowID string, startTime time.Time, state State, methods SupportedMethods) *Verification {
	logger := session.logger().With("user_id", user.ID.String())
	if flowID != "" {
		logger = logger.With("flow_id", flowID)
	}
	capacity := session.channelCapacity()
	commands := make(chan command, capacity)
	return &Verification{
		session:          session,
		user:             user,
		flowID:           flowID,
		startTime:        startTime,
		receiveTime:      session.clock().Now(),
		logger:           logger,
		done:             make(chan struct{}),
		state:            state,
		supportedMethods: methods,
		commands:         commands,
		commandQueue:     commands,
		progressQueue:    make(chan progress, capacity),
		subscribers:      make(map[int]func(Property)),
	}
}

// NewForError returns a verification that failed before it started.
// It has no flow ID and never runs a driver.
func NewForError(session *Session, user User, startTime time.Time) *Verification {
	verification := newVerification(session, user, "", startTime, StateError, 0)
	verification.commands = nil
	verification.commandQueue = nil
	verification.progressQueue = nil
	close(verification.done)
	return verification
}

// NewForFlowID tracks a request discovered in sync. The verification
// starts in StateRequested assuming a camera; call Start to drive it.
// The request timeout is armed immediately.
func NewForFlowID(flowID string, session *Session, user User, startTime time.Time) *Verification {
	verification := newVerification(session, user, flowID, startTime, StateRequested, WithCamera(true))
	verification.armTimeout()
	return verification
}

// Create sends a new request to user, or to our own other devices when
// user is nil. Failures are logged and produce a NewForError
// verification. Call Start on the result to drive it.
func Create(ctx context.Context, session *Session, user *User) *Verification {
	target := session.User
	if user != nil {
		target = *user
	}
	logger := session.logger().With("user_id", target.ID.String())

	methods := WithCamera(session.hasCamera(ctx))
	request, err := session.Backend.RequestVerification(ctx, target.ID, methods.Methods())
	if err == nil && (request == nil || request.FlowID() == "") {
		err = errors.New("backend returned a request without a flow ID")
	}
	if err != nil {
		logger.Error("starting a verification failed", "error", err)
		return NewForError(session, target, session.clock().Now())
	}

	verification := newVerification(session, target, request.FlowID(), session.clock().Now(), StateRequestSent, methods)
	verification.armTimeout()
	return verification
}

// Start spawns the driver. The driver runs until the protocol reaches
// a terminal state or ctx is cancelled. Start is a no-op for
// verifications without a flow ID or already in a terminal state, and
// a second call only logs a warning.
func (v *Verification) Start(ctx context.Context) {
	v.mu.Lock()
	if v.started {
		v.mu.Unlock()
		v.logger.Warn("verification was already started")
		return
	}
	if v.flowID == "" || v.state.IsTerminal() {
		v.mu.Unlock()
		v.logger.Debug("not starting a finished verification", "state", v.state)
		return
	}
	v.started = true
	commands, progressQueue := v.commandQueue, v.progressQueue
	v.commandQueue, v.progressQueue = nil, nil
	methods := v.supportedMethods
	v.mu.Unlock()

	d := &driver{
		backend:  v.session.Backend,
		session:  v.session,
		logger:   v.logger,
		userID:   v.user.ID,
		flowID:   v.flowID,
		commands: commands,
		progress: progressQueue,
		methods:  methods,
	}

	go v.pump(progressQueue)
	go func() {
		state, err := d.run(ctx)
		progressQueue <- progress{kind: progressResult, state: state, err: err}
		close(progressQueue)
	}()
}

// pump applies driver progress in arrival order. Once the driver has
// exited the expiry timer is disarmed.
func (v *Verification) pump(progressQueue <-chan progress) {
	for message := range progressQueue {
		v.apply(message)
	}
	v.mu.Lock()
	v.commands = nil
	timer := v.timer
	v.timer = nil
	v.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	close(v.done)
}

func (v *Verification) apply(message progress) {
	switch message.kind {
	case progressState:
		v.setDriverState(message.state)
	case progressResult:
		state := message.state
		if message.err != nil {
			v.logger.Error("verification failed", "error", message.err)
			state = StateError
		}
		v.setDriverState(state)
	case progressSupportedMethods:
		v.mu.Lock()
		changed := v.supportedMethods != message.methods
		v.supportedMethods = message.methods
		v.mu.Unlock()
		if changed {
			v.notify(PropertySupportedMethods)
		}
	case progressQrCode:
		if v.qrCode.set(message.qrCode) {
			v.notify(PropertyQrCode)
		}
	case progressSasData:
		if v.sasData.set(message.sasData) {
			v.notify(PropertySasData)
		} else {
			v.logger.Warn("ignoring second SAS data")
		}
	case progressCancelInfo:
		if v.cancelInfo.set(message.cancelInfo) {
			v.notify(PropertyCancelInfo)
		}
	}
}

// setDriverState applies a state from the driver. Terminal states are
// final.
func (v *Verification) setDriverState(state State) {
	v.mu.Lock()
	if v.state.IsTerminal() {
		current := v.state
		v.mu.Unlock()
		if current != state {
			v.logger.Debug("ignoring state change of a finished verification",
				"state", current, "ignored", state)
		}
		return
	}
	changed := v.state != state
	v.state = state
	v.mu.Unlock()
	if changed {
		v.notify(PropertyState)
	}
}

// send delivers a command without blocking.
func (v *Verification) send(kind commandKind, data []byte) {
	v.mu.Lock()
	commands := v.commands
	v.mu.Unlock()
	if commands == nil {
		v.logger.Debug("dropping verification command, driver not running", "command", kind)
		return
	}
	select {
	case commands <- command{kind: kind, data: data}:
	default:
		v.logger.Error("dropping verification command, channel full", "command", kind)
	}
}

// sendIf sends a command when the current state allows it.
func (v *Verification) sendIf(allowed func(State) bool, kind commandKind) {
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()
	if !allowed(state) {
		return
	}
	v.send(kind, nil)
}

// Accept accepts an incoming request. No-op unless StateRequested.
func (v *Verification) Accept() {
	v.sendIf(func(s State) bool { return s == StateRequested }, commandAccept)
}

// Cancel cancels the verification. hideError records whether the UI
// should suppress the resulting notice. A verification that already
// ended keeps its HideError, except a dismissed one.
func (v *Verification) Cancel(hideError bool) {
	v.mu.Lock()
	if v.commands != nil && (!v.state.IsTerminal() || v.state == StateDismissed) {
		v.hideError = hideError
	}
	v.mu.Unlock()
	v.send(commandCancel, nil)
}

// Dismiss moves the verification to StateDismissed, from any state.
func (v *Verification) Dismiss() {
	v.mu.Lock()
	changed := v.state != StateDismissed
	v.state = StateDismissed
	v.mu.Unlock()
	if changed {
		v.notify(PropertyState)
	}
}

// StartSas switches to SAS. No-op in StateSasV1.
func (v *Verification) StartSas() {
	v.sendIf(func(s State) bool { return s != StateSasV1 }, commandStartSas)
}

// ScannedQrCode hands the data our camera decoded to the driver.
func (v *Verification) ScannedQrCode(data []byte) {
	v.send(commandScanned, append([]byte(nil), data...))
}

// ConfirmScanning confirms that the peer shows a successful scan. No-op
// unless StateQrV1Scanned.
func (v *Verification) ConfirmScanning() {
	v.sendIf(func(s State) bool { return s == StateQrV1Scanned }, commandConfirmScanning)
}

// EmojiMatch confirms the SAS. No-op unless StateSasV1.
func (v *Verification) EmojiMatch() {
	v.sendIf(func(s State) bool { return s == StateSasV1 }, commandMatch)
}

// EmojiNotMatch rejects the SAS. No-op unless StateSasV1.
func (v *Verification) EmojiNotMatch() {
	v.sendIf(func(s State) bool { return s == StateSasV1 }, commandNotMatch)
}

// NotifyState makes the driver re-check backend state.
func (v *Verification) NotifyState() {
	v.send(commandNotifyState, nil)
}

// SetForceCurrentSession marks an own-user verification as verifying
// this device. Setting it to true accepts the request.
func (v *Verification) SetForceCurrentSession(force bool) {
	v.mu.Lock()
	if v.forceCurrentSession == force {
		v.mu.Unlock()
		return
	}
	v.forceCurrentSession = force
	v.mu.Unlock()

	if force {
		v.Accept()
	}
	v.notify(PropertyForceCurrentSession)
}

// Close disarms the timeout and cancels the verification with errors
// hidden. It does not wait for the driver.
func (v *Verification) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	timer := v.timer
	v.timer = nil
	v.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	v.Cancel(true)
}

// Subscribe registers fn to be called after a property changes. fn
// runs on the goroutine that made the change and must not block.
func (v *Verification) Subscribe(fn func(Property)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextSubscriber
	v.nextSubscriber++
	v.subscribers[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subscribers, id)
			v.mu.Unlock()
		})
	}
}

func (v *Verification) notify(property Property) {
	v.mu.Lock()
	subscribers := make([]func(Property), 0, len(v.subscribers))
	for id := 0; id < v.nextSubscriber; id++ {
		if fn, ok := v.subscribers[id]; ok {
			subscribers = append(subscribers, fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range subscribers {
		fn(property)
	}
}

// State returns the current state.
func (v *Verification) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mode reports whose device is being verified.
func (v *Verification) Mode() Mode {
	if v.user.ID != v.session.User.ID {
		return ModeUser
	}
	if v.ForceCurrentSession() {
		return ModeCurrentSession
	}
	return ModeOtherSession
}

// IsFinished reports whether the state is terminal.
func (v *Verification) IsFinished() bool { return v.State().IsTerminal() }

// SupportedMethods returns the local methods, narrowed to the
// negotiated set once the request is ready.
func (v *Verification) SupportedMethods() SupportedMethods {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supportedMethods
}

// SasData returns the SAS to compare, once published.
func (v *Verification) SasData() (SasData, bool) { return load(&v.sasData) }

// QrCode returns our QR code, once published.
func (v *Verification) QrCode() (QrCode, bool) { return load(&v.qrCode) }

// CancelInfo returns why the verification was cancelled, once known.
func (v *Verification) CancelInfo() (CancelInfo, bool) { return load(&v.cancelInfo) }

func load[T any](s *slot[T]) (T, bool) {
	if value := s.get(); value != nil {
		return *value, true
	}
	var zero T
	return zero, false
}

// HideError reports whether the UI should suppress error notices.
func (v *Verification) HideError() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hideError
}

// ForceCurrentSession reports whether this verifies the current
// device.
func (v *Verification) ForceCurrentSession() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.forceCurrentSession
}

// DisplayName is "Login Request" for our own devices and the other
// user's name otherwise.
func (v *Verification) DisplayName() string {
	if v.user.ID == v.session.User.ID {
		return loginRequestName
	}
	return v.user.Name()
}

// FlowID is the request's flow ID; empty for NewForError.
func (v *Verification) FlowID() string { return v.flowID }

// User is the other party (our own user for device verification).
func (v *Verification) User() User { return v.user }

// StartTime is when the request was sent.
func (v *Verification) StartTime() time.Time { return v.startTime }

// ReceiveTime is when this object was created.
func (v *Verification) ReceiveTime() time.Time { return v.receiveTime }

// Done is closed once the driver has exited and its final state is
// applied. It is closed at construction for NewForError and never
// closed for a verification that is not started.
func (v *Verification) Done() <-chan struct{} { return v.done }
