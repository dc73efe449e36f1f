// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/verify/lib/clock"
	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/lib/testutil"
)

var (
	ownUser   = User{ID: ref.MustParseUserID("@alice:example.org"), DisplayName: "Alice"}
	otherUser = User{ID: ref.MustParseUserID("@bob:example.org"), DisplayName: "Bob"}

	testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testEmoji = [7]Emoji{
		{"🐶", "Dog"}, {"🐱", "Cat"}, {"🦁", "Lion"}, {"🐎", "Horse"},
		{"🦄", "Unicorn"}, {"🐷", "Pig"}, {"🐘", "Elephant"},
	}
)

// fakeBackend is an in-memory Backend. Every handle shares the
// backend's mutex so that tests can flip predicates while the driver
// reads them.
type fakeBackend struct {
	mu sync.Mutex

	requests  map[string]*fakeRequest
	activeSas map[string]*fakeSas

	// created is returned by RequestVerification.
	created    *fakeRequest
	createErr  error
	requestErr error
	sasErr     error

	// calls records every mutating call in order.
	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		requests:  make(map[string]*fakeRequest),
		activeSas: make(map[string]*fakeSas),
	}
}

func (b *fakeBackend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) countCalls(call string) int {
	count := 0
	for _, candidate := range b.Calls() {
		if candidate == call {
			count++
		}
	}
	return count
}

// addRequest registers a request for flowID with otherUser.
func (b *fakeBackend) addRequest(flowID string, weStarted bool, theirMethods ...Method) *fakeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	request := &fakeRequest{
		backend:      b,
		flowID:       flowID,
		other:        otherUser.ID,
		weStarted:    weStarted,
		theirMethods: theirMethods,
		qr:           &fakeQr{backend: b, code: []byte("qr:" + flowID)},
		scanQr:       &fakeQr{backend: b},
		sas:          newFakeSas(b),
	}
	b.requests[flowID] = request
	return request
}

func (b *fakeBackend) update(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

func (b *fakeBackend) RequestVerification(_ context.Context, _ ref.UserID, methods []Method) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("request-verification")
	if b.createErr != nil {
		return nil, b.createErr
	}
	if b.created == nil {
		return nil, ErrNoCryptoIdentity
	}
	b.created.advertised = methods
	return b.created, nil
}

func (b *fakeBackend) Request(_ context.Context, _ ref.UserID, flowID string) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requestErr != nil {
		return nil, b.requestErr
	}
	request, ok := b.requests[flowID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return request, nil
}

func (b *fakeBackend) Sas(_ context.Context, _ ref.UserID, flowID string) (Sas, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sasErr != nil {
		return nil, b.sasErr
	}
	if sas, ok := b.activeSas[flowID]; ok {
		return sas, nil
	}
	return nil, nil
}

type fakeRequest struct {
	backend *fakeBackend

	flowID       string
	other        ref.UserID
	weStarted    bool
	theirMethods []Method

	ready, cancelled, passive, done bool
	cancelInfo                      *CancelInfo

	advertised []Method
	accepted   []Method
	scanned    []byte

	qr     *fakeQr
	scanQr *fakeQr
	sas    *fakeSas

	acceptErr   error
	generateErr error
	noQr        bool
	noSas       bool
}

func (r *fakeRequest) FlowID() string          { return r.flowID }
func (r *fakeRequest) OtherUserID() ref.UserID { return r.other }
func (r *fakeRequest) WeStarted() bool         { return r.weStarted }

func (r *fakeRequest) IsReady() bool {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.ready
}

func (r *fakeRequest) IsCancelled() bool {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.cancelled
}

func (r *fakeRequest) IsPassive() bool {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.passive
}

func (r *fakeRequest) IsDone() bool {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.done
}

func (r *fakeRequest) CancelInfo() *CancelInfo {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.cancelInfo
}

func (r *fakeRequest) TheirSupportedMethods() []Method {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.theirMethods
}

func (r *fakeRequest) AcceptWithMethods(_ context.Context, methods []Method) error {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.record("accept-with-methods")
	if r.acceptErr != nil {
		return r.acceptErr
	}
	r.accepted = methods
	r.ready = true
	return nil
}

func (r *fakeRequest) GenerateQrCode(context.Context) (QrVerification, error) {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.record("generate-qr-code")
	if r.generateErr != nil {
		return nil, r.generateErr
	}
	if r.noQr {
		return nil, nil
	}
	return r.qr, nil
}

func (r *fakeRequest) ScanQrCode(_ context.Context, data []byte) (QrVerification, error) {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.record("scan-qr-code")
	r.scanned = data
	if r.noQr {
		return nil, nil
	}
	return r.scanQr, nil
}

func (r *fakeRequest) StartSas(context.Context) (Sas, error) {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.record("start-sas")
	if r.noSas {
		return nil, nil
	}
	r.backend.activeSas[r.flowID] = r.sas
	return r.sas, nil
}

func (r *fakeRequest) Cancel(context.Context) error {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.record("cancel")
	r.cancelled = true
	r.cancelInfo = &CancelInfo{Code: "m.user", Reason: "The user cancelled the verification.", CancelledByUs: true}
	return nil
}

type fakeQr struct {
	backend *fakeBackend

	code           []byte
	codeErr        error
	scannedByPeer  bool
	done           bool
	confirmedCount int

	// pendingAfterConfirm keeps IsDone false after Confirm.
	pendingAfterConfirm bool
	// onConfirm runs inside Confirm with the backend locked.
	onConfirm func()
}

func (q *fakeQr) Code() ([]byte, error) {
	q.backend.mu.Lock()
	defer q.backend.mu.Unlock()
	return q.code, q.codeErr
}

func (q *fakeQr) HasBeenScanned() bool {
	q.backend.mu.Lock()
	defer q.backend.mu.Unlock()
	return q.scannedByPeer
}

func (q *fakeQr) IsDone() bool {
	q.backend.mu.Lock()
	defer q.backend.mu.Unlock()
	return q.done
}

func (q *fakeQr) Confirm(context.Context) error {
	q.backend.mu.Lock()
	defer q.backend.mu.Unlock()
	q.backend.record("qr-confirm")
	q.confirmedCount++
	q.done = !q.pendingAfterConfirm
	if q.onConfirm != nil {
		q.onConfirm()
	}
	return nil
}

type fakeSas struct {
	backend *fakeBackend

	presentable bool
	emoji       *[7]Emoji
	decimals    *[3]uint16
	done        bool
	cancelInfo  *CancelInfo
}

func newFakeSas(backend *fakeBackend) *fakeSas {
	emoji := testEmoji
	return &fakeSas{backend: backend, presentable: true, emoji: &emoji}
}

func (s *fakeSas) Accept(context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.record("sas-accept")
	return nil
}

func (s *fakeSas) CanBePresented() bool {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.presentable
}

func (s *fakeSas) Emoji() ([7]Emoji, bool) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if s.emoji == nil {
		return [7]Emoji{}, false
	}
	return *s.emoji, true
}

func (s *fakeSas) Decimals() ([3]uint16, bool) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if s.decimals == nil {
		return [3]uint16{}, false
	}
	return *s.decimals, true
}

func (s *fakeSas) Confirm(context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.record("sas-confirm")
	s.done = true
	return nil
}

func (s *fakeSas) Mismatch(context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.record("sas-mismatch")
	s.cancelInfo = &CancelInfo{Code: "m.mismatched_sas", Reason: "The short auth string did not match.", CancelledByUs: true}
	return nil
}

func (s *fakeSas) IsDone() bool {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.done
}

func (s *fakeSas) CancelInfo() *CancelInfo {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.cancelInfo
}

// testSession returns a session over backend with a fake clock at
// testEpoch.
func testSession(backend *fakeBackend, camera bool) (*Session, *clock.FakeClock) {
	fakeClock := clock.Fake(testEpoch)
	return &Session{
		User:    ownUser,
		Backend: backend,
		Camera:  StaticCamera(camera),
		Clock:   fakeClock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, fakeClock
}

// watchStates reports every state the verification enters.
func watchStates(v *Verification) <-chan State {
	states := make(chan State, 64)
	v.Subscribe(func(property Property) {
		if property == PropertyState {
			states <- v.State()
		}
	})
	return states
}

// waitForState reads states until want arrives or the test fails.
func waitForState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	for {
		got := testutil.RequireReceive(t, states, 5*time.Second, "waiting for state %s", want)
		if got == want {
			return
		}
		if got.IsTerminal() {
			t.Fatalf("reached terminal state %s while waiting for %s", got, want)
		}
	}
}

// waitDone waits for the driver to exit and returns the final state.
func waitDone(t *testing.T, v *Verification) State {
	t.Helper()
	testutil.RequireClosed(t, v.Done(), 5*time.Second, "waiting for driver exit")
	return v.State()
}

var errBackendDown = errors.New("backend down")
