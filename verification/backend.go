// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/verify/lib/clock"
	"github.com/bureau-foundation/verify/lib/ref"
)

// Backend is the Matrix end-to-end encryption layer: it owns the
// verification requests and their SAS and QR sub-protocols. Handles it
// returns are only used from the driver goroutine.
type Backend interface {
	// RequestVerification sends a new request to userID advertising
	// methods. Returns ErrNoCryptoIdentity when userID has no identity.
	RequestVerification(ctx context.Context, userID ref.UserID, methods []Method) (Request, error)

	// Request looks up an in-flight request. Returns an error matching
	// ErrRequestNotFound when there is none.
	Request(ctx context.Context, userID ref.UserID, flowID string) (Request, error)

	// Sas returns the SAS exchange running for the flow, or nil when
	// none has started.
	Sas(ctx context.Context, userID ref.UserID, flowID string) (Sas, error)
}

// Request is one verification request.
type Request interface {
	FlowID() string
	OtherUserID() ref.UserID
	WeStarted() bool

	IsReady() bool
	IsCancelled() bool
	// IsPassive reports whether another device of ours answered the
	// request, so this device no longer takes part.
	IsPassive() bool
	IsDone() bool
	CancelInfo() *CancelInfo

	// TheirSupportedMethods is the remote advertisement, known once
	// the request is ready.
	TheirSupportedMethods() []Method

	AcceptWithMethods(ctx context.Context, methods []Method) error
	// GenerateQrCode returns nil when QR display is not possible.
	GenerateQrCode(ctx context.Context) (QrVerification, error)
	// ScanQrCode returns nil when the scanned data cannot be used.
	ScanQrCode(ctx context.Context, data []byte) (QrVerification, error)
	// StartSas returns nil when SAS is not possible.
	StartSas(ctx context.Context) (Sas, error)
	Cancel(ctx context.Context) error
}

// QrVerification is a QR exchange, either shown or scanned by us.
type QrVerification interface {
	// Code returns the payload to render. Only meaningful for a
	// verification we show.
	Code() ([]byte, error)
	HasBeenScanned() bool
	IsDone() bool
	Confirm(ctx context.Context) error
}

// Sas is a short authentication string exchange.
type Sas interface {
	Accept(ctx context.Context) error
	CanBePresented() bool
	Emoji() ([7]Emoji, bool)
	Decimals() ([3]uint16, bool)
	Confirm(ctx context.Context) error
	Mismatch(ctx context.Context) error
	IsDone() bool
	CancelInfo() *CancelInfo
}

// Camera reports whether this device can currently scan QR codes.
type Camera interface {
	HasCamera(ctx context.Context) (bool, error)
}

// StaticCamera is a Camera with a fixed answer.
type StaticCamera bool

// HasCamera returns the fixed answer.
func (c StaticCamera) HasCamera(context.Context) (bool, error) { return bool(c), nil }

// Default timeouts.
const (
	// DefaultRequestTimeout bounds a whole request, from its timestamp.
	DefaultRequestTimeout = 10 * time.Minute
	// DefaultReceivedTimeout bounds an unanswered received request.
	DefaultReceivedTimeout = 2 * time.Minute
	// DefaultCreationTimeout is the age past which requests seen in
	// sync are ignored.
	DefaultCreationTimeout = 10 * time.Minute
	// DefaultChannelCapacity bounds both driver channels.
	DefaultChannelCapacity = 100
)

// Timeouts configures request expiry. Zero fields use the defaults.
type Timeouts struct {
	Request  time.Duration
	Received time.Duration
	Creation time.Duration
}

// Session bundles what every verification of one logged-in account
// needs.
type Session struct {
	// User is the account owner.
	User User

	Backend Backend

	// Camera is probed when accepting and creating requests. Nil
	// means no camera.
	Camera Camera

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Timeouts Timeouts

	// ChannelCapacity sizes the command and progress channels of each
	// verification. Zero uses DefaultChannelCapacity.
	ChannelCapacity int
}

func (s *Session) clock() clock.Clock {
	if s.Clock == nil {
		return clock.Real()
	}
	return s.Clock
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Session) timeouts() Timeouts {
	timeouts := s.Timeouts
	if timeouts.Request <= 0 {
		timeouts.Request = DefaultRequestTimeout
	}
	if timeouts.Received <= 0 {
		timeouts.Received = DefaultReceivedTimeout
	}
	if timeouts.Creation <= 0 {
		timeouts.Creation = DefaultCreationTimeout
	}
	return timeouts
}

func (s *Session) channelCapacity() int {
	if s.ChannelCapacity <= 0 {
		return DefaultChannelCapacity
	}
	return s.ChannelCapacity
}

// hasCamera probes the camera. Errors count as no camera.
func (s *Session) hasCamera(ctx context.Context) bool {
	if s.Camera == nil {
		return false
	}
	available, err := s.Camera.HasCamera(ctx)
	if err != nil {
		s.logger().Debug("camera probe failed", "error", err)
		return false
	}
	return available
}
