// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/verify/lib/config"
	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/verification"
	"github.com/bureau-foundation/verify/verification/loopback"
)

var (
	initiatorUser = ref.MustParseUserID("@alice:loopback")
	otherUser     = ref.MustParseUserID("@bob:loopback")
)

// role is what the CLI does on behalf of a device's user.
type role int

const (
	roleInitiator role = iota
	roleResponder
	// roleBystander sees the request and never answers.
	roleBystander
)

func (r role) String() string {
	switch r {
	case roleInitiator:
		return "initiator"
	case roleResponder:
		return "responder"
	default:
		return "bystander"
	}
}

// member is one loopback device with the verification it tracks.
type member struct {
	role     role
	device   *loopback.Device
	session  *verification.Session
	registry *verification.Registry

	// Guarded by pilot.mu.
	verification *verification.Verification
	acted        map[string]bool
}

// pilot plays the users of every device in a scenario. It is level
// triggered: any change to any verification wakes step, which looks
// at every state and performs each action at most once.
type pilot struct {
	scenario *scenario
	logger   *slog.Logger

	mu      sync.Mutex
	members []*member

	wake chan struct{}
}

// outcome is what a finished run reports.
type outcome struct {
	scenario *scenario
	members  []*member
}

func (o *outcome) member(r role) *member {
	for _, m := range o.members {
		if m.role == r {
			return m
		}
	}
	return nil
}

// runScenario wires a loopback homeserver with one device per role,
// sends the request and plays both users until every verification has
// finished or the scenario times out.
func runScenario(ctx context.Context, cfg *config.Config, sc *scenario, logger *slog.Logger) (*outcome, error) {
	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	server := loopback.New(loopback.Options{Logger: logger, DecimalSas: sc.DecimalSas})
	p := &pilot{scenario: sc, logger: logger, wake: make(chan struct{}, 1)}

	responderUser := initiatorUser
	if sc.Peer == peerUser {
		responderUser = otherUser
	}
	initiatorCamera := false
	if sc.Method == methodQr {
		initiatorCamera = cfg.Verification.Camera
		if !initiatorCamera {
			logger.Warn("camera is disabled in the config; the QR scenario will fall back to SAS")
		}
	}

	newMember := func(r role, userID ref.UserID, deviceID string, camera bool) *member {
		device := server.AddDevice(userID, ref.MustParseDeviceID(deviceID))
		session := &verification.Session{
			User:    verification.User{ID: userID},
			Backend: device,
			Camera:  verification.StaticCamera(camera),
			Logger:  logger.With("device_id", deviceID),
			Timeouts: verification.Timeouts{
				Request:  timeouts.Request,
				Received: timeouts.Received,
				Creation: timeouts.Creation,
			},
			ChannelCapacity: cfg.Verification.ChannelCapacity,
		}
		m := &member{
			role:     r,
			device:   device,
			session:  session,
			registry: verification.NewRegistry(session),
			acted:    make(map[string]bool),
		}
		p.members = append(p.members, m)
		return m
	}

	initiator := newMember(roleInitiator, initiatorUser, "LAPTOP", initiatorCamera)
	newMember(roleResponder, responderUser, "PHONE", false)
	for index := range sc.ExtraDevices {
		newMember(roleBystander, responderUser, fmt.Sprintf("DEVICE%d", index+1), false)
	}
	defer func() {
		for _, m := range p.members {
			m.registry.Close()
		}
	}()

	for _, m := range p.members {
		m.registry.Watch(func(v *verification.Verification) { p.adopt(m, v) })
		go p.syncLoop(ctx, m)
	}

	var target *verification.User
	if responderUser != initiatorUser {
		target = &verification.User{ID: responderUser}
	}
	created := verification.Create(ctx, initiator.session, target)
	if created.IsFinished() {
		return nil, fmt.Errorf("scenario %q: requesting the verification failed", sc.Name)
	}
	if initiator.registry.Add(created) {
		created.Start(ctx)
	}
	logger.Info("verification requested", "scenario", sc.Name, "flow_id", created.FlowID())

	for !p.finished() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scenario %q did not finish within %s: %w", sc.Name, sc.timeout, ctx.Err())
		case <-p.wake:
		}
		p.step()
	}
	return &outcome{scenario: sc, members: p.members}, nil
}

// syncLoop feeds a device's sync stream to its registry.
func (p *pilot) syncLoop(ctx context.Context, m *member) {
	m.device.Run(ctx, m.registry)
}

// adopt starts tracking v for m. Each member tracks one verification.
func (p *pilot) adopt(m *member, v *verification.Verification) {
	p.mu.Lock()
	if m.verification != nil {
		p.mu.Unlock()
		return
	}
	m.verification = v
	p.mu.Unlock()

	v.Subscribe(func(verification.Property) { p.signal() })
	p.signal()
}

func (p *pilot) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// finished reports whether every device has a finished verification.
func (p *pilot) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.verification == nil || !m.verification.IsFinished() {
			return false
		}
	}
	return true
}

// once runs action the first time key is seen for m.
func (p *pilot) once(m *member, key string, action func()) {
	p.mu.Lock()
	done := m.acted[key]
	m.acted[key] = true
	p.mu.Unlock()
	if !done {
		p.logger.Debug("acting", "role", m.role.String(), "device_id", m.device.DeviceID().String(), "action", key)
		action()
	}
}

func (p *pilot) tracked(r role) (*member, *verification.Verification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.role == r {
			return m, m.verification
		}
	}
	return nil, nil
}

// step performs what the users would do given the current states.
func (p *pilot) step() {
	sc := p.scenario
	initiator, outgoing := p.tracked(roleInitiator)
	responder, incoming := p.tracked(roleResponder)
	if outgoing == nil || incoming == nil {
		return
	}

	if sc.CancelAt != nil && incoming.State() == *sc.CancelAt {
		p.once(responder, "cancel", func() { incoming.Cancel(false) })
		return
	}

	if incoming.State() == verification.StateRequested {
		p.once(responder, "accept", incoming.Accept)
	}

	sides := []struct {
		member *member
		mine   *verification.Verification
		theirs *verification.Verification
	}{
		{initiator, outgoing, incoming},
		{responder, incoming, outgoing},
	}
	for _, side := range sides {
		switch side.mine.State() {
		case verification.StateSasV1:
			p.compareSas(side.member, side.mine, side.theirs)
		case verification.StateQrV1Scan, verification.StateQrV1Show:
			p.scanPeer(side.member, side.mine, side.theirs)
		case verification.StateQrV1Scanned:
			p.once(side.member, "confirm-scanning", side.mine.ConfirmScanning)
		}
	}
}

// compareSas matches the SAS once both screens show one. The
// answering user rejects it when the scenario asks for a mismatch.
func (p *pilot) compareSas(m *member, mine, theirs *verification.Verification) {
	ours, ok := mine.SasData()
	if !ok {
		return
	}
	peer, ok := theirs.SasData()
	if !ok {
		return
	}
	if !sasEqual(ours, peer) || (p.scenario.Mismatch && m.role == roleResponder) {
		p.once(m, "sas-mismatch", mine.EmojiNotMatch)
		return
	}
	if !p.scenario.Mismatch {
		p.once(m, "sas-match", mine.EmojiMatch)
	}
}

// scanPeer points the camera of a device that can scan at the code
// the other device shows. Only the requesting device has a camera.
func (p *pilot) scanPeer(m *member, mine, theirs *verification.Verification) {
	if m.role != roleInitiator || theirs.State() != verification.StateQrV1Show {
		return
	}
	code, ok := theirs.QrCode()
	if !ok {
		return
	}
	p.once(m, "scan", func() { mine.ScannedQrCode(code.Data) })
}

func sasEqual(a, b verification.SasData) bool {
	return slices.Equal(a.Emoji, b.Emoji) && slices.Equal(a.Decimals, b.Decimals)
}
