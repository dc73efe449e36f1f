// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/messaging"
	"github.com/bureau-foundation/verify/verification"
)

// Device is one logged-in device. It is the verification.Backend of
// that device and the source of its sync stream.
type Device struct {
	server   *Homeserver
	userID   ref.UserID
	deviceID ref.DeviceID

	// Guarded by server.mu.
	toDevice []messaging.ToDeviceEvent
	timeline map[ref.RoomID][]messaging.Event
	batch    int

	// wake holds a token while events are pending.
	wake chan struct{}
}

var _ verification.Backend = (*Device)(nil)

// UserID returns the owning account.
func (d *Device) UserID() ref.UserID { return d.userID }

// DeviceID returns the device ID.
func (d *Device) DeviceID() ref.DeviceID { return d.deviceID }

// Wake is signalled when Sync has something to return.
func (d *Device) Wake() <-chan struct{} { return d.wake }

// Sync drains the pending events into a sync response.
func (d *Device) Sync() *messaging.SyncResponse {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()

	response := &messaging.SyncResponse{NextBatch: nextBatchLocked(d)}
	response.ToDevice.Events = d.toDevice
	d.toDevice = nil
	if len(d.timeline) > 0 {
		response.Rooms.Join = make(map[ref.RoomID]messaging.JoinedRoom, len(d.timeline))
		for roomID, events := range d.timeline {
			response.Rooms.Join[roomID] = messaging.JoinedRoom{
				Timeline: messaging.TimelineSection{Events: events},
			}
		}
		d.timeline = make(map[ref.RoomID][]messaging.Event)
	}
	return response
}

// Run feeds the sync stream into registry until ctx is done.
func (d *Device) Run(ctx context.Context, registry *verification.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			registry.HandleSync(ctx, d.Sync())
		}
	}
}

func (d *Device) pushToDeviceLocked(event messaging.ToDeviceEvent) {
	d.toDevice = append(d.toDevice, event)
	d.signal()
}

func (d *Device) pushRoomEventLocked(event messaging.Event) {
	d.timeline[event.RoomID] = append(d.timeline[event.RoomID], event)
	d.signal()
}

func (d *Device) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RequestVerification starts a flow towards userID. Requests to our
// own account go to every other device of it.
func (d *Device) RequestVerification(_ context.Context, userID ref.UserID, methods []verification.Method) (verification.Request, error) {
	h := d.server
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasIdentityLocked(userID) {
		return nil, fmt.Errorf("requesting verification of %s: %w", userID, verification.ErrNoCryptoIdentity)
	}
	f := h.newFlowLocked(d, userID, methods)
	h.logger.Debug("verification requested",
		"flow_id", f.id, "user_id", userID.String(), "device_id", d.deviceID.String())
	return &request{device: d, flow: f}, nil
}

// Request returns this device's view of a flow with userID.
func (d *Device) Request(_ context.Context, userID ref.UserID, flowID string) (verification.Request, error) {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()

	f, err := d.server.flowLocked(userID, flowID)
	if err != nil {
		return nil, err
	}
	if f.initiator.userID != d.userID && f.target != d.userID {
		return nil, fmt.Errorf("flow %s: %w", flowID, verification.ErrRequestNotFound)
	}
	return &request{device: d, flow: f}, nil
}

// Sas returns the SAS exchange of a flow, or nil before one started.
func (d *Device) Sas(_ context.Context, userID ref.UserID, flowID string) (verification.Sas, error) {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()

	f, err := d.server.flowLocked(userID, flowID)
	if err != nil {
		return nil, err
	}
	if f.sas == nil || !f.participatesLocked(d) {
		return nil, nil
	}
	return &sasHandle{device: d, flow: f}, nil
}
