// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/verify/lib/clock"
	"github.com/bureau-foundation/verify/lib/ref"
	"github.com/bureau-foundation/verify/messaging"
	"github.com/bureau-foundation/verify/verification"
)

// Options configures a Homeserver.
type Options struct {
	// ServerName is the server part of generated room IDs. Defaults to
	// "loopback".
	ServerName string

	// Clock stamps requests and events. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// DecimalSas makes every SAS exchange offer decimals only.
	DecimalSas bool
}

// Homeserver routes verification traffic between registered devices.
// All flow state lives here behind one mutex; device handles only
// carry a point of view.
type Homeserver struct {
	serverName string
	clock      clock.Clock
	logger     *slog.Logger
	decimalSas bool

	mu      sync.Mutex
	devices []*Device
	flows   map[string]*flow
	rooms   map[userPair]ref.RoomID
}

type userPair struct {
	first, second ref.UserID
}

func pairOf(a, b ref.UserID) userPair {
	if b.String() < a.String() {
		a, b = b, a
	}
	return userPair{first: a, second: b}
}

// New returns an empty homeserver.
func New(options Options) *Homeserver {
	if options.ServerName == "" {
		options.ServerName = "loopback"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Homeserver{
		serverName: options.ServerName,
		clock:      options.Clock,
		logger:     options.Logger,
		decimalSas: options.DecimalSas,
		flows:      make(map[string]*flow),
		rooms:      make(map[userPair]ref.RoomID),
	}
}

// AddDevice registers a device. Registering a device also gives its
// user a crypto identity. Adding the same device twice returns the
// existing one.
func (h *Homeserver) AddDevice(userID ref.UserID, deviceID ref.DeviceID) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, device := range h.devices {
		if device.userID == userID && device.deviceID == deviceID {
			return device
		}
	}
	device := &Device{
		server:   h,
		userID:   userID,
		deviceID: deviceID,
		timeline: make(map[ref.RoomID][]messaging.Event),
		wake:     make(chan struct{}, 1),
	}
	h.devices = append(h.devices, device)
	return device
}

// FlowCount returns the number of flows the homeserver has seen.
func (h *Homeserver) FlowCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.flows)
}

func (h *Homeserver) hasIdentityLocked(userID ref.UserID) bool {
	for _, device := range h.devices {
		if device.userID == userID {
			return true
		}
	}
	return false
}

// devicesOfLocked returns the devices of userID except skip.
func (h *Homeserver) devicesOfLocked(userID ref.UserID, skip *Device) []*Device {
	var devices []*Device
	for _, device := range h.devices {
		if device.userID == userID && device != skip {
			devices = append(devices, device)
		}
	}
	return devices
}

// directRoomLocked returns the direct room of two users, creating it on
// first use.
func (h *Homeserver) directRoomLocked(a, b ref.UserID) ref.RoomID {
	pair := pairOf(a, b)
	if roomID, ok := h.rooms[pair]; ok {
		return roomID
	}
	roomID := ref.MustParseRoomID("!" + uuid.NewString() + ":" + h.serverName)
	h.rooms[pair] = roomID
	h.logger.Debug("created direct room", "room_id", roomID.String(),
		"first", pair.first.String(), "second", pair.second.String())
	return roomID
}

// newFlowLocked creates a flow started by initiator towards target.
func (h *Homeserver) newFlowLocked(initiator *Device, target ref.UserID, methods []verification.Method) *flow {
	f := &flow{
		initiator:        initiator,
		target:           target,
		initiatorMethods: methods,
		timestamp:        h.clock.Now(),
		codes:            make(map[*Device]*qrCode),
	}

	content := map[string]any{
		"from_device": initiator.deviceID.String(),
		"methods":     methodStrings(methods),
	}
	if target == initiator.userID {
		f.id = uuid.NewString()
		h.flows[f.id] = f
		content["transaction_id"] = f.id
		content["timestamp"] = f.timestamp.UnixMilli()
		for _, device := range h.devicesOfLocked(target, initiator) {
			device.pushToDeviceLocked(messaging.ToDeviceEvent{
				Type:    messaging.EventTypeVerificationRequest,
				Sender:  initiator.userID,
				Content: content,
			})
		}
		return f
	}

	f.roomID = h.directRoomLocked(initiator.userID, target)
	f.id = "$" + uuid.NewString()
	h.flows[f.id] = f
	content["msgtype"] = messaging.MsgTypeVerificationRequest
	content["body"] = initiator.userID.String() + " is requesting to verify your key"
	content["to"] = target.String()
	h.pushRoomEventLocked(f, initiator, messaging.Event{
		EventID: ref.MustParseEventID(f.id),
		Type:    messaging.EventTypeRoomMessage,
		Content: content,
	})
	return f
}

// sendLocked delivers a follow-up event of f from sender. To-device
// events go to the given recipients; in-room events go to every member
// device except the sender.
func (h *Homeserver) sendLocked(f *flow, sender *Device, eventType ref.EventType, content map[string]any, recipients ...*Device) {
	if content == nil {
		content = make(map[string]any)
	}
	content["from_device"] = sender.deviceID.String()

	if f.roomID.IsZero() {
		content["transaction_id"] = f.id
		for _, device := range recipients {
			if device == nil || device == sender {
				continue
			}
			device.pushToDeviceLocked(messaging.ToDeviceEvent{
				Type:    eventType,
				Sender:  sender.userID,
				Content: content,
			})
		}
		return
	}

	content["m.relates_to"] = map[string]any{
		"rel_type": "m.reference",
		"event_id": f.id,
	}
	h.pushRoomEventLocked(f, sender, messaging.Event{
		EventID: ref.MustParseEventID("$" + uuid.NewString()),
		Type:    eventType,
		Content: content,
	})
}

func (h *Homeserver) pushRoomEventLocked(f *flow, sender *Device, event messaging.Event) {
	event.Sender = sender.userID
	event.RoomID = f.roomID
	event.OriginServerTS = h.clock.Now().UnixMilli()
	for _, device := range h.devices {
		if device == sender {
			continue
		}
		if device.userID != f.initiator.userID && device.userID != f.target {
			continue
		}
		device.pushRoomEventLocked(event)
	}
}

// flowLocked finds a flow visible to userID.
func (h *Homeserver) flowLocked(userID ref.UserID, flowID string) (*flow, error) {
	f, ok := h.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("flow %s: %w", flowID, verification.ErrRequestNotFound)
	}
	if f.initiator.userID != userID && f.target != userID {
		return nil, fmt.Errorf("flow %s with %s: %w", flowID, userID, verification.ErrRequestNotFound)
	}
	return f, nil
}

func methodStrings(methods []verification.Method) []string {
	strings := make([]string, len(methods))
	for index, method := range methods {
		strings[index] = string(method)
	}
	return strings
}

// nextBatchLocked returns a sync token for device.
func nextBatchLocked(device *Device) string {
	device.batch++
	return "s" + strconv.Itoa(device.batch)
}
