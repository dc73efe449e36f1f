// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// DeviceID is a Matrix device identifier. Device IDs are opaque
// server-assigned strings with no internal structure; the type exists
// so a device ID is never passed where a flow ID is expected.
type DeviceID struct {
	id string
}

// ParseDeviceID constructs a DeviceID from a raw string. Returns an
// error if the string is empty.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("device ID is empty")
	}
	return DeviceID{id: raw}, nil
}

// String returns the raw device ID string.
func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is the zero value.
func (d DeviceID) IsZero() bool { return d.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	*d = DeviceID{id: string(data)}
	return nil
}
