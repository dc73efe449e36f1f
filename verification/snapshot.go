// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"time"

	"github.com/bureau-foundation/verify/lib/codec"
	"github.com/bureau-foundation/verify/lib/ref"
)

// Snapshot is the observable state of a Verification at one instant,
// for out-of-process UIs. It encodes deterministically, so equal
// snapshots produce equal bytes.
type Snapshot struct {
	FlowID      string      `cbor:"flow_id"`
	UserID      ref.UserID  `cbor:"user_id"`
	DisplayName string      `cbor:"display_name"`
	State       State       `cbor:"state"`
	Mode        Mode        `cbor:"mode"`
	Methods     []Method    `cbor:"methods,omitempty"`
	SasData     *SasData    `cbor:"sas_data,omitempty"`
	QrCode      []byte      `cbor:"qr_code,omitempty"`
	CancelInfo  *CancelInfo `cbor:"cancel_info,omitempty"`
	HideError   bool        `cbor:"hide_error"`
	StartTime   time.Time   `cbor:"start_time"`
	ReceiveTime time.Time   `cbor:"receive_time"`
}

// Snapshot captures the current observable state.
func (v *Verification) Snapshot() Snapshot {
	snapshot := Snapshot{
		FlowID:      v.flowID,
		UserID:      v.user.ID,
		DisplayName: v.DisplayName(),
		State:       v.State(),
		Mode:        v.Mode(),
		Methods:     v.SupportedMethods().Methods(),
		HideError:   v.HideError(),
		StartTime:   v.startTime,
		ReceiveTime: v.receiveTime,
	}
	if data, ok := v.SasData(); ok {
		snapshot.SasData = &data
	}
	if code, ok := v.QrCode(); ok {
		snapshot.QrCode = code.Data
	}
	if info, ok := v.CancelInfo(); ok {
		snapshot.CancelInfo = &info
	}
	return snapshot
}

// Marshal encodes the snapshot as CBOR.
func (s Snapshot) Marshal() ([]byte, error) {
	return codec.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	err := codec.Unmarshal(data, &snapshot)
	return snapshot, err
}
