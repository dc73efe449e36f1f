// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/verify/verification"
)

// Scenario methods.
const (
	methodSas = "sas"
	methodQr  = "qr"
)

// Scenario peers.
const (
	peerOwn  = "own"
	peerUser = "user"
)

// scenario describes one run. Both users are played by the CLI.
type scenario struct {
	// Name labels the output.
	Name string `json:"name"`

	// Method is "sas" or "qr". For "qr" only the requesting device
	// has a camera, so the answering device shows its code.
	Method string `json:"method"`

	// Peer is "own" to verify another device of the same account, or
	// "user" to verify another account through a direct room.
	Peer string `json:"peer"`

	// DecimalSas makes the SAS use numbers instead of emoji.
	DecimalSas bool `json:"decimal_sas"`

	// Mismatch makes the answering user reject the SAS.
	Mismatch bool `json:"mismatch"`

	// CancelAt makes the answering user cancel once its verification
	// reaches this state.
	CancelAt *verification.State `json:"cancel_at"`

	// ExtraDevices adds devices to the answering account that see the
	// request but never answer it.
	ExtraDevices int `json:"extra_devices"`

	// Timeout bounds the whole run. Default: 30s
	Timeout string `json:"timeout"`

	// Expect is the state the answering verification must end in.
	// Default: completed, or cancelled when Mismatch or CancelAt is
	// set.
	Expect *verification.State `json:"expect"`

	timeout time.Duration
}

// defaultScenario is an emoji SAS between two devices of one account.
func defaultScenario() *scenario {
	sc := &scenario{}
	if err := sc.normalize(); err != nil {
		panic("bureau-verify: default scenario is invalid: " + err.Error())
	}
	return sc
}

// parseScenario strips JSONC comments and trailing commas from data,
// then decodes it strictly.
func parseScenario(data []byte) (*scenario, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var sc scenario
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.normalize(); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &sc, nil
}

// readScenario loads a JSONC scenario file.
func readScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sc, err := parseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// normalize applies defaults and validates.
func (sc *scenario) normalize() error {
	if sc.Method == "" {
		sc.Method = methodSas
	}
	if sc.Peer == "" {
		sc.Peer = peerOwn
	}
	if sc.Timeout == "" {
		sc.Timeout = "30s"
	}
	if sc.Name == "" {
		sc.Name = sc.Method + "-" + sc.Peer
	}

	switch sc.Method {
	case methodSas, methodQr:
	default:
		return fmt.Errorf("method must be %q or %q, got %q", methodSas, methodQr, sc.Method)
	}
	switch sc.Peer {
	case peerOwn, peerUser:
	default:
		return fmt.Errorf("peer must be %q or %q, got %q", peerOwn, peerUser, sc.Peer)
	}
	if sc.ExtraDevices < 0 {
		return fmt.Errorf("extra_devices must not be negative, got %d", sc.ExtraDevices)
	}
	if sc.CancelAt != nil {
		switch *sc.CancelAt {
		case verification.StateRequested, verification.StateSasV1,
			verification.StateQrV1Show, verification.StateQrV1Scanned:
		default:
			return fmt.Errorf("cancel_at must be a state the answering device passes through "+
				"(requested, sas-v1, qr-v1-show, qr-v1-scanned), got %s", *sc.CancelAt)
		}
	}
	if sc.Mismatch && sc.Method != methodSas {
		return fmt.Errorf("mismatch needs method %q", methodSas)
	}

	timeout, err := time.ParseDuration(sc.Timeout)
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", sc.Timeout)
	}
	sc.timeout = timeout

	if sc.Expect == nil {
		expect := verification.StateCompleted
		if sc.Mismatch || sc.CancelAt != nil {
			expect = verification.StateCancelled
		}
		sc.Expect = &expect
	}
	return nil
}
