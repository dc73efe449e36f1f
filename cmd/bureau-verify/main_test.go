// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/verify/lib/config"
	"github.com/bureau-foundation/verify/verification"
)

func runForTest(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv(config.EnvironmentVariable, "")
	var out, errOut bytes.Buffer
	err = run(args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestRunDefaultScenario(t *testing.T) {
	stdout, stderr, err := runForTest(t)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
	}
	for _, want := range []string{"scenario sas-own", "initiator", "responder", "completed", "sas: "} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "cancelled by") {
		t.Errorf("completed run reported a cancellation:\n%s", stdout)
	}
}

func TestRunScenarioFiles(t *testing.T) {
	tests := []struct {
		file string
		want []string
	}{
		{
			file: "qr-own.jsonc",
			want: []string{"scenario qr-own", "bystander", "passive", "completed"},
		},
		{
			file: "mismatch-user.jsonc",
			want: []string{"@bob:loopback", "cancelled by us: m.mismatched_sas", "cancelled by them: m.mismatched_sas"},
		},
	}
	for _, test := range tests {
		t.Run(test.file, func(t *testing.T) {
			stdout, stderr, err := runForTest(t, "--scenario", filepath.Join("testdata", test.file))
			if err != nil {
				t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
			}
			for _, want := range test.want {
				if !strings.Contains(stdout, want) {
					t.Errorf("output missing %q:\n%s", want, stdout)
				}
			}
		})
	}
}

func TestRunCancelBeforeAnswer(t *testing.T) {
	path := writeFile(t, "cancel.jsonc", `{"cancel_at": "requested", "extra_devices": 2}`)
	stdout, stderr, err := runForTest(t, "-s", path)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
	}
	if count := strings.Count(stdout, "cancelled by them: m.user"); count != 3 {
		t.Errorf("%d devices saw the remote cancel, want the initiator and both bystanders:\n%s", count, stdout)
	}
	if !strings.Contains(stdout, "cancelled by us: m.user") {
		t.Errorf("answering device did not report its own cancel:\n%s", stdout)
	}
}

func TestRunUnexpectedOutcome(t *testing.T) {
	path := writeFile(t, "expect.jsonc", `{"expect": "cancelled"}`)
	_, stderr, err := runForTest(t, "--scenario", path)

	var exit *exitError
	if !errors.As(err, &exit) || exit.ExitCode() != 1 {
		t.Fatalf("run error = %v, want exit code 1", err)
	}
	if !strings.Contains(stderr, "ended in completed, expected cancelled") {
		t.Errorf("stderr does not explain the failure:\n%s", stderr)
	}
}

func TestRunSnapshot(t *testing.T) {
	stdout, stderr, err := runForTest(t, "--snapshot")
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
	}
	for _, want := range []string{"snapshot initiator: {", "snapshot responder: {", `"completed"`, `"@alice:loopback"`} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, `"hide_error": true`) {
		t.Errorf("a finished run was reported with errors hidden:\n%s", stdout)
	}
}

func TestRunVersion(t *testing.T) {
	stdout, _, err := runForTest(t, "--version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout, "bureau-verify ") {
		t.Errorf("version output = %q", stdout)
	}
}

func TestRunConfig(t *testing.T) {
	t.Run("text debug logging", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "logging:\n  level: debug\n  format: text\n")
		_, stderr, err := runForTest(t, "--config", path)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !strings.Contains(stderr, "level=DEBUG") {
			t.Errorf("stderr has no text debug records:\n%s", stderr)
		}
	})

	t.Run("camera disabled falls back to SAS", func(t *testing.T) {
		configPath := writeFile(t, "config.yaml", "verification:\n  camera: false\nlogging:\n  level: error\n")
		stdout, stderr, err := runForTest(t, "--config", configPath, "-s", filepath.Join("testdata", "qr-own.jsonc"))
		if err != nil {
			t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
		}
		if !strings.Contains(stdout, "sas: ") {
			t.Errorf("expected a SAS without a camera:\n%s", stdout)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "verification:\n  channel_capacity: -1\n")
		_, _, err := runForTest(t, "--config", path)
		if err == nil || !strings.Contains(err.Error(), "channel_capacity") {
			t.Errorf("run error = %v, want a channel_capacity error", err)
		}
	})
}

func TestRunRejectsArguments(t *testing.T) {
	if _, _, err := runForTest(t, "extra"); err == nil {
		t.Error("run accepted a positional argument")
	}
	if _, _, err := runForTest(t, "--no-such-flag"); err == nil {
		t.Error("run accepted an unknown flag")
	}
}

func TestParseScenario(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		sc, err := parseScenario([]byte(`{}`))
		if err != nil {
			t.Fatalf("parseScenario: %v", err)
		}
		if sc.Method != methodSas || sc.Peer != peerOwn || sc.Name != "sas-own" {
			t.Errorf("defaults = %q %q %q", sc.Method, sc.Peer, sc.Name)
		}
		if sc.timeout != 30*time.Second {
			t.Errorf("timeout = %s, want 30s", sc.timeout)
		}
		if *sc.Expect != verification.StateCompleted {
			t.Errorf("expect = %s, want completed", *sc.Expect)
		}
	})

	t.Run("comments and trailing commas", func(t *testing.T) {
		sc, err := parseScenario([]byte(`{
			// line comment
			"method": "qr", /* block */
			"cancel_at": "qr-v1-show",
		}`))
		if err != nil {
			t.Fatalf("parseScenario: %v", err)
		}
		if sc.Method != methodQr || *sc.CancelAt != verification.StateQrV1Show {
			t.Errorf("parsed %q cancel_at %s", sc.Method, *sc.CancelAt)
		}
		if *sc.Expect != verification.StateCancelled {
			t.Errorf("expect = %s, want cancelled when cancelling", *sc.Expect)
		}
	})

	invalid := []struct {
		name  string
		input string
		want  string
	}{
		{"unknown field", `{"methd": "sas"}`, "unknown field"},
		{"method", `{"method": "pgp"}`, "method must be"},
		{"peer", `{"peer": "everyone"}`, "peer must be"},
		{"state name", `{"cancel_at": "nowhere"}`, "unknown verification state"},
		{"cancel state", `{"cancel_at": "completed"}`, "cancel_at must be"},
		{"mismatch with qr", `{"method": "qr", "mismatch": true}`, "mismatch needs"},
		{"extra devices", `{"extra_devices": -1}`, "extra_devices"},
		{"timeout", `{"timeout": "soon"}`, "timeout"},
		{"zero timeout", `{"timeout": "0s"}`, "timeout must be positive"},
	}
	for _, test := range invalid {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseScenario([]byte(test.input))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("parseScenario error = %v, want it to mention %q", err, test.want)
			}
		})
	}
}

func TestReadScenarioMissingFile(t *testing.T) {
	_, err := readScenario(filepath.Join(t.TempDir(), "missing.jsonc"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("readScenario error = %v, want os.ErrNotExist", err)
	}
}
