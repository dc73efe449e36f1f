// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the subset of testing.TB used by the helpers.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
//
//	state := testutil.RequireReceive(t, states, 5*time.Second, "waiting for state")
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, msgAndArgs ...any) V {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without sending a value: %s", formatMessage(msgAndArgs))
		}
		return v
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed (or receive a value) within
// timeout, or fails the test.
//
//	testutil.RequireClosed(t, verification.Done(), 5*time.Second, "driver exit")
func RequireClosed(t T, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, formatMessage(msgAndArgs))
	}
}

// RequireNoReceive fails the test if a value (or close) is ready on ch.
// It does not wait.
func RequireNoReceive[V any](t T, ch <-chan V, msgAndArgs ...any) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel unexpectedly closed: %s", formatMessage(msgAndArgs))
		}
		t.Fatalf("unexpected value %v: %s", v, formatMessage(msgAndArgs))
	default:
	}
}

// formatMessage formats optional message arguments into a string.
// Accepts either a single value or a format string followed by args.
func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "(no message)"
	}
	if len(msgAndArgs) == 1 {
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("%v", msgAndArgs)
}
