// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the verification driver
// and its front object. Production code injects Real(); tests inject
// Fake() so that request timeouts fire deterministically.
//
// Nothing outside this package calls time.Now, time.After, or
// time.AfterFunc directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f. The returned Timer
	// cancels the pending call with Stop. If d <= 0, f is called
	// immediately in a new goroutine (real) or synchronously (fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
