// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Verification requests expire ten minutes after they were sent, and
// the front object arms a one-shot timer for whatever remains of that
// window. Code that needs the current time or a deferred callback
// accepts a Clock instead of calling the time package:
//
//	session := &verification.Session{Clock: clock.Real(), ...}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := &verification.Session{Clock: c, ...}
//	c.WaitForTimers(1)        // the verification armed its timeout
//	c.Advance(10 * time.Minute) // fire it deterministically
//
// # FakeClock Synchronization
//
// After and AfterFunc on a FakeClock register pending waiters. Use
// WaitForTimers to block until a given number of waiters exist before
// calling Advance; this removes the race between a goroutine arming a
// timer and the test moving time forward.
package clock
