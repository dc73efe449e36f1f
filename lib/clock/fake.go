// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called.
//
// AfterFunc callbacks run synchronously during Advance in deadline
// order. Do not call Advance from within a callback.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is a pending After channel or AfterFunc callback.
type fakeWaiter struct {
	deadline time.Time

	// Exactly one of channel and callback is set.
	channel  chan time.Time
	callback func()

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock has advanced by
// d. If d <= 0, the channel receives immediately and no waiter is
// registered.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addLocked(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

// AfterFunc schedules f to run once the clock has advanced by d. If
// d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.addLocked(waiter)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			c.waitersChanged.Broadcast()
			return true
		},
	}
}

func (c *FakeClock) addLocked(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls at or before the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		toFire := c.collectExpired(target)
		if len(toFire) == 0 {
			return
		}
		sort.Slice(toFire, func(i, j int) bool {
			return toFire[i].deadline.Before(toFire[j].deadline)
		})
		for _, waiter := range toFire {
			if waiter.callback != nil {
				waiter.callback()
				continue
			}
			select {
			case waiter.channel <- target:
			default:
			}
		}
	}
}

// collectExpired removes and returns the waiters due at target.
func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toFire, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		switch {
		case waiter.stopped:
		case !waiter.deadline.After(target):
			waiter.fired = true
			toFire = append(toFire, waiter)
		default:
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining
	if len(toFire) > 0 {
		c.waitersChanged.Broadcast()
	}
	return toFire
}

// WaitForTimers blocks until at least n waiters are pending.
//
//	go verification.Start(ctx)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(10 * time.Minute)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of waiters that have neither fired
// nor been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			count++
		}
	}
	return count
}
