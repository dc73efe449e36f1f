// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfter(t *testing.T) {
	t.Run("fires on advance", func(t *testing.T) {
		clock := Fake(epoch)
		channel := clock.After(3 * time.Second)

		clock.Advance(2 * time.Second)
		select {
		case <-channel:
			t.Fatal("After fired before deadline")
		default:
		}

		clock.Advance(time.Second)
		select {
		case <-channel:
		default:
			t.Fatal("After did not fire at deadline")
		}
	})

	t.Run("non-positive duration fires immediately", func(t *testing.T) {
		clock := Fake(epoch)
		for _, duration := range []time.Duration{0, -time.Second} {
			select {
			case <-clock.After(duration):
			default:
				t.Fatalf("After(%v) should fire immediately", duration)
			}
		}
		if clock.PendingCount() != 0 {
			t.Fatalf("PendingCount = %d, want 0", clock.PendingCount())
		}
	})
}

func TestFakeClockAfterFunc(t *testing.T) {
	t.Run("invokes callback once", func(t *testing.T) {
		clock := Fake(epoch)
		var calls atomic.Int32
		clock.AfterFunc(time.Minute, func() { calls.Add(1) })

		clock.Advance(59 * time.Second)
		if calls.Load() != 0 {
			t.Fatal("callback ran before deadline")
		}
		clock.Advance(time.Second)
		clock.Advance(time.Hour)
		if calls.Load() != 1 {
			t.Fatalf("callback ran %d times, want 1", calls.Load())
		}
	})

	t.Run("zero duration runs synchronously", func(t *testing.T) {
		clock := Fake(epoch)
		called := false
		timer := clock.AfterFunc(0, func() { called = true })
		if !called {
			t.Fatal("AfterFunc(0) did not run the callback synchronously")
		}
		if timer.Stop() {
			t.Fatal("Stop on an already-run timer returned true")
		}
	})

	t.Run("stop prevents firing", func(t *testing.T) {
		clock := Fake(epoch)
		called := false
		timer := clock.AfterFunc(time.Second, func() { called = true })
		if !timer.Stop() {
			t.Fatal("first Stop returned false")
		}
		if timer.Stop() {
			t.Fatal("second Stop returned true")
		}
		clock.Advance(time.Minute)
		if called {
			t.Fatal("stopped timer fired")
		}
	})

	t.Run("stop after fire", func(t *testing.T) {
		clock := Fake(epoch)
		timer := clock.AfterFunc(time.Second, func() {})
		clock.Advance(time.Second)
		if timer.Stop() {
			t.Fatal("Stop after fire returned true")
		}
	})
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var mu sync.Mutex
	var order []int
	record := func(n int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, n)
		}
	}
	clock.AfterFunc(3*time.Second, record(3))
	clock.AfterFunc(1*time.Second, record(1))
	clock.AfterFunc(2*time.Second, record(2))

	clock.Advance(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-clock.After(time.Second)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Second)
	<-done
}

func TestFakeClockPendingCount(t *testing.T) {
	clock := Fake(epoch)
	stopped := clock.AfterFunc(time.Second, func() {})
	clock.AfterFunc(time.Minute, func() {})
	clock.After(time.Second)

	if got := clock.PendingCount(); got != 3 {
		t.Fatalf("PendingCount = %d, want 3", got)
	}
	stopped.Stop()
	if got := clock.PendingCount(); got != 2 {
		t.Fatalf("PendingCount after Stop = %d, want 2", got)
	}
	clock.Advance(time.Second)
	if got := clock.PendingCount(); got != 1 {
		t.Fatalf("PendingCount after Advance = %d, want 1", got)
	}
}

func TestClockImplementations(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
