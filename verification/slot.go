// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import "sync/atomic"

// slot is a write-once cell. The driver's pump writes it at most once;
// any goroutine may read it.
type slot[T any] struct {
	value atomic.Pointer[T]
}

// set stores v if the slot is empty and reports whether it did.
func (s *slot[T]) set(v T) bool {
	return s.value.CompareAndSwap(nil, &v)
}

// get returns the stored value, or nil.
func (s *slot[T]) get() *T {
	return s.value.Load()
}
