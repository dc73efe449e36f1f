// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"sync"

	"github.com/bureau-foundation/verify/lib/ref"
)

// flowKey identifies a verification. Flow IDs are only unique per
// user.
type flowKey struct {
	userID ref.UserID
	flowID string
}

type registryEntry struct {
	verification *Verification
	unsubscribe  func()
}

// Registry is the insertion-ordered set of live verifications of one
// session. Verifications leave it when they finish.
type Registry struct {
	session *Session

	mu      sync.Mutex
	entries []*registryEntry
	byKey   map[flowKey]*registryEntry

	// roomRequests tracks the newest in-room request per room.
	roomRequests map[ref.RoomID]*Verification

	watchers    map[int]func(*Verification)
	nextWatcher int
}

// NewRegistry returns an empty registry for session.
func NewRegistry(session *Session) *Registry {
	return &Registry{
		session:      session,
		byKey:        make(map[flowKey]*registryEntry),
		roomRequests: make(map[ref.RoomID]*Verification),
		watchers:     make(map[int]func(*Verification)),
	}
}

// Add inserts v. Finished verifications and duplicates are not added.
// Reports whether v was added.
func (r *Registry) Add(v *Verification) bool {
	if v.IsFinished() {
		return false
	}
	key := flowKey{userID: v.User().ID, flowID: v.FlowID()}

	unsubscribe := v.Subscribe(func(property Property) {
		if property == PropertyState && v.IsFinished() {
			r.Remove(v)
		}
	})

	r.mu.Lock()
	if _, exists := r.byKey[key]; exists {
		r.mu.Unlock()
		unsubscribe()
		return false
	}
	entry := &registryEntry{verification: v, unsubscribe: unsubscribe}
	r.entries = append(r.entries, entry)
	r.byKey[key] = entry
	watchers := r.watchersLocked()
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(v)
	}

	// v may have finished before the subscription took effect.
	if v.IsFinished() {
		r.Remove(v)
	}
	return true
}

// Watch registers fn to be called with every verification Add
// accepts. fn runs on the adding goroutine before a verification
// created from sync is started, so it sees every verification even
// when the driver finishes it at once.
func (r *Registry) Watch(fn func(*Verification)) (unwatch func()) {
	r.mu.Lock()
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) watchersLocked() []func(*Verification) {
	watchers := make([]func(*Verification), 0, len(r.watchers))
	for id := 0; id < r.nextWatcher; id++ {
		if fn, ok := r.watchers[id]; ok {
			watchers = append(watchers, fn)
		}
	}
	return watchers
}

// Remove drops v from the registry and closes it. Reports whether v
// was present.
func (r *Registry) Remove(v *Verification) bool {
	key := flowKey{userID: v.User().ID, flowID: v.FlowID()}

	r.mu.Lock()
	entry, exists := r.byKey[key]
	if !exists || entry.verification != v {
		r.mu.Unlock()
		return false
	}
	delete(r.byKey, key)
	for index, candidate := range r.entries {
		if candidate == entry {
			r.entries = append(r.entries[:index], r.entries[index+1:]...)
			break
		}
	}
	for roomID, request := range r.roomRequests {
		if request == v {
			delete(r.roomRequests, roomID)
		}
	}
	r.mu.Unlock()

	entry.unsubscribe()
	v.Close()
	return true
}

// Get returns the verification for a user and flow ID, or nil.
func (r *Registry) Get(userID ref.UserID, flowID string) *Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byKey[flowKey{userID: userID, flowID: flowID}]; ok {
		return entry.verification
	}
	return nil
}

// SessionVerification returns the first unfinished verification
// between our own devices, or nil.
func (r *Registry) SessionVerification() *Verification {
	for _, v := range r.Items() {
		if !v.IsFinished() && v.User().ID == r.session.User.ID {
			return v
		}
	}
	return nil
}

// RoomVerification returns the newest in-room request seen in roomID,
// or nil.
func (r *Registry) RoomVerification(roomID ref.RoomID) *Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomRequests[roomID]
}

// Items returns the verifications in insertion order.
func (r *Registry) Items() []*Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*Verification, len(r.entries))
	for index, entry := range r.entries {
		items[index] = entry.verification
	}
	return items
}

// Len returns the number of verifications.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close removes and closes every verification.
func (r *Registry) Close() {
	for _, v := range r.Items() {
		r.Remove(v)
	}
}
