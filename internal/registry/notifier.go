// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package registry

import "sync"

// Notifier is a one-shot wake-up primitive keyed by K: WaitFor blocks
// until Notify fires for the same key, at most once per key.
type Notifier[K comparable] struct {
	mu      sync.Mutex
	waiters map[K]chan struct{}
}

// NewNotifier creates an empty Notifier.
func NewNotifier[K comparable]() *Notifier[K] {
	return &Notifier[K]{waiters: make(map[K]chan struct{})}
}

// WaitFor returns a channel that closes exactly once Notify(key) is
// called. Calling WaitFor again for the same key returns the same
// channel, even after it has already closed; callers that reuse a key
// across more than one wait (e.g. a reservation armed for a DREQ event
// and later for a DACK/DCAN event) must call Forget between waits to
// get a fresh, not-yet-closed channel.
func (n *Notifier[K]) WaitFor(key K) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.waiters[key]
	if !ok {
		ch = make(chan struct{})
		n.waiters[key] = ch
	}
	return ch
}

// Notify closes the channel associated with key, waking every current
// and past WaitFor(key) caller. Safe to call multiple times; only the
// first has any effect.
func (n *Notifier[K]) Notify(key K) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.waiters[key]
	if !ok {
		ch = make(chan struct{})
		n.waiters[key] = ch
	}
	select {
	case <-ch:
		// already notified
	default:
		close(ch)
	}
}

// Forget drops bookkeeping for key once its owning reservation/request
// has reached a terminal state and no further waiters are expected.
func (n *Notifier[K]) Forget(key K) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.waiters, key)
}
