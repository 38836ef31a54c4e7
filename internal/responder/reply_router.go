// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package responder

import (
	"sync"

	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

// replyRouter delivers RACK/RCAN replies (which answer an RRES the
// reservation responder sent) to the specific goroutine waiting on
// them. HandleFrame hands these states straight to the router instead
// of to a provider FSM transition, because they belong to the
// reservation responder's own request/reply round trip.
type replyRouter struct {
	mu      sync.Mutex
	waiters map[registry.ReservationKey]chan *wire.Frame
}

func newReplyRouter() *replyRouter {
	return &replyRouter{waiters: make(map[registry.ReservationKey]chan *wire.Frame)}
}

// register arms a one-shot wait for key, replacing any prior waiter.
func (rr *replyRouter) register(key registry.ReservationKey) chan *wire.Frame {
	ch := make(chan *wire.Frame, 1)
	rr.mu.Lock()
	rr.waiters[key] = ch
	rr.mu.Unlock()
	return ch
}

func (rr *replyRouter) unregister(key registry.ReservationKey) {
	rr.mu.Lock()
	delete(rr.waiters, key)
	rr.mu.Unlock()
}

// deliver routes f to key's waiter, if any. Reports whether a waiter
// was found.
func (rr *replyRouter) deliver(key registry.ReservationKey, f *wire.Frame) bool {
	rr.mu.Lock()
	ch, ok := rr.waiters[key]
	if ok {
		delete(rr.waiters, key)
	}
	rr.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f
	return true
}
