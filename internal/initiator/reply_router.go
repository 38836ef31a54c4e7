// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package initiator

import (
	"sync"

	"github.com/hashicorp/tegu-engine/internal/wire"
)

// replyRouter hands an inbound frame to whichever SendRequest call is
// currently awaiting a reply for its request id. Distinct from
// responder's replyRouter (keyed by ReservationKey, for the provider's
// own RRES round trip): this one is keyed by request id alone, since a
// consumer only ever has one outstanding wait per request at a time.
type replyRouter struct {
	mu      sync.Mutex
	waiters map[string]chan *wire.Frame
}

func newReplyRouter() *replyRouter {
	return &replyRouter{waiters: make(map[string]chan *wire.Frame)}
}

func (rr *replyRouter) register(reqID string) chan *wire.Frame {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	ch := make(chan *wire.Frame, 1)
	rr.waiters[reqID] = ch
	return ch
}

func (rr *replyRouter) unregister(reqID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.waiters, reqID)
}

// deliver routes f to the registered waiter for its request id, if any.
// Reports whether a waiter was found.
func (rr *replyRouter) deliver(reqID string, f *wire.Frame) bool {
	rr.mu.Lock()
	ch, ok := rr.waiters[reqID]
	rr.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- f:
	default:
	}
	return true
}
