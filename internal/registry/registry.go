// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"sync"

	"github.com/hashicorp/go-set/v3"
)

// keyLocks serializes mutating access per key without a single global
// lock across unrelated keys; operations on different keys never
// contend.
type keyLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func newKeyLocks[K comparable]() *keyLocks[K] {
	return &keyLocks[K]{locks: make(map[K]*sync.Mutex)}
}

func (k *keyLocks[K]) lockFor(key K) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

func (k *keyLocks[K]) withLock(key K, fn func()) {
	l := k.lockFor(key)
	l.Lock()
	defer l.Unlock()
	fn()
}

// Registry holds the two keyed tables of in-flight protocol state plus
// their per-key wake-up primitives.
type Registry struct {
	reqMu    sync.RWMutex
	requests map[string]*ConsumerRequest
	reqLocks *keyLocks[string]

	resMu        sync.RWMutex
	reservations map[ReservationKey]*ProviderReservation
	resLocks     *keyLocks[ReservationKey]

	consumerNotify    *Notifier[string]
	reservationNotify *Notifier[ReservationKey]
	ackNotify         *Notifier[ReservationKey]

	// liveReservations tracks which keys currently have a reservation
	// that has not yet been deleted, so a diagnostic caller (the
	// out-of-scope REST facade, or a test) can ask "what's in flight
	// right now". The set is not safe for concurrent use on its own;
	// every access holds resMu.
	liveReservations *set.Set[ReservationKey]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		requests:          make(map[string]*ConsumerRequest),
		reqLocks:          newKeyLocks[string](),
		reservations:      make(map[ReservationKey]*ProviderReservation),
		resLocks:          newKeyLocks[ReservationKey](),
		consumerNotify:    NewNotifier[string](),
		reservationNotify: NewNotifier[ReservationKey](),
		ackNotify:         NewNotifier[ReservationKey](),
		liveReservations:  set.New[ReservationKey](0),
	}
}

// GetRequest returns the ConsumerRequest for id, if any.
func (r *Registry) GetRequest(id string) (*ConsumerRequest, bool) {
	r.reqMu.RLock()
	defer r.reqMu.RUnlock()
	req, ok := r.requests[id]
	return req, ok
}

// InsertRequest stores req under req.ID. Overwrites any prior entry.
func (r *Registry) InsertRequest(req *ConsumerRequest) {
	r.reqMu.Lock()
	defer r.reqMu.Unlock()
	r.requests[req.ID] = req
}

// UpdateRequest runs fn with exclusive access to the request named by
// id, serialized against any other UpdateRequest for the same id. It
// reports whether the request existed.
func (r *Registry) UpdateRequest(id string, fn func(*ConsumerRequest)) bool {
	var found bool
	r.reqLocks.withLock(id, func() {
		r.reqMu.RLock()
		req, ok := r.requests[id]
		r.reqMu.RUnlock()
		if !ok {
			return
		}
		found = true
		fn(req)
	})
	return found
}

// WaitForConsumer returns a channel that closes once
// NotifyConsumer(reqID) fires. Nothing else closes it; callers bound
// the wait themselves.
func (r *Registry) WaitForConsumer(reqID string) <-chan struct{} {
	return r.consumerNotify.WaitFor(reqID)
}

// NotifyConsumer wakes any WaitForConsumer(reqID) callers, exactly
// once regardless of how many times it is called.
func (r *Registry) NotifyConsumer(reqID string) {
	r.consumerNotify.Notify(reqID)
}

// GetReservation returns the ProviderReservation for key, if any.
func (r *Registry) GetReservation(key ReservationKey) (*ProviderReservation, bool) {
	r.resMu.RLock()
	defer r.resMu.RUnlock()
	res, ok := r.reservations[key]
	return res, ok
}

// InsertReservation stores res under res.Key.
func (r *Registry) InsertReservation(res *ProviderReservation) {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	r.reservations[res.Key] = res
	r.liveReservations.Insert(res.Key)
}

// ActiveReservationKeys returns every key with a reservation that has
// not yet been deleted (i.e. has not reached its terminal grace delay).
// Order is unspecified.
func (r *Registry) ActiveReservationKeys() []ReservationKey {
	r.resMu.RLock()
	defer r.resMu.RUnlock()
	return r.liveReservations.Slice()
}

// UpdateReservation runs fn with exclusive access to the reservation
// named by key, serialized against any other UpdateReservation for the
// same key. It reports whether the reservation existed.
func (r *Registry) UpdateReservation(key ReservationKey, fn func(*ProviderReservation)) bool {
	var found bool
	r.resLocks.withLock(key, func() {
		r.resMu.RLock()
		res, ok := r.reservations[key]
		r.resMu.RUnlock()
		if !ok {
			return
		}
		found = true
		fn(res)
	})
	return found
}

// WaitForReservation blocks until NotifyReservation(key) fires.
func (r *Registry) WaitForReservation(key ReservationKey) <-chan struct{} {
	return r.reservationNotify.WaitFor(key)
}

// NotifyReservation wakes any WaitForReservation(key) callers, exactly
// once regardless of how many times it is called.
func (r *Registry) NotifyReservation(key ReservationKey) {
	r.reservationNotify.Notify(key)
}

// WaitForAck blocks until NotifyAck(key) fires. Kept distinct from
// WaitForReservation/NotifyReservation (which arm the reservation
// responder's DREQ-arrival event) so the execution responder's
// DACK/DCAN wait can never be woken by, or race against, the unrelated
// DREQ-arrival event on the same key.
func (r *Registry) WaitForAck(key ReservationKey) <-chan struct{} {
	return r.ackNotify.WaitFor(key)
}

// NotifyAck wakes any WaitForAck(key) callers, exactly once regardless
// of how many times it is called.
func (r *Registry) NotifyAck(key ReservationKey) {
	r.ackNotify.Notify(key)
}

// DeleteReservation removes a terminal reservation once its grace
// delay has elapsed.
func (r *Registry) DeleteReservation(key ReservationKey) {
	r.resMu.Lock()
	delete(r.reservations, key)
	r.liveReservations.Remove(key)
	r.resMu.Unlock()
	r.reservationNotify.Forget(key)
	r.ackNotify.Forget(key)
}
