// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package registry holds the two keyed tables of in-flight state: the
// consumer's own requests, and the reservations a node has accepted as
// a provider for other consumers. Every mutating access is serialized
// per key; cross-key operations need no coordination.
package registry

import (
	"time"

	"github.com/hashicorp/tegu-engine/internal/cos"
)

// ReqState is a Consumer Request's lifecycle state.
type ReqState uint8

const (
	ReqHREQ ReqState = iota + 1
	ReqDREQ
	ReqDRES
	ReqFAIL
)

func (s ReqState) String() string {
	switch s {
	case ReqHREQ:
		return "HREQ"
	case ReqDREQ:
		return "DREQ"
	case ReqDRES:
		return "DRES"
	case ReqFAIL:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Attempt is one (re)issue of a consumer request toward the
// orchestrator. Stored by value inside ConsumerRequest, keyed by
// attempt number, so request and attempt never point at each other.
type Attempt struct {
	AttemptNo int
	Host      string
	State     ReqState

	HreqAt time.Time
	HresAt time.Time
	RresAt time.Time
	DresAt time.Time
}

// ExceededDeadline reports whether this attempt's round trip (from
// HreqAt to DresAt) exceeded the Class of Service's response-time
// budget. A zero DresAt means the attempt has not completed, so it
// cannot have exceeded anything yet.
func (a Attempt) ExceededDeadline(class cos.Class) bool {
	if a.DresAt.IsZero() || a.HreqAt.IsZero() || class.MaxResponseTime <= 0 {
		return false
	}
	return a.DresAt.Sub(a.HreqAt) > class.MaxResponseTime
}

// ConsumerRequest is created when a local caller issues
// send_request(cos_id, payload).
type ConsumerRequest struct {
	ID      string
	Cos     cos.Class
	Payload []byte
	Result  []byte
	Host    string
	State   ReqState

	HreqAt time.Time
	DresAt time.Time

	Attempts map[int]Attempt
}

// NewConsumerRequest creates a fresh request in the HREQ state.
func NewConsumerRequest(id string, class cos.Class, payload []byte) *ConsumerRequest {
	return &ConsumerRequest{
		ID:       id,
		Cos:      class,
		Payload:  payload,
		State:    ReqHREQ,
		Attempts: make(map[int]Attempt),
	}
}

// AttemptFor returns the attempt numbered n, if one was recorded.
func (r *ConsumerRequest) AttemptFor(n int) (Attempt, bool) {
	a, ok := r.Attempts[n]
	return a, ok
}

// Accepted reports whether a result has already been durably accepted:
// once DresAt is set, State is DRES, Result is non-nil, and all three
// stay immutable.
func (r *ConsumerRequest) Accepted() bool {
	return !r.DresAt.IsZero()
}

// ReservationState is a Provider Reservation's lifecycle state.
type ReservationState uint8

const (
	ResNew ReservationState = iota
	ResRREQ
	ResRRES
	ResDREQ
	ResDRES
	ResRCAN
	ResDCAN
)

func (s ReservationState) String() string {
	switch s {
	case ResNew:
		return "NEW"
	case ResRREQ:
		return "RREQ"
	case ResRRES:
		return "RRES"
	case ResDREQ:
		return "DREQ"
	case ResDRES:
		return "DRES"
	case ResRCAN:
		return "RCAN"
	case ResDCAN:
		return "DCAN"
	default:
		return "UNKNOWN"
	}
}

// ReservationKey identifies a Provider Reservation by the consumer's IP
// and the request id it reserved resources for.
type ReservationKey struct {
	ConsumerIP string
	ReqID      string
}

// ProviderReservation is keyed by (consumer_ip, request_id).
type ProviderReservation struct {
	Key    ReservationKey
	Cos    cos.Class
	State  ReservationState
	Result []byte
	Freed  bool

	// AttemptNo echoes the attempt number off the most recent RREQ or
	// DREQ for this key, so asynchronous replies (RRES, DRES, RCAN)
	// carry the consumer's current attempt number on the wire.
	AttemptNo uint32

	// ConsumerMAC is captured off the RREQ that created this
	// reservation; DREQ carries no address fields of its own, so the
	// DCAN sent when a cancelled reservation cannot be re-reserved
	// needs it stored rather than echoed off the triggering frame.
	ConsumerMAC string

	// Executing is true while an execution responder goroutine owns
	// this reservation.
	Executing bool
}

// NewProviderReservation creates a reservation in the RREQ state.
func NewProviderReservation(key ReservationKey, class cos.Class) *ProviderReservation {
	return &ProviderReservation{
		Key:   key,
		Cos:   class,
		State: ResRREQ,
	}
}

// WithConsumerMAC records the consumer's MAC address, captured off the
// originating RREQ.
func (p *ProviderReservation) WithConsumerMAC(mac string) *ProviderReservation {
	p.ConsumerMAC = mac
	return p
}
