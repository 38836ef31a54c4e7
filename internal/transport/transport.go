// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package transport is the thin addressing boundary between the
// protocol FSMs (Responder, Initiator) and whatever actually puts
// frames on the wire, so a production implementation (raw socket, UDP,
// anything else) can be dropped in without touching responder or
// initiator.
package transport

import (
	"context"

	"github.com/hashicorp/tegu-engine/internal/wire"
)

// Sender transmits a frame toward destIP. Implementations are expected
// to be safe for concurrent use; multiple FSM goroutines send
// independently.
type Sender interface {
	Send(ctx context.Context, destIP string, f *wire.Frame) error
}

// Inbound is one received frame paired with the address it arrived
// from. For a frame the orchestrator relays on a consumer's behalf,
// FromIP is the orchestrator; the frame's own SrcIP field names the
// original consumer and is what provider reservations are keyed by.
type Inbound struct {
	Frame  *wire.Frame
	FromIP string
}

// Listener both sends and yields inbound frames; a single listener
// goroutine reads frames off the wire and dispatches them.
type Listener interface {
	Sender
	Recv(ctx context.Context) (Inbound, error)
}
