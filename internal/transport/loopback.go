// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/tegu-engine/internal/wire"
)

// Loopback is an in-memory fabric of named endpoints, used in place of
// a real socket in tests: Send on one endpoint delivers to the named
// peer's inbound queue, with the sender's own address attached as
// FromIP. No serialization round-trip happens; frames cross as values.
type Loopback struct {
	mu        sync.Mutex
	endpoints map[string]chan Inbound
}

func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[string]chan Inbound)}
}

// Endpoint returns the Listener for ip, creating its inbound queue on
// first use.
func (l *Loopback) Endpoint(ip string) *LoopbackEndpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.endpoints[ip]; !ok {
		l.endpoints[ip] = make(chan Inbound, 64)
	}
	return &LoopbackEndpoint{ip: ip, fabric: l}
}

func (l *Loopback) deliver(destIP string, in Inbound) error {
	l.mu.Lock()
	ch, ok := l.endpoints[destIP]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no such endpoint %q", destIP)
	}
	select {
	case ch <- in:
		return nil
	default:
		return fmt.Errorf("transport: endpoint %q inbound queue full", destIP)
	}
}

// LoopbackEndpoint is one node's view of a Loopback fabric.
type LoopbackEndpoint struct {
	ip     string
	fabric *Loopback
}

func (e *LoopbackEndpoint) Send(_ context.Context, destIP string, f *wire.Frame) error {
	return e.fabric.deliver(destIP, Inbound{Frame: f, FromIP: e.ip})
}

func (e *LoopbackEndpoint) Recv(ctx context.Context) (Inbound, error) {
	e.fabric.mu.Lock()
	ch := e.fabric.endpoints[e.ip]
	e.fabric.mu.Unlock()
	select {
	case in := <-ch:
		return in, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}
