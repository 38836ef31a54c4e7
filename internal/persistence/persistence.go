// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package persistence provides best-effort durability of terminal
// request/reservation state, written from a background worker rather
// than inline with the FSMs that produce it.
package persistence

import (
	"context"

	"github.com/hashicorp/tegu-engine/internal/registry"
)

// Store durably records terminal protocol state. Implementations must
// be safe for concurrent use.
type Store interface {
	SaveRequest(ctx context.Context, req *registry.ConsumerRequest) error
	SaveReservation(ctx context.Context, res *registry.ProviderReservation) error
}

// job is the unit of work a Worker drains off its queue.
type job struct {
	req *registry.ConsumerRequest
	res *registry.ProviderReservation
}
