// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package executor performs the opaque "transform payload into result"
// work a provider does between reservation and response. The Executor
// interface is the swappable boundary the Responder calls through; the
// protocol core never looks inside it.
package executor

import "context"

// Executor performs the opaque per-request work. Implementations must
// respect ctx cancellation and must not retain payload after return.
type Executor interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
}

// EchoExecutor is the default/test double: returns payload unchanged.
// Used in place of a real traffic-shaping executor when only the
// protocol's own behavior is under test.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// ExecutionErrorPolicy controls how the Responder reacts to a failing
// Executor.
type ExecutionErrorPolicy uint8

const (
	// ExecutionErrorEmptyDRES maps a failing Executor to an empty,
	// otherwise-successful DRES: an application failure is
	// indistinguishable from a degenerate empty transform.
	ExecutionErrorEmptyDRES ExecutionErrorPolicy = iota
	// ExecutionErrorCancel elevates a failing Executor to a
	// cancellation: the reservation moves to RCAN, is freed, and a DCAN
	// goes to the orchestrator instead of a DRES to the consumer.
	ExecutionErrorCancel
)
