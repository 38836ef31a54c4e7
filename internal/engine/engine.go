// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package engine wires the protocol components and their collaborators
// (monitor, persistence, executor) into a single runnable unit. An
// Engine is the only thing a caller needs to construct to get a working
// node: everything else in this module is a component it owns.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hashicorp/tegu-engine/internal/accountant"
	"github.com/hashicorp/tegu-engine/internal/config"
	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/executor"
	"github.com/hashicorp/tegu-engine/internal/initiator"
	"github.com/hashicorp/tegu-engine/internal/monitor"
	"github.com/hashicorp/tegu-engine/internal/persistence"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/responder"
	"github.com/hashicorp/tegu-engine/internal/transport"
	"github.com/hashicorp/tegu-engine/internal/version"
)

// Config layers the addressing this node needs for itself on top of
// the environment-driven config.Config. Self MAC/IP belong to a network
// interface, not the environment, so they are supplied directly instead
// of parsed by config.EnvLoader.
type Config struct {
	Core config.Config

	SelfMAC string
	SelfIP  string

	// PersistQueueDepth bounds the persistence worker's queue. Zero
	// selects a sane default.
	PersistQueueDepth int

	// HREQRateLimit caps how many HREQ/DREQ frames per second the
	// Initiator may send, guarding against a retry storm against an
	// unresponsive orchestrator or provider. Zero means unlimited.
	HREQRateLimit float64

	// MinOrchestratorVersion, if set, is a go-version constraint this
	// build must satisfy before New will construct an Engine (the
	// forward-compat hook this node would apply against an
	// orchestrator-advertised floor at GET /config time). Empty skips
	// the check.
	MinOrchestratorVersion string

	// ExecutionErrorPolicy chooses how the Responder reacts to a failing
	// Executor. The zero value (executor.ExecutionErrorEmptyDRES)
	// answers with an empty result.
	ExecutionErrorPolicy executor.ExecutionErrorPolicy
}

// Engine is a single runnable node: registry, accountant, responder,
// and initiator wired together, plus the listener loop that
// demultiplexes inbound frames between the initiator's outstanding
// waits and the responder's reactor.
type Engine struct {
	cfg Config

	reg       *registry.Registry
	acc       *accountant.Accountant
	catalog   *cos.Catalog
	responder *responder.Responder
	initiator *initiator.Initiator
	persist   *persistence.Worker
	listener  transport.Listener

	log hclog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New assembles an Engine. listener is the node's transport binding
// (production: a real socket; tests: *transport.Loopback endpoint).
// store and exec may be nil: a nil store disables persistence, a nil
// exec falls back to executor.EchoExecutor{}.
func New(cfg Config, listener transport.Listener, store persistence.Store, exec executor.Executor, log hclog.Logger) (*Engine, error) {
	if cfg.SelfMAC == "" || cfg.SelfIP == "" {
		return nil, fmt.Errorf("engine: SelfMAC and SelfIP are required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	if cfg.MinOrchestratorVersion != "" {
		ok, err := version.Satisfies(cfg.MinOrchestratorVersion)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid MinOrchestratorVersion constraint: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("engine: build version %s does not satisfy required constraint %q", version.Number, cfg.MinOrchestratorVersion)
		}
	}

	catalog, err := cos.NewCatalog(cfg.Core.CoSList)
	if err != nil {
		return nil, fmt.Errorf("engine: building cos catalog: %w", err)
	}

	limit := cfg.Core.Limit
	if limit <= 0 {
		limit = 1.0
	}
	capacity := accountant.Capacity{
		CPU:  cfg.Core.HostCPU * limit,
		RAM:  cfg.Core.HostRAM * limit,
		Disk: cfg.Core.HostDisk * limit,
	}
	acc := accountant.New(capacity, cfg.Core.Threshold, !cfg.Core.SimulatorActive)

	reg := registry.New()

	var persist *persistence.Worker
	if store != nil {
		depth := cfg.PersistQueueDepth
		if depth <= 0 {
			depth = 256
		}
		persist = persistence.NewWorker(store, log, depth)
	}

	if exec == nil {
		exec = executor.EchoExecutor{}
	}

	respCfg := responder.Config{
		SelfMAC:              cfg.SelfMAC,
		SelfIP:               cfg.SelfIP,
		OrchestratorIP:       cfg.Core.ControllerDecoyIP,
		IsResource:           cfg.Core.IsResource,
		ProtoTimeout:         cfg.Core.ProtoTimeout,
		ProtoRetries:         cfg.Core.ProtoRetries,
		ExecutionErrorPolicy: cfg.ExecutionErrorPolicy,
	}
	resp := responder.New(respCfg, reg, acc, catalog, exec, persist, listener, log)

	initCfg := initiator.Config{
		SelfMAC:         cfg.SelfMAC,
		SelfIP:          cfg.SelfIP,
		OrchestratorMAC: cfg.Core.ControllerDecoyMAC,
		OrchestratorIP:  cfg.Core.ControllerDecoyIP,
		ProtoTimeout:    cfg.Core.ProtoTimeout,
		ProtoRetries:    cfg.Core.ProtoRetries,
	}
	init := initiator.New(initCfg, reg, catalog, persist, listener, log)
	if cfg.HREQRateLimit > 0 {
		init.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.HREQRateLimit), 1))
	}

	return &Engine{
		cfg:       cfg,
		reg:       reg,
		acc:       acc,
		catalog:   catalog,
		responder: resp,
		initiator: init,
		persist:   persist,
		listener:  listener,
		log:       log.Named("engine"),
	}, nil
}

// Start launches the background goroutines: the listener-dispatch loop,
// the persistence worker (if configured), and the resource monitor
// (live mode only; simulation mode's Accountant never consults a
// sample). Start returns immediately; use Shutdown to stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error {
		e.listenLoop(gctx)
		return nil
	})

	if e.persist != nil {
		g.Go(func() error {
			e.persist.Run(gctx)
			return nil
		})
	}

	if !e.cfg.Core.SimulatorActive {
		period := e.cfg.Core.MonitorPeriod
		if period <= 0 {
			period = time.Second
		}
		sampler := monitor.NewGopsutilSampler("/")
		g.Go(func() error {
			monitor.Loop(gctx, sampler, period, e.acc.SetSample)
			return nil
		})
	}
}

// listenLoop demultiplexes every inbound frame between the Initiator's
// own outstanding waits (HRES/DWAIT/DCAN/DRES for a request this node
// itself issued) and the Responder's provider-side/late-consumer FSM.
// Request ids are unique per consumer request across the whole system,
// so there is no collision between an Initiator wait and a Responder
// reply-router wait on the same node.
func (e *Engine) listenLoop(ctx context.Context) {
	for {
		in, err := e.listener.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("recv failed", "error", err)
			continue
		}
		if in.FromIP == e.cfg.SelfIP {
			continue // echo from self, dropped silently
		}
		if e.initiator.HandleFrame(in.Frame) {
			continue
		}
		e.responder.HandleFrame(ctx, in.Frame, in.FromIP)
	}
}

// SendRequest is the local caller's entry point, delegating to the
// Initiator.
func (e *Engine) SendRequest(ctx context.Context, cosID uint32, payload []byte) ([]byte, error) {
	return e.initiator.SendRequest(ctx, cosID, payload)
}

// Shutdown stops the background goroutines and waits for them to
// exit, including draining any queued persistence writes.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
