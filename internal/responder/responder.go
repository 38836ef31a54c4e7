// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package responder implements the provider-side reservation/execution
// FSM plus the late-consumer catch-all for duplicate results.
// HandleFrame is the single dispatch entry point a listener goroutine
// calls for every well-formed inbound frame.
package responder

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/tegu-engine/internal/accountant"
	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/executor"
	"github.com/hashicorp/tegu-engine/internal/persistence"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/transport"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

// Config carries the addressing and timing constants the Responder
// needs but does not own.
type Config struct {
	SelfMAC        string
	SelfIP         string
	OrchestratorIP string

	IsResource bool

	ProtoTimeout time.Duration
	ProtoRetries int

	ExecutionErrorPolicy executor.ExecutionErrorPolicy
}

// Responder reacts to inbound frames: it drives the provider-side FSM
// and answers late consumer-side frames.
type Responder struct {
	cfg Config

	reg       *registry.Registry
	acc       *accountant.Accountant
	catalog   *cos.Catalog
	exec      executor.Executor
	persist   *persistence.Worker
	transport transport.Sender

	log hclog.Logger

	replies *replyRouter

	// executorForCoS, when set, is consulted ahead of exec for a
	// CoS-specific executor (e.g. *executor.CoSExecutor, which needs
	// the CoS id to select its command template and therefore can't
	// satisfy the bare executor.Executor interface).
	executorForCoS func(cosID uint32, payload []byte) ([]byte, error)
}

// New builds a Responder. exec is used whenever executorForCoS is nil.
func New(cfg Config, reg *registry.Registry, acc *accountant.Accountant, catalog *cos.Catalog, exec executor.Executor, persist *persistence.Worker, sender transport.Sender, log hclog.Logger) *Responder {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Responder{
		cfg:       cfg,
		reg:       reg,
		acc:       acc,
		catalog:   catalog,
		exec:      exec,
		persist:   persist,
		transport: sender,
		log:       log.Named("responder"),
		replies:   newReplyRouter(),
	}
}

// WithCoSExecutor routes execution through a CoS-selecting executor
// instead of the bare Executor.
func (r *Responder) WithCoSExecutor(fn func(cosID uint32, payload []byte) ([]byte, error)) *Responder {
	r.executorForCoS = fn
	return r
}

func (r *Responder) execute(ctx context.Context, cosID uint32, payload []byte) ([]byte, error) {
	if r.executorForCoS != nil {
		return r.executorForCoS(cosID, payload)
	}
	return r.exec.Execute(ctx, payload)
}

func requirementFor(class cos.Class) accountant.Requirement {
	return accountant.Requirement{CPU: class.MinCPU, RAM: class.MinRAM, Disk: class.MinDisk}
}

// HandleFrame dispatches a single inbound frame to the transition its
// state and caller role select, plus the late-DRES consumer-side
// catch-all. Any reply the transition produces, synchronous or
// asynchronous, is sent directly through the configured transport;
// HandleFrame itself never returns a reply for an external caller to
// route, since each transition's reply destination differs (the
// consumer that sent a DREQ, vs. the orchestrator).
func (r *Responder) HandleFrame(ctx context.Context, f *wire.Frame, fromIP string) {
	switch f.State {
	case wire.RREQ:
		r.handleRREQ(ctx, f, fromIP)
	case wire.DREQ:
		r.handleDREQ(ctx, f, fromIP)
	case wire.DACK:
		r.handleDACK(f, fromIP)
	case wire.DCAN:
		r.handleDCAN(f, fromIP)
	case wire.DRES:
		r.handleLateDRES(f, fromIP)
	case wire.RACK, wire.RCAN:
		key := registry.ReservationKey{ConsumerIP: f.SrcIP, ReqID: f.ReqID}
		r.replies.deliver(key, f)
	}
}

// 1. Receive RREQ from orchestrator IP, node is a resource.
func (r *Responder) handleRREQ(ctx context.Context, f *wire.Frame, fromIP string) {
	if !r.cfg.IsResource || fromIP != r.cfg.OrchestratorIP {
		return
	}
	class, ok := r.catalog.Get(f.CosID)
	if !ok {
		r.log.Warn("rreq for unknown cos", "cos_id", f.CosID)
		return
	}

	key := registry.ReservationKey{ConsumerIP: f.SrcIP, ReqID: f.ReqID}
	res, exists := r.reg.GetReservation(key)
	if !exists {
		res = registry.NewProviderReservation(key, class).WithConsumerMAC(f.SrcMAC)
		res.AttemptNo = f.AttemptNo
		r.reg.InsertReservation(res)
	} else if res.State != registry.ResRREQ && res.State != registry.ResRCAN {
		return // already past RRES
	}

	if !r.acc.Reserve(requirementFor(class)) {
		r.sendBestEffort(key, &wire.Frame{
			State: wire.RCAN, ReqID: f.ReqID, AttemptNo: f.AttemptNo,
			SrcMAC: f.SrcMAC, SrcIP: f.SrcIP,
		})
		return
	}

	r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
		pr.State = registry.ResRRES
		pr.AttemptNo = f.AttemptNo
	})
	go r.runReservationResponder(context.Background(), key, class, f.SrcMAC, f.SrcIP, f.AttemptNo)
}

// 2. Receive DREQ from any peer.
func (r *Responder) handleDREQ(ctx context.Context, f *wire.Frame, fromIP string) {
	key := registry.ReservationKey{ConsumerIP: fromIP, ReqID: f.ReqID}
	res, ok := r.reg.GetReservation(key)
	if !ok {
		return
	}

	switch res.State {
	case registry.ResDRES:
		r.sendTo(fromIP, &wire.Frame{State: wire.DRES, ReqID: f.ReqID, AttemptNo: f.AttemptNo, Data: res.Result})

	case registry.ResDREQ:
		if res.Executing {
			r.sendTo(fromIP, &wire.Frame{State: wire.DWAIT, ReqID: f.ReqID, AttemptNo: f.AttemptNo})
		}

	case registry.ResRCAN:
		if !r.acc.Reserve(requirementFor(res.Cos)) {
			r.sendTo(fromIP, &wire.Frame{
				State: wire.DCAN, ReqID: f.ReqID, AttemptNo: f.AttemptNo,
				SrcMAC: res.ConsumerMAC, SrcIP: fromIP,
				HostMAC: r.cfg.SelfMAC, HostIP: r.cfg.SelfIP,
			})
			return
		}
		r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
			pr.State = registry.ResDREQ
			pr.Executing = true
			pr.Freed = false
			pr.AttemptNo = f.AttemptNo
		})
		go r.runExecutionResponder(context.Background(), key, res.Cos, f.Data, f.AttemptNo)

	case registry.ResRRES:
		r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
			pr.State = registry.ResDREQ
			pr.Executing = true
			pr.AttemptNo = f.AttemptNo
		})
		r.reg.NotifyReservation(key) // arms the reservation responder's DREQ wait
		go r.runExecutionResponder(context.Background(), key, res.Cos, f.Data, f.AttemptNo)
	}
}

// 3. Receive DACK from orchestrator.
func (r *Responder) handleDACK(f *wire.Frame, fromIP string) {
	if fromIP != r.cfg.OrchestratorIP {
		return
	}
	key := registry.ReservationKey{ConsumerIP: f.SrcIP, ReqID: f.ReqID}
	r.freeOnce(key)
	r.reg.NotifyAck(key)
}

// 4. Receive DCAN from orchestrator.
func (r *Responder) handleDCAN(f *wire.Frame, fromIP string) {
	if fromIP != r.cfg.OrchestratorIP {
		return
	}
	key := registry.ReservationKey{ConsumerIP: f.SrcIP, ReqID: f.ReqID}
	r.freeOnce(key)
	r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
		pr.State = registry.ResDCAN
	})
	r.reg.NotifyAck(key)
}

// sendTo transmits f toward destIP, logging rather than propagating a
// send failure: callers here are reacting to an inbound frame, with no
// caller of their own to surface an error to.
func (r *Responder) sendTo(destIP string, f *wire.Frame) {
	if err := r.transport.Send(context.Background(), destIP, f); err != nil {
		r.log.Warn("send failed", "dest", destIP, "state", f.State.String(), "error", err)
	}
}

// freeOnce calls Free exactly once per reservation regardless of which
// path (DACK, DCAN, or a responder worker's own timeout) gets there
// first.
func (r *Responder) freeOnce(key registry.ReservationKey) {
	res, ok := r.reg.GetReservation(key)
	if !ok {
		return
	}
	freed := false
	r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
		if !pr.Freed {
			pr.Freed = true
			freed = true
		}
	})
	if freed {
		r.acc.Free(requirementFor(res.Cos))
	}
}

// 5. Receive late DRES while consumer side has already accepted a
// result. Never mutates the consumer request.
func (r *Responder) handleLateDRES(f *wire.Frame, fromIP string) {
	req, ok := r.reg.GetRequest(f.ReqID)
	if !ok || !req.Accepted() {
		return // an in-flight DRES: the Initiator's own recv handles it
	}

	state := wire.DCAN
	if fromIP == req.Host {
		state = wire.DACK
	}
	r.sendTo(r.cfg.OrchestratorIP, &wire.Frame{
		State: state, ReqID: f.ReqID, AttemptNo: f.AttemptNo,
		HostMAC: r.cfg.SelfMAC, HostIP: r.cfg.SelfIP,
	})
}
