// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package responder

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

// runReservationResponder confirms RRES to the orchestrator and bounds
// how long the reservation may sit idle awaiting a DREQ. Runs as its
// own goroutine, one per in-flight reservation.
func (r *Responder) runReservationResponder(ctx context.Context, key registry.ReservationKey, class cos.Class, consumerMAC, consumerIP string, attemptNo uint32) {
	log := r.log.With("req_id", key.ReqID, "consumer_ip", key.ConsumerIP)

	reply, ok := r.sendAndAwaitReply(ctx, key, &wire.Frame{
		State: wire.RRES, ReqID: key.ReqID, AttemptNo: attemptNo,
		SrcMAC: consumerMAC, SrcIP: consumerIP,
	})
	if !ok {
		// No reply within all retries: send an explicit RCAN toward the
		// orchestrator, since it never saw one of its own.
		r.cancelFreeAndNotify(key, class, attemptNo, log, "reservation responder: no reply to RRES, cancelling")
		return
	}

	switch reply.State {
	case wire.RCAN:
		// The orchestrator already sent the RCAN that got us here; just
		// transition and free, with no echo back toward its sender.
		r.cancelAndFree(key, class, log, "reservation responder: orchestrator cancelled")

	case wire.RACK:
		wake := r.reg.WaitForReservation(key)
		select {
		case <-wake:
			// DREQ arrived and armed the event; the execution responder
			// (spawned from handleDREQ) now owns this reservation.
		case <-time.After(time.Duration(r.cfg.ProtoRetries) * r.cfg.ProtoTimeout):
			r.cancelFreeAndNotify(key, class, attemptNo, log, "reservation responder: idle reservation timed out")
		case <-ctx.Done():
		}

	default:
		log.Warn("unexpected reply to RRES", "state", reply.State.String())
	}
}

// cancelAndFree transitions the reservation to RCAN and frees its
// resources, without notifying the orchestrator.
func (r *Responder) cancelAndFree(key registry.ReservationKey, class cos.Class, log hclog.Logger, msg string) {
	r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
		pr.State = registry.ResRCAN
	})
	r.freeOnce(key)
	log.Warn(msg)
}

// cancelFreeAndNotify does the same as cancelAndFree, then also sends an
// RCAN toward the orchestrator: the two paths (no reply within all
// retries, idle-reservation timeout) where the orchestrator has not
// already told us it cancelled.
func (r *Responder) cancelFreeAndNotify(key registry.ReservationKey, class cos.Class, attemptNo uint32, log hclog.Logger, msg string) {
	r.cancelAndFree(key, class, log, msg)
	r.sendBestEffort(key, &wire.Frame{State: wire.RCAN, ReqID: key.ReqID, AttemptNo: attemptNo})
}

// sendAndAwaitReply sends f toward the orchestrator and waits for a
// matching RACK/RCAN, retrying up to ProtoRetries times bounded by
// ProtoTimeout each.
func (r *Responder) sendAndAwaitReply(ctx context.Context, key registry.ReservationKey, f *wire.Frame) (*wire.Frame, bool) {
	for attempt := 0; attempt < r.cfg.ProtoRetries; attempt++ {
		ch := r.replies.register(key)
		if err := r.transport.Send(ctx, r.cfg.OrchestratorIP, f); err != nil {
			r.log.Warn("send failed", "error", err)
		}
		select {
		case reply := <-ch:
			return reply, true
		case <-time.After(r.cfg.ProtoTimeout):
			r.replies.unregister(key)
		case <-ctx.Done():
			r.replies.unregister(key)
			return nil, false
		}
	}
	return nil, false
}

func (r *Responder) sendBestEffort(key registry.ReservationKey, f *wire.Frame) {
	if err := r.transport.Send(context.Background(), r.cfg.OrchestratorIP, f); err != nil {
		r.log.Warn("best-effort send failed", "req_id", key.ReqID, "error", err)
	}
}
