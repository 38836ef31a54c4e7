// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package responder

import (
	"context"
	"time"

	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/executor"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

// runExecutionResponder invokes the executor, caches the result, and
// repeatedly offers DRES to the consumer until a DACK/DCAN arrives or
// the retry budget is exhausted.
func (r *Responder) runExecutionResponder(ctx context.Context, key registry.ReservationKey, class cos.Class, payload []byte, attemptNo uint32) {
	log := r.log.With("req_id", key.ReqID, "consumer_ip", key.ConsumerIP)

	result, err := r.execute(ctx, class.ID, payload)
	switch {
	case err == nil:
		// fall through to DRES delivery
	case r.cfg.ExecutionErrorPolicy == executor.ExecutionErrorCancel:
		log.Warn("executor failed, cancelling reservation", "error", err)
		r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
			pr.State = registry.ResRCAN
		})
		r.freeOnce(key)
		r.sendBestEffort(key, &wire.Frame{State: wire.DCAN, ReqID: key.ReqID, AttemptNo: attemptNo})
		return
	default: // ExecutionErrorEmptyDRES
		log.Warn("executor failed, answering with empty result", "error", err)
		result = nil
	}

	r.reg.UpdateReservation(key, func(pr *registry.ProviderReservation) {
		pr.State = registry.ResDRES
		pr.Result = result
		pr.Executing = false
	})
	if r.persist != nil {
		if res, ok := r.reg.GetReservation(key); ok {
			r.persist.EnqueueReservation(res)
		}
	}

	wake := r.reg.WaitForAck(key)
	for attempt := 0; attempt < r.cfg.ProtoRetries; attempt++ {
		if err := r.transport.Send(ctx, key.ConsumerIP, &wire.Frame{
			State: wire.DRES, ReqID: key.ReqID, AttemptNo: attemptNo, Data: result,
		}); err != nil {
			log.Warn("send DRES failed", "error", err)
		}

		select {
		case <-wake:
			return // DACK/DCAN received: handleDACK/handleDCAN already freed
		case <-time.After(r.cfg.ProtoTimeout):
			// retry
		case <-ctx.Done():
			return
		}
	}

	// Exhausted: free exactly once if no DACK/DCAN ever arrived.
	r.freeOnce(key)
}
