// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package initiator implements the consumer-side protocol FSM.
// SendRequest is the sole entry point; every call runs the outer
// host-request loop and, once a provider is chosen, the inner
// data-exchange loop, on its own goroutine.
package initiator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/time/rate"

	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/persistence"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/transport"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

// Config carries the addressing and timing constants the Initiator
// needs but does not own.
type Config struct {
	SelfMAC string
	SelfIP  string

	OrchestratorMAC string
	OrchestratorIP  string

	ProtoTimeout time.Duration
	ProtoRetries int
}

// Initiator drives consumer requests through host discovery and data
// exchange.
type Initiator struct {
	cfg Config

	reg       *registry.Registry
	catalog   *cos.Catalog
	persist   *persistence.Worker
	transport transport.Sender

	log hclog.Logger

	replies *replyRouter

	// limiter caps how fast this Initiator issues HREQ/DREQ frames, so a
	// retry storm against an unresponsive orchestrator or provider can't
	// flood the wire. Nil means unlimited (the default, and what every
	// existing test expects).
	limiter *rate.Limiter
}

// New builds an Initiator.
func New(cfg Config, reg *registry.Registry, catalog *cos.Catalog, persist *persistence.Worker, sender transport.Sender, log hclog.Logger) *Initiator {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Initiator{
		cfg:       cfg,
		reg:       reg,
		catalog:   catalog,
		persist:   persist,
		transport: sender,
		log:       log.Named("initiator"),
		replies:   newReplyRouter(),
	}
}

// WithRateLimiter bounds how fast SendRequest issues HREQ/DREQ frames.
// Returns the Initiator so it can be chained onto New.
func (i *Initiator) WithRateLimiter(l *rate.Limiter) *Initiator {
	i.limiter = l
	return i
}

// newReqID mints a fixed-width request id. go-uuid gives us randomness
// with negligible collision odds; we keep only enough of it to fit the
// wire format's ReqIDLen.
func newReqID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("initiator: generating request id: %w", err)
	}
	id = strings.ReplaceAll(id, "-", "")
	return id[:wire.ReqIDLen], nil
}

// HandleFrame offers f to whichever SendRequest call is awaiting a
// reply for f's request id. It reports whether the frame was claimed;
// an engine-level listener should fall back to the Responder when it
// returns false. A DRES that arrives for a request with no registered
// waiter (the outer loop has already given up) is still accepted here;
// the Responder's own late-DRES path only fires once the request has
// already accepted a result.
func (i *Initiator) HandleFrame(f *wire.Frame) bool {
	if i.replies.deliver(f.ReqID, f) {
		return true
	}
	if f.State == wire.DRES {
		return i.acceptLateDRES(f)
	}
	return false
}

func (i *Initiator) acceptLateDRES(f *wire.Frame) bool {
	if _, ok := i.reg.GetRequest(f.ReqID); !ok {
		return false
	}
	accepted := false
	i.reg.UpdateRequest(f.ReqID, func(r *registry.ConsumerRequest) {
		if r.Accepted() {
			return
		}
		r.DresAt = time.Now()
		r.Result = f.Data
		r.State = registry.ReqDRES
		accepted = true
	})
	if !accepted {
		return false
	}
	i.reg.NotifyConsumer(f.ReqID)
	i.sendTo(i.cfg.OrchestratorIP, &wire.Frame{
		State: wire.DACK, ReqID: f.ReqID, AttemptNo: f.AttemptNo,
		HostMAC: i.cfg.SelfMAC, HostIP: i.cfg.SelfIP,
	})
	if i.persist != nil {
		if r, ok := i.reg.GetRequest(f.ReqID); ok {
			i.persist.EnqueueRequest(r)
		}
	}
	return true
}

func (i *Initiator) sendTo(destIP string, f *wire.Frame) {
	if err := i.transport.Send(context.Background(), destIP, f); err != nil {
		i.log.Warn("send failed", "dest", destIP, "state", f.State.String(), "error", err)
	}
}

// SendRequest issues a request of the given class carrying payload. It
// blocks until a result is obtained, the request fails outright, or ctx
// is cancelled.
func (i *Initiator) SendRequest(ctx context.Context, cosID uint32, payload []byte) ([]byte, error) {
	class, ok := i.catalog.Get(cosID)
	if !ok {
		return nil, fmt.Errorf("initiator: unknown cos id %d", cosID)
	}
	reqID, err := newReqID()
	if err != nil {
		return nil, err
	}

	req := registry.NewConsumerRequest(reqID, class, payload)
	i.reg.InsertRequest(req)
	log := i.log.With("req_id", reqID, "cos_id", cosID)

	// Attempts are numbered from 1; the wire format's attempt_no field
	// never carries zero.
	for attemptNo := 1; attemptNo <= i.cfg.ProtoRetries; attemptNo++ {
		hreqAt := time.Now()
		i.reg.UpdateRequest(reqID, func(r *registry.ConsumerRequest) {
			r.State = registry.ReqHREQ
			r.HreqAt = hreqAt
			r.Attempts[attemptNo] = registry.Attempt{AttemptNo: attemptNo, State: registry.ReqHREQ, HreqAt: hreqAt}
		})

		reply, ok := i.sendAndAwait(ctx, reqID, &wire.Frame{
			State: wire.HREQ, ReqID: reqID, AttemptNo: uint32(attemptNo), CosID: cosID,
		}, i.cfg.OrchestratorIP, i.cfg.ProtoTimeout*time.Duration(i.cfg.ProtoRetries))
		if !ok || reply.State != wire.HRES {
			log.Warn("no HRES within budget, retrying", "attempt", attemptNo)
			continue
		}

		host := reply.HostIP
		hresAt := time.Now()
		i.reg.UpdateRequest(reqID, func(r *registry.ConsumerRequest) {
			r.Host = host
			r.State = registry.ReqDREQ
			a := r.Attempts[attemptNo]
			a.Host, a.HresAt = host, hresAt
			r.Attempts[attemptNo] = a
		})

		result, ok := i.runDataExchange(ctx, reqID, attemptNo, host, payload)
		if ok {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// DCAN or inner-loop exhaustion: fall back to the outer loop.
	}

	req, _ = i.reg.GetRequest(reqID)
	if req.Accepted() {
		return req.Result, nil
	}
	i.reg.UpdateRequest(reqID, func(r *registry.ConsumerRequest) { r.State = registry.ReqFAIL })
	if i.persist != nil {
		if r, ok := i.reg.GetRequest(reqID); ok {
			i.persist.EnqueueRequest(r)
		}
	}
	log.Warn("outer retries exhausted, giving up")
	return nil, nil
}

// runDataExchange runs the inner data-exchange loop against the chosen
// host. Returns (result, true) once a DRES has been accepted, either
// here or through the late-DRES path while waiting out a DWAIT;
// (nil, false) otherwise (DCAN, inner-loop exhaustion, or context
// cancellation), signalling the caller to fall back to the outer loop.
func (i *Initiator) runDataExchange(ctx context.Context, reqID string, attemptNo int, host string, payload []byte) ([]byte, bool) {
	log := i.log.With("req_id", reqID, "host", host)
	retries := i.cfg.ProtoRetries

	for retries > 0 {
		if ctx.Err() != nil {
			return nil, false
		}
		reply, ok := i.sendAndAwait(ctx, reqID, &wire.Frame{
			State: wire.DREQ, ReqID: reqID, AttemptNo: uint32(attemptNo), Data: payload,
		}, host, i.cfg.ProtoTimeout)
		if !ok {
			retries--
			continue
		}

		switch reply.State {
		case wire.DWAIT:
			retries = i.cfg.ProtoRetries // reset inner retry budget
			// The provider is still executing; arm the per-request
			// wake-up event so an early DRES cuts the wait short.
			wake := i.reg.WaitForConsumer(reqID)
			select {
			case <-wake:
			case <-time.After(i.cfg.ProtoTimeout):
			case <-ctx.Done():
				return nil, false
			}
			// A DRES may have been accepted off the wake-up path (it
			// arrived with no wait outstanding); don't re-issue DREQ.
			if req, ok := i.reg.GetRequest(reqID); ok && req.Accepted() {
				return req.Result, true
			}
		case wire.DCAN:
			log.Warn("provider cancelled, falling back to outer loop")
			return nil, false
		case wire.DRES:
			return i.acceptDRES(reqID, attemptNo, reply), true
		default:
			retries--
		}
	}

	log.Warn("inner retries exhausted, marking late-eligible")
	return nil, false
}

func (i *Initiator) acceptDRES(reqID string, attemptNo int, reply *wire.Frame) []byte {
	var result []byte
	i.reg.UpdateRequest(reqID, func(r *registry.ConsumerRequest) {
		if r.Accepted() {
			result = r.Result
			return
		}
		r.DresAt = time.Now()
		r.Result = reply.Data
		r.State = registry.ReqDRES
		a := r.Attempts[attemptNo]
		a.DresAt, a.State = r.DresAt, registry.ReqDRES
		r.Attempts[attemptNo] = a
		result = reply.Data
	})

	i.sendTo(i.cfg.OrchestratorIP, &wire.Frame{
		State: wire.DACK, ReqID: reqID, AttemptNo: uint32(attemptNo),
		HostMAC: i.cfg.SelfMAC, HostIP: i.cfg.SelfIP,
	})
	if i.persist != nil {
		if r, ok := i.reg.GetRequest(reqID); ok {
			i.persist.EnqueueRequest(r)
		}
	}
	return result
}

// sendAndAwait sends f toward destIP and waits up to timeout for a
// frame addressed to reqID to arrive via HandleFrame.
func (i *Initiator) sendAndAwait(ctx context.Context, reqID string, f *wire.Frame, destIP string, timeout time.Duration) (*wire.Frame, bool) {
	ch := i.replies.register(reqID)
	defer i.replies.unregister(reqID)

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, false
		}
	}

	if err := i.transport.Send(ctx, destIP, f); err != nil {
		i.log.Warn("send failed", "dest", destIP, "state", f.State.String(), "error", err)
	}

	select {
	case reply := <-ch:
		return reply, true
	case <-time.After(timeout):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
