// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package persistence

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/copystructure"

	"github.com/hashicorp/tegu-engine/internal/registry"
)

// Worker drains a bounded queue of save calls in the background.
// Enqueue never blocks on disk I/O; a full queue drops the write (the
// FSM that produced it already moved on, so losing it is strictly a
// persistence gap, not a protocol correctness gap).
type Worker struct {
	store Store
	log   hclog.Logger
	queue chan job
	done  chan struct{}
}

// NewWorker creates a Worker with the given queue depth; Run starts
// draining it.
func NewWorker(store Store, log hclog.Logger, queueDepth int) *Worker {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	w := &Worker{
		store: store,
		log:   log.Named("persistence"),
		queue: make(chan job, queueDepth),
		done:  make(chan struct{}),
	}
	return w
}

// Run drains the queue until ctx is cancelled and the queue is empty.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case j := <-w.queue:
			w.save(ctx, j)
		case <-ctx.Done():
			// Drain what's already queued before exiting.
			for {
				select {
				case j := <-w.queue:
					w.save(context.Background(), j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) save(ctx context.Context, j job) {
	var err error
	switch {
	case j.req != nil:
		err = w.store.SaveRequest(ctx, j.req)
	case j.res != nil:
		err = w.store.SaveReservation(ctx, j.res)
	}
	if err != nil {
		w.log.Warn("persistence write failed", "error", err)
	}
}

// EnqueueRequest queues a best-effort save of req, dropping it with a
// log line if the queue is full rather than blocking the caller's FSM.
// req is deep-copied before queueing so later mutations by the FSM
// that owns it can't race the background write.
func (w *Worker) EnqueueRequest(req *registry.ConsumerRequest) {
	clone, err := copystructure.Copy(req)
	if err != nil {
		w.log.Warn("snapshot request for persistence failed", "error", err)
		return
	}
	select {
	case w.queue <- job{req: clone.(*registry.ConsumerRequest)}:
	default:
		w.log.Warn("persistence queue full, dropping request write", "request_id", req.ID)
	}
}

// EnqueueReservation queues a best-effort save of res, same semantics
// as EnqueueRequest.
func (w *Worker) EnqueueReservation(res *registry.ProviderReservation) {
	clone, err := copystructure.Copy(res)
	if err != nil {
		w.log.Warn("snapshot reservation for persistence failed", "error", err)
		return
	}
	select {
	case w.queue <- job{res: clone.(*registry.ProviderReservation)}:
	default:
		w.log.Warn("persistence queue full, dropping reservation write", "key", res.Key)
	}
}

// Done returns a channel closed once Run has drained and exited.
func (w *Worker) Done() <-chan struct{} { return w.done }
