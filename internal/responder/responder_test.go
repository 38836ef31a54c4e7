// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package responder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/tegu-engine/internal/accountant"
	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/executor"
	"github.com/hashicorp/tegu-engine/internal/registry"
	"github.com/hashicorp/tegu-engine/internal/transport"
	"github.com/hashicorp/tegu-engine/internal/wire"
)

const (
	orchIP     = "10.0.0.1"
	providerIP = "10.0.0.2"
	consumerIP = "10.0.0.3"
)

func newTestResponder(t *testing.T, fabric *transport.Loopback) (*Responder, *registry.Registry, *accountant.Accountant) {
	t.Helper()
	reg := registry.New()
	acc := accountant.New(accountant.Capacity{CPU: 4, RAM: 1024, Disk: 100}, 0, false)
	catalog, err := cos.NewCatalog([]cos.Class{{ID: 1, Name: "best-effort", MinCPU: 1, MinRAM: 128, MinDisk: 1}})
	require.NoError(t, err)

	cfg := Config{
		SelfMAC:        "aa:bb:cc:dd:ee:ff",
		SelfIP:         providerIP,
		OrchestratorIP: orchIP,
		IsResource:     true,
		ProtoTimeout:   50 * time.Millisecond,
		ProtoRetries:   3,
	}
	r := New(cfg, reg, acc, catalog, executor.EchoExecutor{}, nil, fabric.Endpoint(providerIP), nil)
	return r, reg, acc
}

func TestResponder_FullReservationAndExecutionFlow(t *testing.T) {
	fabric := transport.NewLoopback()
	orch := fabric.Endpoint(orchIP)
	consumer := fabric.Endpoint(consumerIP)
	r, _, acc := newTestResponder(t, fabric)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 1. Orchestrator sends RREQ on the consumer's behalf.
	rreq := &wire.Frame{State: wire.RREQ, ReqID: "0000000001", CosID: 1, SrcMAC: "11:22:33:44:55:66", SrcIP: consumerIP}
	r.HandleFrame(ctx, rreq, orchIP)

	cpuFree, _, _ := acc.Current()
	require.Equal(t, 3.0, cpuFree, "reservation should have consumed 1 cpu")

	// The reservation responder asynchronously sends RRES to the orchestrator.
	in, err := orch.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.RRES, in.Frame.State)
	require.Equal(t, consumerIP, in.Frame.SrcIP)

	// 2. Orchestrator acknowledges with RACK.
	r.HandleFrame(ctx, &wire.Frame{State: wire.RACK, ReqID: "0000000001", SrcIP: consumerIP}, orchIP)

	// 3. Consumer sends DREQ with a payload.
	dreq := &wire.Frame{State: wire.DREQ, ReqID: "0000000001", Data: []byte("hello")}
	r.HandleFrame(ctx, dreq, consumerIP)

	// The execution responder asynchronously answers with DRES.
	in, err = consumer.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DRES, in.Frame.State)
	require.Equal(t, []byte("hello"), in.Frame.Data)

	// 4. Consumer's DACK, relayed by the orchestrator, frees the reservation.
	dack := &wire.Frame{State: wire.DACK, ReqID: "0000000001", SrcIP: consumerIP}
	r.HandleFrame(ctx, dack, orchIP)

	require.Eventually(t, func() bool {
		cpuFree, _, _ := acc.Current()
		return cpuFree == 4.0
	}, time.Second, 5*time.Millisecond, "reservation should have been freed")
}

func TestResponder_RREQFailsWhenResourcesExhausted(t *testing.T) {
	fabric := transport.NewLoopback()
	orch := fabric.Endpoint(orchIP)
	r, _, acc := newTestResponder(t, fabric)

	// Exhaust capacity directly.
	require.True(t, acc.Reserve(accountant.Requirement{CPU: 4, RAM: 1024, Disk: 100}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rreq := &wire.Frame{State: wire.RREQ, ReqID: "0000000002", CosID: 1, SrcMAC: "aa:aa:aa:aa:aa:aa", SrcIP: consumerIP}
	r.HandleFrame(ctx, rreq, orchIP)

	in, err := orch.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.RCAN, in.Frame.State)
}

func TestResponder_IgnoresRREQFromNonOrchestrator(t *testing.T) {
	fabric := transport.NewLoopback()
	r, reg, _ := newTestResponder(t, fabric)

	ctx := context.Background()
	rreq := &wire.Frame{State: wire.RREQ, ReqID: "0000000003", CosID: 1, SrcIP: consumerIP}
	r.HandleFrame(ctx, rreq, "10.0.0.99")

	_, exists := reg.GetReservation(registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000003"})
	require.False(t, exists)
}

func TestResponder_LateDRESAfterAcceptedRequest(t *testing.T) {
	fabric := transport.NewLoopback()
	orch := fabric.Endpoint(orchIP)
	r, reg, _ := newTestResponder(t, fabric)

	req := registry.NewConsumerRequest("0000000004", cos.Class{ID: 1}, nil)
	req.State = registry.ReqDRES
	req.DresAt = time.Now()
	req.Host = "10.0.0.9"
	req.Result = []byte("already-done")
	reg.InsertRequest(req)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Same host: DACK.
	r.HandleFrame(ctx, &wire.Frame{State: wire.DRES, ReqID: "0000000004"}, "10.0.0.9")
	in, err := orch.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DACK, in.Frame.State)

	// Different host: DCAN.
	r.HandleFrame(ctx, &wire.Frame{State: wire.DRES, ReqID: "0000000004"}, "10.0.0.77")
	in, err = orch.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DCAN, in.Frame.State)

	// Original request must never be mutated.
	got, _ := reg.GetRequest("0000000004")
	require.Equal(t, []byte("already-done"), got.Result)
}

func TestResponder_DWAITWhileExecuting(t *testing.T) {
	fabric := transport.NewLoopback()
	consumer := fabric.Endpoint(consumerIP)
	r, reg, _ := newTestResponder(t, fabric)

	key := registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000005"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1, MinCPU: 1})
	res.State = registry.ResDREQ
	res.Executing = true
	reg.InsertReservation(res)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.HandleFrame(ctx, &wire.Frame{State: wire.DREQ, ReqID: "0000000005", AttemptNo: 1, Data: []byte("x")}, consumerIP)

	in, err := consumer.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DWAIT, in.Frame.State)
}

func TestResponder_CachedDRESOnRepeatDREQ(t *testing.T) {
	fabric := transport.NewLoopback()
	consumer := fabric.Endpoint(consumerIP)
	r, reg, _ := newTestResponder(t, fabric)

	key := registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000006"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1})
	res.State = registry.ResDRES
	res.Result = []byte("cached")
	reg.InsertReservation(res)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.HandleFrame(ctx, &wire.Frame{State: wire.DREQ, ReqID: "0000000006", AttemptNo: 2}, consumerIP)

	in, err := consumer.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DRES, in.Frame.State)
	require.Equal(t, []byte("cached"), in.Frame.Data)
}

func TestResponder_CancelledReservationReReservesOnLateDREQ(t *testing.T) {
	fabric := transport.NewLoopback()
	consumer := fabric.Endpoint(consumerIP)
	r, reg, acc := newTestResponder(t, fabric)

	key := registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000007"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1, MinCPU: 1, MinRAM: 128, MinDisk: 1})
	res.State = registry.ResRCAN
	res.Freed = true
	reg.InsertReservation(res)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r.HandleFrame(ctx, &wire.Frame{State: wire.DREQ, ReqID: "0000000007", AttemptNo: 2, Data: []byte("again")}, consumerIP)

	in, err := consumer.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DRES, in.Frame.State)
	require.Equal(t, []byte("again"), in.Frame.Data)

	cpuFree, _, _ := acc.Current()
	require.Equal(t, 3.0, cpuFree, "re-reservation should hold capacity until acked")
}

func TestResponder_CancelledReservationRepliesDCANWhenStillExhausted(t *testing.T) {
	fabric := transport.NewLoopback()
	consumer := fabric.Endpoint(consumerIP)
	r, reg, acc := newTestResponder(t, fabric)

	require.True(t, acc.Reserve(accountant.Requirement{CPU: 4, RAM: 1024, Disk: 100}))

	key := registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000008"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1, MinCPU: 1, MinRAM: 128, MinDisk: 1}).WithConsumerMAC("11:22:33:44:55:66")
	res.State = registry.ResRCAN
	res.Freed = true
	reg.InsertReservation(res)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.HandleFrame(ctx, &wire.Frame{State: wire.DREQ, ReqID: "0000000008", AttemptNo: 2, Data: []byte("x")}, consumerIP)

	in, err := consumer.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.DCAN, in.Frame.State)
	require.Equal(t, "11:22:33:44:55:66", in.Frame.SrcMAC)
	require.Equal(t, consumerIP, in.Frame.SrcIP)
	require.NotEmpty(t, in.Frame.HostMAC)
	require.NotEmpty(t, in.Frame.HostIP)
}

func TestResponder_DoubleDACKFreesOnce(t *testing.T) {
	fabric := transport.NewLoopback()
	r, reg, acc := newTestResponder(t, fabric)

	require.True(t, acc.Reserve(accountant.Requirement{CPU: 1, RAM: 128, Disk: 1}))

	key := registry.ReservationKey{ConsumerIP: consumerIP, ReqID: "0000000009"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1, MinCPU: 1, MinRAM: 128, MinDisk: 1})
	res.State = registry.ResDRES
	reg.InsertReservation(res)

	ctx := context.Background()
	dack := &wire.Frame{State: wire.DACK, ReqID: "0000000009", SrcIP: consumerIP}
	r.HandleFrame(ctx, dack, orchIP)
	r.HandleFrame(ctx, dack, orchIP)

	cpuFree, ramFree, diskFree := acc.Current()
	require.Equal(t, 4.0, cpuFree)
	require.Equal(t, 1024.0, ramFree)
	require.Equal(t, 100.0, diskFree)
}
