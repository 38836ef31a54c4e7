// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/registry"
)

func TestBoltStore_SaveAndLoadRequest(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "tegu.db"), time.Second)
	require.NoError(t, err)
	defer store.Close()

	req := registry.NewConsumerRequest("0000000001", cos.Class{ID: 1, Name: "best-effort"}, []byte("payload"))
	req.Attempts[0] = registry.Attempt{AttemptNo: 0, Host: "10.0.0.1"}

	require.NoError(t, store.SaveRequest(context.Background(), req))

	got, found, err := store.LoadRequest("0000000001")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, req.ID, got.ID)
	require.Equal(t, []byte("payload"), got.Payload)
}

func TestBoltStore_SaveReservation(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "tegu.db"), time.Second)
	require.NoError(t, err)
	defer store.Close()

	key := registry.ReservationKey{ConsumerIP: "10.0.0.5", ReqID: "0000000001"}
	res := registry.NewProviderReservation(key, cos.Class{ID: 1})
	require.NoError(t, store.SaveReservation(context.Background(), res))
}

func TestMemIndexStore_ByState(t *testing.T) {
	dir := t.TempDir()
	bolt, err := OpenBoltStore(filepath.Join(dir, "tegu.db"), time.Second)
	require.NoError(t, err)
	defer bolt.Close()

	store, err := NewMemIndexStore(bolt)
	require.NoError(t, err)

	req := registry.NewConsumerRequest("0000000001", cos.Class{ID: 1}, nil)
	req.State = registry.ReqDRES
	require.NoError(t, store.SaveRequest(context.Background(), req))

	found, err := store.ByState(registry.ReqDRES)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "0000000001", found[0].ID)

	found, err = store.ByState(registry.ReqFAIL)
	require.NoError(t, err)
	require.Len(t, found, 0)
}

func TestWorker_DrainsQueueOnShutdown(t *testing.T) {
	recorded := make(chan string, 4)
	fake := fakeStore{recorded: recorded}

	w := NewWorker(fake, nil, 4)
	ctx, cancel := context.WithCancel(context.Background())

	req := registry.NewConsumerRequest("0000000001", cos.Class{ID: 1}, nil)
	w.EnqueueRequest(req)

	go w.Run(ctx)
	cancel()

	select {
	case id := <-recorded:
		require.Equal(t, "0000000001", id)
	case <-time.After(time.Second):
		t.Fatal("worker did not drain queued write before exit")
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not signal done")
	}
}

type fakeStore struct {
	recorded chan string
}

func (f fakeStore) SaveRequest(_ context.Context, req *registry.ConsumerRequest) error {
	f.recorded <- req.ID
	return nil
}

func (f fakeStore) SaveReservation(context.Context, *registry.ProviderReservation) error {
	return nil
}
