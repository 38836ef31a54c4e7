// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hashicorp/tegu-engine/internal/registry"
)

var (
	requestBucket     = []byte("Request")
	attemptBucket     = []byte("Attempt")
	reservationBucket = []byte("Response")
)

// BoltStore is the default Store: one bucket per entity, keyed by each
// entity's composite id.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// ensures its buckets exist.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("persistence: open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{requestBucket, attemptBucket, reservationBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// SaveRequest writes req and its attempts: the request itself under its
// request id, each attempt under "<request id>/<attempt no>".
func (b *BoltStore) SaveRequest(ctx context.Context, req *registry.ConsumerRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := *req
	attempts := snapshot.Attempts
	snapshot.Attempts = nil

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("persistence: marshal request: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(requestBucket).Put([]byte(req.ID), data); err != nil {
			return err
		}
		ab := tx.Bucket(attemptBucket)
		for n, a := range attempts {
			ad, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("persistence: marshal attempt %d: %w", n, err)
			}
			key := fmt.Sprintf("%s/%d", req.ID, n)
			if err := ab.Put([]byte(key), ad); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveReservation writes res under its ReservationKey.
func (b *BoltStore) SaveReservation(ctx context.Context, res *registry.ProviderReservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("persistence: marshal reservation: %w", err)
	}

	key := fmt.Sprintf("%s/%s", res.Key.ConsumerIP, res.Key.ReqID)
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(reservationBucket).Put([]byte(key), data)
	})
}

// LoadRequest is a read-side helper used by tests; the REST facade
// itself is out of scope.
func (b *BoltStore) LoadRequest(id string) (registry.ConsumerRequest, bool, error) {
	var req registry.ConsumerRequest
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(requestBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &req)
	})
	return req, found, err
}
