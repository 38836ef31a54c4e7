// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package persistence

import (
	"context"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/tegu-engine/internal/registry"
)

const requestsTable = "requests"

func newRequestIndex() (*memdb.MemDB, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			requestsTable: {
				Name: requestsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"state": {
						Name:    "state",
						Indexer: &memdb.UintFieldIndex{Field: "State"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("persistence: build request index: %w", err)
	}
	return db, nil
}

// MemIndexStore wraps BoltStore and additionally indexes terminal
// requests into an in-memory go-memdb table for fast read-side queries
// by the out-of-scope REST facade. The Bolt database remains the
// source of truth; this index starts empty in every process (nothing
// reloads it from Bolt) and is never consulted for writes.
type MemIndexStore struct {
	*BoltStore
	index *memdb.MemDB
}

func NewMemIndexStore(bolt *BoltStore) (*MemIndexStore, error) {
	db, err := newRequestIndex()
	if err != nil {
		return nil, err
	}
	return &MemIndexStore{BoltStore: bolt, index: db}, nil
}

func (m *MemIndexStore) SaveRequest(ctx context.Context, req *registry.ConsumerRequest) error {
	if err := m.BoltStore.SaveRequest(ctx, req); err != nil {
		return err
	}

	txn := m.index.Txn(true)
	snapshot := *req
	if err := txn.Insert(requestsTable, &snapshot); err != nil {
		txn.Abort()
		return fmt.Errorf("persistence: index request: %w", err)
	}
	txn.Commit()
	return nil
}

// ByState returns the terminal requests currently indexed under state.
func (m *MemIndexStore) ByState(state registry.ReqState) ([]*registry.ConsumerRequest, error) {
	txn := m.index.Txn(false)
	defer txn.Abort()

	// go-memdb's UintFieldIndex sizes its key off the argument's kind;
	// the indexed field is a uint8, so the query argument must be too.
	it, err := txn.Get(requestsTable, "state", uint8(state))
	if err != nil {
		return nil, fmt.Errorf("persistence: query by state: %w", err)
	}

	var out []*registry.ConsumerRequest
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*registry.ConsumerRequest))
	}
	return out, nil
}
