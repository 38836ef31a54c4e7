// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package cos holds the immutable Class of Service catalog the
// orchestrator publishes at startup via its GET /config endpoint.
package cos

import (
	"fmt"
	"time"
)

// Class is an immutable record describing the minimum resources a
// request of this Class of Service requires, plus the response-time
// budget callers may use to detect SLA violations off Attempt timing.
type Class struct {
	ID              uint32
	Name            string
	MinCPU          float64
	MinRAM          float64 // MB
	MinDisk         float64 // GB
	MaxResponseTime time.Duration
}

// Catalog indexes Classes by numeric id.
type Catalog struct {
	classes map[uint32]Class
}

// NewCatalog builds a Catalog from a slice of Classes, as received from
// the orchestrator at startup. Duplicate ids are rejected.
func NewCatalog(classes []Class) (*Catalog, error) {
	idx := make(map[uint32]Class, len(classes))
	for _, c := range classes {
		if _, exists := idx[c.ID]; exists {
			return nil, fmt.Errorf("cos: duplicate class id %d", c.ID)
		}
		idx[c.ID] = c
	}
	return &Catalog{classes: idx}, nil
}

// Get returns the Class for id, or false if the orchestrator never
// advertised it.
func (c *Catalog) Get(id uint32) (Class, bool) {
	class, ok := c.classes[id]
	return class, ok
}

// Len reports how many classes the catalog holds.
func (c *Catalog) Len() int {
	return len(c.classes)
}
