// Package properties keeps the process-wide property schema cache: a map
// from property id to its declared data type, hydrated from storage at
// Indexer startup and extended by the edit handler as new properties are
// created. Readers take a shared lock; the edit handler is the only writer.
package properties

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/geo-kg/indexer/model"
)

// Loader is the slice of the storage contract hydration needs.
type Loader interface {
	ListProperties(ctx context.Context) ([]model.Property, error)
}

// Cache is a concurrency-safe property_id → data_type lookup.
type Cache struct {
	mu    sync.RWMutex
	types map[uuid.UUID]model.DataType
}

// New returns an empty cache. Call Hydrate before serving lookups so
// pre-existing properties validate correctly on the first block.
func New() *Cache {
	return &Cache{types: make(map[uuid.UUID]model.DataType)}
}

// Hydrate loads every persisted property into the cache, replacing whatever
// was there.
func (c *Cache) Hydrate(ctx context.Context, loader Loader) error {
	props, err := loader.ListProperties(ctx)
	if err != nil {
		return fmt.Errorf("hydrate properties cache: %w", err)
	}

	types := make(map[uuid.UUID]model.DataType, len(props))
	for _, p := range props {
		types[p.ID] = p.DataType
	}

	c.mu.Lock()
	c.types = types
	c.mu.Unlock()
	return nil
}

// Get returns the data type for id. A miss is ordinary; the property may be
// unknown to the pipeline; and never an error shape that halts indexing.
func (c *Cache) Get(id uuid.UUID) (model.DataType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	return t, ok
}

// Set records a data type for id, overwriting any previous in-memory entry.
// Intra-edit squash semantics (last occurrence wins) come from the caller
// invoking Set in op order; the durable first-write-wins rule is enforced by
// storage, not here.
func (c *Cache) Set(id uuid.UUID, t model.DataType) {
	c.mu.Lock()
	c.types[id] = t
	c.mu.Unlock()
}

// Len reports the number of cached properties.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}
