package syncer

import (
	"context"
	"fmt"

	"github.com/propsync-io/propsync/internal/ingestion"
)

// EntityCache maps external ids to internal ids for the lifetime of one run.
//
// Before a resource batch the engine prefetches every id the batch references with one
// query per referenced type. Misses fall back to a single-row lookup. Freshly upserted rows
// are added so later resources in the same run resolve them without a query.
//
// Not safe for concurrent use; a run is driven by one goroutine.
type EntityCache struct {
	store   ingestion.EntityStore
	ids     map[ingestion.ResourceType]map[string]int64
	lookups int
}

// NewEntityCache creates an empty cache.
func NewEntityCache(store ingestion.EntityStore) *EntityCache {
	return &EntityCache{
		store: store,
		ids:   make(map[ingestion.ResourceType]map[string]int64),
	}
}

// Prefetch resolves every uncached id in one bulk query.
func (c *EntityCache) Prefetch(ctx context.Context, resource ingestion.ResourceType, externalIDs []string) error {
	seen := make(map[string]struct{}, len(externalIDs))
	missing := make([]string, 0, len(externalIDs))

	for _, id := range externalIDs {
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}

		if _, ok := c.ids[resource][id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	found, err := c.store.LookupIDs(ctx, resource, missing)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", resource, err)
	}

	c.lookups++

	for ext, id := range found {
		c.Put(resource, ext, id)
	}

	return nil
}

// Resolve returns the internal id for an external id, querying on a cache miss.
func (c *EntityCache) Resolve(
	ctx context.Context,
	resource ingestion.ResourceType,
	externalID string,
) (int64, bool, error) {
	if id, ok := c.ids[resource][externalID]; ok {
		return id, true, nil
	}

	id, found, err := c.store.LookupID(ctx, resource, externalID)
	if err != nil {
		return 0, false, err
	}

	c.lookups++

	if found {
		c.Put(resource, externalID, id)
	}

	return id, found, nil
}

// Put records an id.
func (c *EntityCache) Put(resource ingestion.ResourceType, externalID string, id int64) {
	m, ok := c.ids[resource]
	if !ok {
		m = make(map[string]int64)
		c.ids[resource] = m
	}

	m[externalID] = id
}

// Len returns how many ids of a type are cached.
func (c *EntityCache) Len(resource ingestion.ResourceType) int {
	return len(c.ids[resource])
}

// Lookups returns how many store queries the cache has issued.
func (c *EntityCache) Lookups() int {
	return c.lookups
}
