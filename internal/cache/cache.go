// Package cache keeps recently loaded datasets in memory. Entries are keyed
// by source identity and are only served while the source's modification
// time and size are unchanged.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/crimestats/crimestats/internal/dataset"
	"github.com/crimestats/crimestats/internal/source"
)

// Loader reads a dataset from its source.
type Loader func(ctx context.Context, src source.Source) (*dataset.Dataset, error)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
}

// Snapshot is a point-in-time copy of the cache metrics.
type Snapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type entry struct {
	id   source.Identity
	data *dataset.Dataset
}

// DatasetCache is a bounded LRU of loaded datasets. It is safe for
// concurrent use; concurrent misses for the same source version share one
// load.
type DatasetCache struct {
	entries *lru.Cache[string, entry]
	loads   singleflight.Group
	metrics Metrics
}

// New creates a cache holding at most maxEntries datasets.
func New(maxEntries int) (*DatasetCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be positive, got %d", maxEntries)
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	return &DatasetCache{entries: entries}, nil
}

// Get returns the dataset for src, calling load when the source is not
// cached or has changed since it was cached.
func (c *DatasetCache) Get(ctx context.Context, src source.Source, load Loader) (*dataset.Dataset, error) {
	id, err := source.Stat(ctx, src)
	if err != nil {
		return nil, err
	}

	if e, ok := c.entries.Get(id.Name); ok && sameVersion(e.id, id) {
		c.metrics.Hits.Add(1)
		return e.data, nil
	}
	c.metrics.Misses.Add(1)

	flightKey := fmt.Sprintf("%s@%d/%d", id.Name, id.ModTime.UnixNano(), id.Size)
	v, err, _ := c.loads.Do(flightKey, func() (interface{}, error) {
		data, err := load(ctx, src)
		if err != nil {
			return nil, err
		}
		// A stale entry for the same name is replaced in place.
		if evicted := c.entries.Add(id.Name, entry{id: id, data: data}); evicted {
			c.metrics.Evictions.Add(1)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dataset.Dataset), nil
}

// Invalidate drops the entry for the named source. It reports whether an
// entry was present.
func (c *DatasetCache) Invalidate(name string) bool {
	return c.entries.Remove(name)
}

// Purge drops every entry.
func (c *DatasetCache) Purge() {
	c.entries.Purge()
}

// Metrics returns current cache metrics.
func (c *DatasetCache) Metrics() Snapshot {
	return Snapshot{
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		Evictions: c.metrics.Evictions.Load(),
		Entries:   c.entries.Len(),
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *DatasetCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func sameVersion(a, b source.Identity) bool {
	return a.Name == b.Name && a.Size == b.Size && a.ModTime.Equal(b.ModTime)
}

