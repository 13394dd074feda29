package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Loader produces a fresh catalog snapshot, typically from a live server.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Cache is a Catalog whose snapshot is swapped atomically on refresh.
// Readers never block; a failed refresh keeps the previous snapshot.
type Cache struct {
	current atomic.Pointer[Snapshot]
	loader  Loader
}

// NewCache creates a Cache serving initial until the first successful Refresh.
func NewCache(initial *Snapshot, loader Loader) *Cache {
	if initial == nil {
		initial = Builtin()
	}
	c := &Cache{loader: loader}
	c.current.Store(initial)
	return c
}

// Snapshot returns the snapshot currently served.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Cache) RelationByOid(oid Oid) (*Relation, bool) {
	return c.current.Load().RelationByOid(oid)
}

func (c *Cache) NamespaceByOid(oid Oid) (*Namespace, bool) {
	return c.current.Load().NamespaceByOid(oid)
}

func (c *Cache) LookupRelation(schema, name string, searchPath []string) (*Relation, bool) {
	return c.current.Load().LookupRelation(schema, name, searchPath)
}

// Refresh loads a new snapshot and swaps it in.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.loader == nil {
		return nil
	}
	snap, err := c.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	c.current.Store(snap)
	slog.Debug("Catalog snapshot refreshed.", "relations", snap.Len())
	return nil
}

// Run refreshes the cache every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if c.loader == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("Catalog refresh failed, keeping previous snapshot.", "error", err)
			}
		}
	}
}
