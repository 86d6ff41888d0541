package store

import (
	"context"
	"sync"
)

// TableStateCache is a thread-safe in-memory view of which tables exist in
// the store. It saves one metadata round-trip per worker per run: existence
// is checked against the cache first, and only a miss falls through to the
// authoritative metadata query, whose positive answer is then cached.
//
// Entries are added when this process creates a table and removed when it
// drops or renames one; they are never implicitly expired. A table dropped
// by another process is therefore not noticed until something here next
// misses the cache. Negative answers are not cached, so a table created
// externally is picked up on the next lookup.
//
// The cache is scoped to one Store, not a package global, so each test can
// construct an isolated instance.
type TableStateCache struct {
	mu       sync.Mutex
	existing map[string]struct{}
	lookup   func(ctx context.Context, name string) (bool, error)
}

func newTableStateCache(lookup func(ctx context.Context, name string) (bool, error)) *TableStateCache {
	return &TableStateCache{
		existing: make(map[string]struct{}),
		lookup:   lookup,
	}
}

// Exists reports whether the named table exists. A cache miss is resolved
// with the authoritative metadata query; it never answers "unknown" as
// "false".
func (c *TableStateCache) Exists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	_, ok := c.existing[name]
	c.mu.Unlock()
	if ok {
		return true, nil
	}

	// The metadata query runs outside the lock: it may block on store I/O
	// and must not stall other workers' cache hits.
	exists, err := c.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		c.MarkCreated(name)
	}
	return exists, nil
}

// MarkCreated records that the named table now exists.
func (c *TableStateCache) MarkCreated(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.existing[name] = struct{}{}
}

// Invalidate removes the named table from the cache. Called at drop and
// rename boundaries.
func (c *TableStateCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.existing, name)
}
