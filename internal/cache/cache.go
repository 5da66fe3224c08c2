// Package cache is a bounded fingerprint -> artifact cache: reads are
// read-mostly, writes are serialized internally by ristretto itself, and
// this is explicitly the one component in the system permitted to degrade
// silently under contention or eviction pressure — callers must treat a
// miss as "go compute it", never as an error.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto instance keyed by a string fingerprint of
// whatever identifies the cached artifact (for example a manifest's path,
// size and mtime).
type Cache struct {
	rc  *ristretto.Cache[string, any]
	ttl time.Duration
}

// Config bounds the cache by entry count and per-entry TTL.
type Config struct {
	MaxEntries int64
	TTL        time.Duration
}

// New builds a Cache sized per cfg. NumCounters follows ristretto's own
// guidance of ~10x MaxEntries for accurate frequency estimation.
func New(cfg Config) (*Cache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		// Construction failure means misconfiguration, not contention; this
		// is the one case the cache does NOT swallow, since it means the
		// cache will never work at all rather than occasionally missing.
		return nil, err
	}
	return &Cache{rc: rc, ttl: cfg.TTL}, nil
}

// Get returns the cached value for fingerprint and whether it was present.
// A false here means "not cached" and carries no distinction from "cached
// but evicted under pressure".
func (c *Cache) Get(fingerprint string) (any, bool) {
	if c == nil || c.rc == nil {
		return nil, false
	}
	return c.rc.Get(fingerprint)
}

// Set stores value under fingerprint for ttl, capped at the cache's
// configured TTL when one is set. The write is fire-and-forget: ristretto
// may drop it under load, which is an accepted silent degrade, not a
// caller-visible error.
func (c *Cache) Set(fingerprint string, value any, ttl time.Duration) {
	if c == nil || c.rc == nil {
		return
	}
	if c.ttl > 0 && (ttl <= 0 || ttl > c.ttl) {
		ttl = c.ttl
	}
	c.rc.SetWithTTL(fingerprint, value, 1, ttl)
}

// Wait blocks until ristretto has applied every Set call issued so far.
// Production callers never need this - a miss just means "go compute it" -
// but tests that Set then immediately Get need it for a deterministic hit.
func (c *Cache) Wait() {
	if c == nil || c.rc == nil {
		return
	}
	c.rc.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil || c.rc == nil {
		return
	}
	c.rc.Close()
}
