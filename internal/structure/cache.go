// Package structure caches hierarchy discovery results for a fixed TTL.
package structure

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/emilianohg/clickmirror/internal/telemetry"
)

const DefaultTTL = time.Hour

// DiscoveryTimeout bounds one shared discovery, which outlives the caller
// that started it.
const DiscoveryTimeout = 2 * time.Minute

type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Snapshot
	gens    map[string]uint64

	group singleflight.Group
}

func New(f Fetcher, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		fetcher: f,
		ttl:     ttl,
		timeout: DiscoveryTimeout,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*Snapshot),
		gens:    make(map[string]uint64),
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Hierarchy returns the snapshot for scope, discovering it when absent or
// older than the TTL. Concurrent misses on one scope share a single
// discovery, which a waiter giving up on its own ctx does not cancel. If
// a refresh fails and an expired snapshot exists, that snapshot is
// returned marked Stale.
func (c *Cache) Hierarchy(ctx context.Context, scope Scope) (*Snapshot, error) {
	key := scope.Key()

	c.mu.RLock()
	snap, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if ok && now.Sub(snap.FetchedAt) < c.ttl {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		return snap, nil
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		gen := c.gens[key]
		if cur, hit := c.entries[key]; hit && c.now().Sub(cur.FetchedAt) < c.ttl {
			c.mu.RUnlock()
			return cur, nil
		}
		c.mu.RUnlock()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		fresh, err := Discover(dctx, c.fetcher, scope)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		fresh.FetchedAt = c.now()
		// an Invalidate during discovery wins over this result
		if c.gens[key] == gen {
			c.entries[key] = fresh
		}
		return fresh, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		if ok {
			c.logger.Warn("structure refresh failed, serving expired snapshot", "scope", key, "error", err)
			stale := *snap
			stale.Stale = true
			return &stale, nil
		}
		return nil, err
	}

	return v.(*Snapshot), nil
}

// Invalidate drops scope immediately regardless of its age.
func (c *Cache) Invalidate(scope Scope) {
	key := scope.Key()
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	for key := range c.entries {
		c.gens[key]++
		c.group.Forget(key)
	}
	c.entries = make(map[string]*Snapshot)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
