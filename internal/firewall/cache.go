package firewall

import (
	"sync"
	"time"

	"github.com/wirehole/wirehole/internal/store"
)

// cacheTTL is the read-through cache lifetime: stale data only delays
// rule changes taking effect by at most this long (spec §4.2).
const cacheTTL = 60 * time.Second

type cacheEntry struct {
	rules    []store.FirewallRule
	loadedAt time.Time
}

// Cache is a process-wide, TTL-expiring mapping of project id to its
// firewall rules — a read-through optimization in front of the store,
// per spec §4.2 (C2).
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry
}

// NewCache constructs an empty rule cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int64]cacheEntry)}
}

// Get returns the cached rules for project, or nil if absent, expired,
// or force is true.
func (c *Cache) Get(project int64, force bool) []store.FirewallRule {
	if force {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[project]
	if !ok || time.Since(e.loadedAt) > cacheTTL {
		return nil
	}
	return e.rules
}

// Set stamps the cache for project with rules, timestamped now.
func (c *Cache) Set(project int64, rules []store.FirewallRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[project] = cacheEntry{rules: rules, loadedAt: time.Now()}
}

// Invalidate clears the cache entry for project, or the entire cache if
// project is nil.
func (c *Cache) Invalidate(project *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if project == nil {
		c.entries = make(map[int64]cacheEntry)
		return
	}
	delete(c.entries, *project)
}
