package entity

import (
	"sync"

	"github.com/anusharmadobe/pm-intelligence-system/internal/types"
)

// cacheEntry is one known surface form (canonical name or alias) the
// resolver matches candidates against. Entries keep declaration order so
// tie-breaking is deterministic.
type cacheEntry struct {
	EntityID      string
	Key           string // cleaned form used for matching
	Display       string // original canonical name or alias text
	CaseSensitive bool
	Order         int
}

// Cache is the per-process resolution cache. It is an explicit, injectable
// object owned by the Resolver rather than ambient package state, so tests
// construct their own and nothing leaks between them.
//
// Entries are invalidated per entity type whenever a new entity is
// created; the next resolution for that type rebuilds from the store,
// which keeps duplicate detection correct within a batch.
type Cache struct {
	mu      sync.Mutex
	entries map[types.EntityType][]cacheEntry
}

// NewCache creates an empty resolution cache
func NewCache() *Cache {
	return &Cache{entries: make(map[types.EntityType][]cacheEntry)}
}

// get returns the cached entries for a type and whether they are present
func (c *Cache) get(entityType types.EntityType) ([]cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.entries[entityType]
	return entries, ok
}

// set replaces the cached entries for a type
func (c *Cache) set(entityType types.EntityType, entries []cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entityType] = entries
}

// Invalidate drops the cached entries for one entity type
func (c *Cache) Invalidate(entityType types.EntityType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityType)
}

// InvalidateAll drops every cached entry
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[types.EntityType][]cacheEntry)
}
