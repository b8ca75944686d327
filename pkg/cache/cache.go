// Package cache persists confirmed relationships between runs. Entries
// are keyed by the unordered table pair, so at most one relationship is
// cached per pair of tables regardless of how many column-level links
// exist between them.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// DefaultTTL is how long a cached relationship stays valid.
const DefaultTTL = 24 * time.Hour

// Entry is one cached relationship with its write timestamp.
type Entry struct {
	Relationship *models.Relationship `json:"relationship"`
	CachedAt     time.Time            `json:"cached_at"`
}

// Store is the durable backing for the cache. Implementations: a
// JSON-file-per-key directory store and a sqlite store.
type Store interface {
	Get(key string) (*Entry, bool, error)
	Put(key string, entry *Entry) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

// Key builds the order-independent cache key for a table pair.
func Key(tableA, tableB string) string {
	if tableB < tableA {
		tableA, tableB = tableB, tableA
	}
	return tableA + "_" + tableB
}

// Stats summarizes cache occupancy.
type Stats struct {
	MemoryEntries int           `json:"memory_entries"`
	StoreEntries  int           `json:"store_entries"`
	TTL           time.Duration `json:"ttl"`
}

// Cache is an in-memory map over an optional durable store. Entries
// older than the TTL are treated as absent and evicted on read.
type Cache struct {
	mu     sync.RWMutex
	memory map[string]*Entry
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New creates a cache over the given store. A nil store yields a
// memory-only cache. A non-positive ttl falls back to DefaultTTL.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		memory: make(map[string]*Entry),
		store:  store,
		ttl:    ttl,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
}

// Get looks up the cached relationship for a table pair, in either
// argument order. Stale and unreadable entries are treated as absent.
func (c *Cache) Get(tableA, tableB string) (*models.Relationship, bool) {
	key := Key(tableA, tableB)

	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()

	if !ok && c.store != nil {
		var err error
		entry, ok, err = c.store.Get(key)
		if err != nil {
			c.logger.Warn("unreadable cache entry treated as absent",
				zap.String("key", key),
				zap.Error(err))
			c.evict(key)
			return nil, false
		}
		if ok {
			c.mu.Lock()
			c.memory[key] = entry
			c.mu.Unlock()
		}
	}
	if !ok {
		return nil, false
	}

	if c.now().Sub(entry.CachedAt) > c.ttl {
		c.logger.Debug("evicting stale cache entry", zap.String("key", key))
		c.evict(key)
		return nil, false
	}
	return entry.Relationship, true
}

// Put caches a relationship under its table-pair key, replacing any
// previous entry for that pair.
func (c *Cache) Put(rel *models.Relationship) error {
	key := Key(rel.SourceTable, rel.TargetTable)
	entry := &Entry{Relationship: rel, CachedAt: c.now()}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Put(key, entry); err != nil {
		return fmt.Errorf("persist cache entry %s: %w", key, err)
	}
	return nil
}

// Clear removes entries whose key contains the pattern; an empty
// pattern removes everything. Returns the number of removed keys.
func (c *Cache) Clear(pattern string) (int, error) {
	keys := make(map[string]struct{})
	c.mu.Lock()
	for key := range c.memory {
		if pattern == "" || strings.Contains(key, pattern) {
			delete(c.memory, key)
			keys[key] = struct{}{}
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		stored, err := c.store.Keys()
		if err != nil {
			return len(keys), fmt.Errorf("list cache keys: %w", err)
		}
		for _, key := range stored {
			if pattern == "" || strings.Contains(key, pattern) {
				if err := c.store.Delete(key); err != nil {
					return len(keys), fmt.Errorf("delete cache entry %s: %w", key, err)
				}
				keys[key] = struct{}{}
			}
		}
	}
	return len(keys), nil
}

// Stats reports entry counts for the memory layer and the store.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	memory := len(c.memory)
	c.mu.RUnlock()

	stats := Stats{MemoryEntries: memory, TTL: c.ttl}
	if c.store != nil {
		if keys, err := c.store.Keys(); err == nil {
			stats.StoreEntries = len(keys)
		}
	}
	return stats
}

// Close releases the backing store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) evict(key string) {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(key); err != nil {
			c.logger.Warn("failed to evict cache entry", zap.String("key", key), zap.Error(err))
		}
	}
}
