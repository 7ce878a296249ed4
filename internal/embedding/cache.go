// Package embedding produces fixed-dimension vectors for text through a
// Genkit embedder, fronted by a content-addressed TTL cache.
package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL bounds the lifetime of a cached embedding.
	DefaultTTL = 24 * time.Hour

	// DefaultSweepInterval is how often the background sweep purges expired
	// entries that are never re-read.
	DefaultSweepInterval = 5 * time.Minute
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize collapses newlines and whitespace runs to single spaces and
// trims. Cache keys are derived from normalized text, so every caller must
// normalize identically or lookups silently miss.
func Normalize(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// CacheKey returns the content hash of normalized text.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	vector []float32
	expiry time.Time
}

// Cache is an in-memory embedding cache with TTL expiry. Entries are
// immutable once written; expired entries are dropped lazily on read and by
// a background sweep. A miss is never an error, only a signal to recompute.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	close sync.Once
}

// CacheOptions configures NewCache. Zero values select the defaults.
type CacheOptions struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// NewCache creates a cache and starts its background sweep goroutine.
// Callers must Close the cache when done.
func NewCache(opts CacheOptions) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep(interval)
	return c
}

// Get returns the vector stored under key, or false when absent or expired.
// Expired entries are removed on read.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.vector, true
}

// Set stores a vector under key. A non-positive ttl selects the cache
// default.
func (c *Cache) Set(key string, vector []float32, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{vector: vector, expiry: c.now().Add(ttl)}
}

// Cleanup removes all expired entries and returns how many were dropped.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries, counting expired ones not yet
// swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.close.Do(func() { close(c.done) })
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.done:
			return
		}
	}
}
