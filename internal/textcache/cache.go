// Package textcache caches text extracted from binary content, keyed by blob ID.
// The cache is bounded by total bytes and entries expire after a fixed TTL.
package textcache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMaxBytes is the default byte budget (5 MiB).
	DefaultMaxBytes int64 = 5 * 1024 * 1024

	// DefaultTTL is the default entry lifetime.
	DefaultTTL = 5 * time.Hour

	// ErrorText marks a blob whose extraction failed, so it is not retried.
	ErrorText = "TextExtractionError"

	// EmptyText marks a blob that yielded no text.
	EmptyText = ""
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Bytes     int64
	MaxBytes  int64
	TTL       time.Duration
}

// Cache is an extracted-text cache. A Cache with a non-positive byte budget
// is disabled: Get always misses and Put drops the value.
type Cache struct {
	maxBytes int64
	ttl      time.Duration
	lru      *expirable.LRU[string, string]

	mu        sync.Mutex
	bytes     atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache with the given byte budget and TTL.
func New(maxBytes int64, ttl time.Duration) *Cache {
	c := &Cache{maxBytes: maxBytes, ttl: ttl}
	if maxBytes <= 0 {
		return c
	}
	c.lru = expirable.NewLRU[string, string](0, c.onEvict, ttl)
	return c
}

// NewDefault creates a cache with DefaultMaxBytes and DefaultTTL.
func NewDefault() *Cache {
	return New(DefaultMaxBytes, DefaultTTL)
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.lru != nil
}

// Get returns the cached text for blobID. path only annotates debug logs.
func (c *Cache) Get(path, blobID string) (string, bool) {
	if c.lru == nil {
		c.misses.Add(1)
		return "", false
	}

	text, ok := c.lru.Get(blobID)
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	if text == ErrorText {
		slog.Debug("text_cache_error_hit", slog.String("path", path), slog.String("blob_id", blobID))
	}
	return text, true
}

// Put caches text for blobID. Values larger than the whole budget are skipped.
func (c *Cache) Put(blobID, text string) {
	if c.lru == nil {
		return
	}
	w := weight(blobID, text)
	if w > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove first so the evict callback settles the old weight exactly once.
	c.lru.Remove(blobID)
	c.lru.Add(blobID, text)
	c.bytes.Add(w)

	for c.bytes.Load() > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evictions.Add(1)
	}
}

// PutError records that extraction failed for blobID.
func (c *Cache) PutError(blobID string) {
	c.Put(blobID, ErrorText)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes.Store(0)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Bytes:     c.bytes.Load(),
		MaxBytes:  c.maxBytes,
		TTL:       c.ttl,
	}
	if c.lru != nil {
		s.Entries = c.lru.Len()
	}
	return s
}

// onEvict runs under the LRU's lock for removals, expiry and purges.
func (c *Cache) onEvict(key, value string) {
	c.bytes.Add(-weight(key, value))
}

func weight(key, value string) int64 {
	return int64(len(key) + len(value))
}
