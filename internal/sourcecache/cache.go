// Package sourcecache holds fetched module source text keyed by resolved URL.
//
// The cache is shared by every execution in the process. Keys are always the
// fully resolved URL and never anything about the caller, so one request
// cannot observe another's data through it. Expired entries are treated as
// absent on lookup and overwritten by the next Put; nothing is persisted.
package sourcecache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long fetched source stays fresh.
const DefaultTTL = time.Hour

// Entry is one cached module source.
type Entry struct {
	Key       string    // resolved URL
	Location  string    // URL the payload was served from, after redirects
	Payload   string    // module source text
	ExpiresAt time.Time // entry is a miss at or after this instant
}

// Cache is safe for concurrent use. Readers never block each other and a Put
// replaces an entry atomically, last writer wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for url if present and not expired.
func (c *Cache) Get(url string) (string, bool) {
	e, ok := c.Lookup(url)
	return e.Payload, ok
}

// Lookup returns the entry for url if present and not expired.
func (c *Cache) Lookup(url string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.ExpiresAt) {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores text for url for ttl. A non-positive ttl uses DefaultTTL.
func (c *Cache) Put(url, text string, ttl time.Duration) {
	c.PutFrom(url, url, text, ttl)
}

// PutFrom stores text for url and records location as where it was served
// from. A hit on url then reports location, exactly as the first fetch did.
func (c *Cache) PutFrom(url, location, text string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := Entry{Key: url, Location: location, Payload: text, ExpiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	c.entries[url] = e
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Hits() uint64   { return c.hits.Load() }
func (c *Cache) Misses() uint64 { return c.misses.Load() }
