// Package cache provides an in-memory response cache for the read-only
// endpoints of the harvest API. Entries expire after a TTL and the whole
// cache is purged whenever a harvest run finishes.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Response is one cached HTTP response.
type Response struct {
	ContentType string
	Body        []byte
}

type entry struct {
	resp      Response
	expiresAt time.Time
}

// ResponseCache is a thread-safe LRU of responses keyed by request URI.
// A nil *ResponseCache is valid and caches nothing.
type ResponseCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

// New creates a cache from cfg. It returns nil when cfg is nil or caching
// is disabled.
func New(cfg *Config) *ResponseCache {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return newResponseCache(cfg.MaxSize, cfg.TTL, time.Now)
}

func newResponseCache(maxSize int, ttl time.Duration, now func() time.Time) *ResponseCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ResponseCache{lru: lru.New(maxSize), ttl: ttl, now: now}
}

// Get returns the response cached under key. Expired entries are removed.
func (c *ResponseCache) Get(key string) (Response, bool) {
	if c == nil {
		return Response{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return Response{}, false
	}
	e := v.(entry)
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return Response{}, false
	}
	return e.resp, true
}

// Set stores resp under key, evicting the least recently used entry when
// the cache is full.
func (c *ResponseCache) Set(key string, resp Response) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{resp: resp, expiresAt: c.now().Add(c.ttl)})
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}

// Len returns the number of entries, including expired ones not yet
// removed.
func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
