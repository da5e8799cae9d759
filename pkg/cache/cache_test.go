package cache

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestResponseCacheGetSet(t *testing.T) {
	c := newResponseCache(10, time.Minute, time.Now)

	_, ok := c.Get("/entities/hf:org/a")
	assert.False(t, ok)

	c.Set("/entities/hf:org/a", Response{ContentType: "application/json", Body: []byte(`{"id":"hf:org/a"}`)})
	got, ok := c.Get("/entities/hf:org/a")
	require.True(t, ok)
	assert.Equal(t, "application/json", got.ContentType)
	assert.JSONEq(t, `{"id":"hf:org/a"}`, string(got.Body))
	assert.Equal(t, 1, c.Len())
}

func TestResponseCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := newResponseCache(10, time.Minute, clock.now)

	c.Set("/runs", Response{Body: []byte("[]")})
	clock.t = clock.t.Add(59 * time.Second)
	_, ok := c.Get("/runs")
	assert.True(t, ok)

	clock.t = clock.t.Add(2 * time.Second)
	_, ok = c.Get("/runs")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is removed on read")
}

func TestResponseCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newResponseCache(2, time.Minute, time.Now)

	c.Set("a", Response{Body: []byte("a")})
	c.Set("b", Response{Body: []byte("b")})
	_, _ = c.Get("a")
	c.Set("c", Response{Body: []byte("c")})

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestResponseCachePurge(t *testing.T) {
	c := newResponseCache(10, time.Minute, time.Now)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("/entities/%d", i), Response{})
	}
	c.Purge()
	assert.Zero(t, c.Len())
}

func TestNilCacheIsInert(t *testing.T) {
	var c *ResponseCache
	c.Set("k", Response{})
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Purge()
	assert.Zero(t, c.Len())

	assert.Nil(t, New(&Config{Enabled: false}))
	assert.Nil(t, New(nil))
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func TestMiddlewareHitAndMiss(t *testing.T) {
	c := newResponseCache(10, time.Minute, time.Now)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusOK))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/hf:org/a", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"call":1}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/hf:org/a", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"call":1}`, w.Body.String())
	assert.Equal(t, 1, calls)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/hf:org/a?fields=name", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"), "query string is part of the key")
	assert.Equal(t, 2, calls)
}

func TestMiddlewareSkipsErrorsAndWrites(t *testing.T) {
	c := newResponseCache(10, time.Minute, time.Now)
	calls := 0
	notFound := Middleware(c)(countingHandler(&calls, http.StatusNotFound))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		notFound.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entities/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	assert.Equal(t, 2, calls)

	posts := 0
	post := Middleware(c)(countingHandler(&posts, http.StatusOK))
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		post.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))
		assert.Empty(t, w.Header().Get("X-Cache"))
	}
	assert.Equal(t, 2, posts)
	assert.Zero(t, c.Len())
}

func TestMiddlewarePurgeServesFreshData(t *testing.T) {
	c := newResponseCache(10, time.Minute, time.Now)
	calls := 0
	h := Middleware(c)(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sources", nil))
	c.Purge()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sources", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestMiddlewareNilCachePassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(nil)(countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))
		assert.Empty(t, w.Header().Get("X-Cache"))
	}
	assert.Equal(t, 2, calls)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HARVEST_CACHE_ENABLED", "false")
	t.Setenv("HARVEST_CACHE_TTL_SECONDS", "15")
	t.Setenv("HARVEST_CACHE_MAX_SIZE", "50")

	cfg := ConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 15*time.Second, cfg.TTL)
	assert.Equal(t, 50, cfg.MaxSize)
}

func TestConfigFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("HARVEST_CACHE_TTL_SECONDS", "-3")
	t.Setenv("HARVEST_CACHE_MAX_SIZE", "lots")

	cfg := ConfigFromEnv()
	def := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, def.TTL, cfg.TTL)
	assert.Equal(t, def.MaxSize, cfg.MaxSize)
}
