package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the response cache of the harvest API.
type Config struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// TTL bounds how long a response is served from the cache. Responses
	// are also dropped after every harvest run.
	TTL time.Duration

	// MaxSize is the maximum number of cached responses.
	MaxSize int
}

// DefaultConfig returns a Config with caching enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		TTL:     60 * time.Second,
		MaxSize: 1000,
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - HARVEST_CACHE_ENABLED: "true" or "false" (default: "true")
//   - HARVEST_CACHE_TTL_SECONDS: entry lifetime in seconds (default: 60)
//   - HARVEST_CACHE_MAX_SIZE: max cached responses (default: 1000)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("HARVEST_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HARVEST_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("HARVEST_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}
	return cfg
}
