package runs

import (
	"os"
	"strconv"
	"time"
)

// Config controls the harvest scheduler.
type Config struct {
	Interval      time.Duration // Time between scheduled harvests. Default 6h.
	RunOnStart    bool          // Harvest immediately when the scheduler starts. Default true.
	Score         bool          // Score the registry after every successful harvest. Default true.
	StaleTimeout  time.Duration // Running runs older than this are marked failed. Default 2h.
	RetentionDays int           // How long to keep finished runs. Default 30.
	Enabled       bool          // Whether scheduled harvests run at all. Default true.
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:      6 * time.Hour,
		RunOnStart:    true,
		Score:         true,
		StaleTimeout:  2 * time.Hour,
		RetentionDays: 30,
		Enabled:       true,
	}
}

// ConfigFromEnv loads config from environment variables.
// HARVEST_SCHEDULE_INTERVAL_MINUTES, HARVEST_SCHEDULE_RUN_ON_START,
// HARVEST_SCHEDULE_SCORE, HARVEST_RUN_STALE_TIMEOUT_MINUTES,
// HARVEST_RUN_RETENTION_DAYS, HARVEST_SCHEDULE_ENABLED
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("HARVEST_SCHEDULE_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Interval = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("HARVEST_SCHEDULE_RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RunOnStart = b
		}
	}

	if v := os.Getenv("HARVEST_SCHEDULE_SCORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Score = b
		}
	}

	if v := os.Getenv("HARVEST_RUN_STALE_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StaleTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("HARVEST_RUN_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("HARVEST_SCHEDULE_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
