// Package ha provides database locks that let several harvester processes
// share one registry database: a migration lock around schema changes and
// a run lock so that only one process harvests at a time.
package ha

import (
	"os"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Lock names used by the harvester.
const (
	MigrationLock = "harvest-migration"
	RunLock       = "harvest-run"
)

// Config holds configuration for the locks.
type Config struct {
	// MigrationLockEnabled serializes AutoMigrate calls across processes.
	MigrationLockEnabled bool

	// RunLockEnabled prevents two processes from harvesting into the same
	// registry at once. The in-process scheduler guard applies regardless.
	RunLockEnabled bool

	// Owner is recorded with table-based locks. Defaults to the pod name
	// or the hostname.
	Owner string
}

// DefaultConfig returns a Config with both locks enabled.
func DefaultConfig() *Config {
	return &Config{
		MigrationLockEnabled: true,
		RunLockEnabled:       true,
		Owner:                defaultOwner(),
	}
}

// ConfigFromEnv reads lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - HARVEST_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - HARVEST_RUN_LOCK_ENABLED: "true" or "false" (default: "true")
//   - POD_NAME: lock owner identity
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("HARVEST_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HARVEST_RUN_LOCK_ENABLED"); v != "" {
		cfg.RunLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	return cfg
}

func defaultOwner() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}

// MigrationLocker returns the lock to hold around AutoMigrate on db.
func (c *Config) MigrationLocker(db *gorm.DB) Locker {
	if !c.MigrationLockEnabled {
		return Disabled()
	}
	return NewLocker(db, MigrationLock, WithOwner(c.Owner))
}

// RunLocker returns the lock to hold for the duration of a harvest. It
// fails fast when another process is harvesting; a lock older than
// staleAfter (24h when unset) is considered abandoned.
func (c *Config) RunLocker(db *gorm.DB, staleAfter time.Duration) Locker {
	if !c.RunLockEnabled {
		return Disabled()
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return NewLocker(db, RunLock, WithOwner(c.Owner), WithAttempts(1, 0), WithStaleAfter(staleAfter))
}
