package registry

import (
	"context"
	"fmt"

	"github.com/solaius/model-harvester/pkg/ha"
	"github.com/solaius/model-harvester/pkg/objstore"
)

// Backend kinds.
const (
	BackendGorm   = "gorm"
	BackendShards = "shards"
)

// Config selects and configures the registry storage.
type Config struct {
	Backend     string  `yaml:"backend"`
	Dialect     string  `yaml:"dialect"`
	DSN         string  `yaml:"dsn"`
	Shards      int     `yaml:"shards"`
	Prefix      string  `yaml:"prefix"`
	DecayFactor float64 `yaml:"decayFactor"`

	Store objstore.Config `yaml:"store"`
}

// DefaultConfig returns a local sqlite registry.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendGorm,
		Dialect:     "sqlite",
		DSN:         "harvest.db",
		Shards:      DefaultShards,
		Prefix:      "registry",
		DecayFactor: DefaultDecayFactor,
	}
}

// OpenBackend builds the storage backend described by cfg.
func OpenBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendGorm:
		db, err := OpenDB(cfg.Dialect, cfg.DSN)
		if err != nil {
			return nil, err
		}
		b := NewGormBackend(db)
		if err := ha.ConfigFromEnv().MigrationLocker(db).WithLock(ctx, b.AutoMigrate); err != nil {
			return nil, err
		}
		return b, nil
	case BackendShards:
		store, err := objstore.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		return NewShardBackend(store, cfg.Prefix, cfg.Shards), nil
	default:
		return nil, fmt.Errorf("unsupported registry backend: %s", cfg.Backend)
	}
}
