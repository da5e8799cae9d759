package objstore

import (
	"context"
	"fmt"
)

// Kind names a Store backend.
type Kind string

const (
	KindDir Kind = "dir"
	KindS3  Kind = "s3"
)

// Config selects and configures a Store backend.
type Config struct {
	Kind     Kind   `yaml:"kind"`
	Dir      string `yaml:"dir"`
	S3Config `yaml:",inline"`
}

// Open builds the Store described by cfg. An empty kind means a directory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindDir:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("directory store requires dir")
		}
		return NewDirStore(cfg.Dir)
	case KindS3:
		return NewS3Store(ctx, cfg.S3Config)
	default:
		return nil, fmt.Errorf("unsupported object store kind: %s", cfg.Kind)
	}
}
