package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/solaius/model-harvester/pkg/objstore"
)

// Sink receives the exported record set.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Config selects the export destination. With a store configured the
// records go to Key in that store, otherwise to the local file Path.
type Config struct {
	Path  string           `yaml:"path"`
	Key   string           `yaml:"key"`
	Store *objstore.Config `yaml:"store,omitempty"`
}

// DefaultConfig writes to out/entities.json.
func DefaultConfig() Config {
	return Config{Path: filepath.Join("out", "entities.json")}
}

// OpenSink builds the Sink described by cfg.
func OpenSink(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Store != nil {
		store, err := objstore.Open(ctx, *cfg.Store)
		if err != nil {
			return nil, err
		}
		key := cfg.Key
		if key == "" {
			key = "entities.json"
		}
		return NewObjectSink(store, key), nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("export path is required")
	}
	return NewFileSink(cfg.Path), nil
}

// FileSink writes records as a JSON array to a local file.
type FileSink struct {
	path string
}

// NewFileSink creates a FileSink.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Write replaces the file through a temp file and rename.
func (s *FileSink) Write(_ context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename export file: %w", err)
	}
	return nil
}

// ObjectSink writes records as a JSON array to an object store key.
type ObjectSink struct {
	store objstore.Store
	key   string
}

// NewObjectSink creates an ObjectSink.
func NewObjectSink(store objstore.Store, key string) *ObjectSink {
	return &ObjectSink{store: store, key: key}
}

func (s *ObjectSink) Write(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	return s.store.Put(ctx, s.key, data)
}
