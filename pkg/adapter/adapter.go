// Package adapter defines the contract between the harvester and the
// per-source connectors that talk to upstream catalogs. Connectors register
// a Factory under a type name via Register, usually from init().
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/solaius/model-harvester/pkg/entity"
)

// ErrAdapterNotFound is returned by New when no factory is registered for a type.
var ErrAdapterNotFound = errors.New("adapter not found")

// Raw is one upstream record as the connector received it.
type Raw map[string]any

// FetchOptions controls a single page fetch.
type FetchOptions struct {
	Limit  int
	Offset int

	// Options carries the source-specific settings from the ingestion config.
	Options map[string]any
}

// Adapter fetches raw records from one upstream catalog and converts them
// into entities.
type Adapter interface {
	// Name returns the configured source name.
	Name() string

	// Fetch returns up to opts.Limit raw records starting at opts.Offset.
	Fetch(ctx context.Context, opts FetchOptions) ([]Raw, error)

	// Normalize converts one raw record into an entity. It must be pure with
	// respect to the record so that the same upstream record always yields
	// the same entity ID.
	Normalize(raw Raw) (*entity.Entity, error)
}

// MultiStrategyOptions controls a multi-strategy fetch.
type MultiStrategyOptions struct {
	LimitPerStrategy int
	Offset           int
	Options          map[string]any
}

// MultiStrategyResult is the combined output of a multi-strategy fetch.
type MultiStrategyResult struct {
	Models      []Raw
	PerStrategy map[string]int
}

// MultiStrategyFetcher is an optional capability for adapters that can
// harvest faster by splitting a large request across several upstream
// orderings (e.g. by likes, by downloads, by recency).
type MultiStrategyFetcher interface {
	Strategies() []string
	FetchMultiStrategy(ctx context.Context, opts MultiStrategyOptions) (*MultiStrategyResult, error)
}

// AsMultiStrategy returns the multi-strategy capability of a, if any.
func AsMultiStrategy(a Adapter) (MultiStrategyFetcher, bool) {
	ms, ok := a.(MultiStrategyFetcher)
	if !ok || len(ms.Strategies()) == 0 {
		return nil, false
	}
	return ms, true
}

// Factory builds an adapter for a named source from its options.
type Factory func(name string, options map[string]any) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a factory available under typeName. Registering the same
// type twice replaces the earlier factory.
func Register(typeName string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typeName] = f
}

// New builds the adapter registered under typeName.
func New(typeName, name string, options map[string]any) (Adapter, error) {
	mu.RLock()
	f, ok := factories[typeName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, typeName)
	}
	return f(name, options)
}

// Types returns the registered adapter types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Decode converts a raw record into a typed struct by round-tripping it
// through JSON. Fields declared as entity.Flexible accept either structured
// or string-encoded JSON.
func Decode(raw Raw, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode raw record: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode raw record: %w", err)
	}
	return nil
}
