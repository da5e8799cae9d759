// Package dedupe collapses a normalized batch into unique entities.
package dedupe

import (
	"fmt"
	"sort"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Config controls deduplication. Only entities within one batch are compared.
type Config struct {
	Enabled         bool                `yaml:"enabled"`
	MergeStats      bool                `yaml:"mergeStats"`
	FieldStrategies map[string]Strategy `yaml:"fieldStrategies,omitempty"`
}

// DefaultConfig returns dedup enabled with statistics merging on.
func DefaultConfig() Config {
	return Config{Enabled: true, MergeStats: true}
}

// Deduplicator merges duplicates by entity id.
type Deduplicator struct {
	enabled    bool
	mergeStats bool
	fields     []string
	strategies map[string]Strategy
}

// Result is the output of one Dedupe call.
type Result struct {
	Entities []*entity.Entity
	// Collapsed is the number of input entities folded into an earlier one.
	Collapsed int
}

// New validates cfg and builds a Deduplicator. Field strategies in cfg
// override the defaults one field at a time.
func New(cfg Config) (*Deduplicator, error) {
	strategies := make(map[string]Strategy, len(DefaultFieldStrategies))
	for f, s := range DefaultFieldStrategies {
		strategies[f] = s
	}
	for f, s := range cfg.FieldStrategies {
		if err := validateStrategy(f, s); err != nil {
			return nil, fmt.Errorf("invalid deduplication config: %w", err)
		}
		strategies[f] = s
	}

	fields := make([]string, 0, len(strategies))
	for f := range strategies {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return &Deduplicator{
		enabled:    cfg.Enabled,
		mergeStats: cfg.MergeStats,
		fields:     fields,
		strategies: strategies,
	}, nil
}

// Strategy returns the strategy applied to field.
func (d *Deduplicator) Strategy(field string) Strategy {
	return d.strategies[field]
}

// Dedupe collapses entities sharing an id. Output keeps the order of first
// occurrence. The input entities are never modified; merged records are
// clones. When dedup is disabled the batch is returned unchanged.
func (d *Deduplicator) Dedupe(batch []*entity.Entity) Result {
	if !d.enabled {
		return Result{Entities: batch}
	}

	index := make(map[string]int, len(batch))
	cloned := make(map[int]bool)
	out := make([]*entity.Entity, 0, len(batch))
	collapsed := 0

	for _, e := range batch {
		if e == nil {
			continue
		}
		i, seen := index[e.ID]
		if !seen {
			index[e.ID] = len(out)
			out = append(out, e)
			continue
		}

		collapsed++
		if !d.mergeStats {
			continue
		}
		if !cloned[i] {
			out[i] = out[i].Clone()
			cloned[i] = true
		}
		d.merge(out[i], e)
	}

	return Result{Entities: out, Collapsed: collapsed}
}

func (d *Deduplicator) merge(dst, src *entity.Entity) {
	for _, f := range d.fields {
		mergeField(f, d.strategies[f], dst, src)
	}
	dst.SourceTrail = mergeTrail(dst.SourceTrail, src.SourceTrail)
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
	if dst.CreatedAt.IsZero() || (!src.CreatedAt.IsZero() && src.CreatedAt.Before(dst.CreatedAt)) {
		dst.CreatedAt = src.CreatedAt
	}
	if src.ComplianceStatus == entity.ComplianceBlocked {
		dst.ComplianceStatus = entity.ComplianceBlocked
	}
}

func mergeTrail(a, b []entity.TrailEntry) []entity.TrailEntry {
	return unionBy(a, b, func(t entity.TrailEntry) string { return t.Source + "|" + t.SourceURL })
}
