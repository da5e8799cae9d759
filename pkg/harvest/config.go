package harvest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solaius/model-harvester/pkg/compliance"
	"github.com/solaius/model-harvester/pkg/dedupe"
	"github.com/solaius/model-harvester/pkg/export"
	"github.com/solaius/model-harvester/pkg/objstore"
	"github.com/solaius/model-harvester/pkg/registry"
)

const (
	// DefaultLimit is the per-run fetch size of a source.
	DefaultLimit = 5000
	// DefaultMaxOffset is where the rotational offset wraps back to zero.
	DefaultMaxOffset = 300000
	// DefaultMultiStrategyThreshold is the limit above which multi-strategy
	// fetching is used when the adapter supports it.
	DefaultMultiStrategyThreshold = 1000
)

// SourceConfig declares one upstream catalog.
type SourceConfig struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// IsEnabled reports whether the source should be harvested. Sources are
// enabled unless explicitly disabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Sources is the ordered source list. In YAML it is either a sequence of
// source entries or a mapping keyed by source name; mapping order is kept.
type Sources []SourceConfig

// UnmarshalYAML accepts both source list forms. In the mapping form the key
// is the source name and, when type is omitted, also the adapter type.
func (s *Sources) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []SourceConfig
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	case yaml.MappingNode:
		list := make([]SourceConfig, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			var src SourceConfig
			if val.Kind != yaml.ScalarNode || val.Tag != "!!null" {
				if err := val.Decode(&src); err != nil {
					return fmt.Errorf("source %q: %w", key.Value, err)
				}
			}
			src.Name = key.Value
			if src.Type == "" {
				src.Type = key.Value
			}
			list = append(list, src)
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: sources must be a list or a mapping", node.Line)
	}
}

// StateConfig locates the harvest state record. With a store configured the
// record is kept under Key in that store.
type StateConfig struct {
	Path  string           `yaml:"path"`
	Key   string           `yaml:"key,omitempty"`
	Store *objstore.Config `yaml:"store,omitempty"`
}

// ScoringConfig controls FNI scoring after a harvest.
type ScoringConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigPath string `yaml:"configPath,omitempty"`
}

// Config is the ingestion configuration. Sources run in declared order.
type Config struct {
	Sources                Sources           `yaml:"sources"`
	Deduplication          dedupe.Config     `yaml:"deduplication"`
	Compliance             compliance.Config `yaml:"compliance"`
	Registry               registry.Config   `yaml:"registry"`
	State                  StateConfig       `yaml:"state"`
	Output                 export.Config     `yaml:"output"`
	Scoring                ScoringConfig     `yaml:"scoring"`
	Concurrency            int               `yaml:"concurrency"`
	MultiStrategyThreshold int               `yaml:"multiStrategyThreshold"`
}

// DefaultConfig returns a configuration with no sources.
func DefaultConfig() Config {
	return Config{
		Deduplication:          dedupe.DefaultConfig(),
		Compliance:             compliance.DefaultConfig(),
		Registry:               registry.DefaultConfig(),
		State:                  StateConfig{Path: "harvest-state.json"},
		Output:                 export.DefaultConfig(),
		Concurrency:            1,
		MultiStrategyThreshold: DefaultMultiStrategyThreshold,
	}
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse harvest config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads the YAML file at path, applies HARVEST_* environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read harvest config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment:
// HARVEST_CONCURRENCY, HARVEST_STATE_PATH, HARVEST_OUTPUT_PATH,
// HARVEST_REGISTRY_BACKEND, HARVEST_REGISTRY_DIALECT, HARVEST_REGISTRY_DSN,
// HARVEST_REGISTRY_DECAY_FACTOR, HARVEST_BLOCK_NSFW, HARVEST_DISABLED_SOURCES
// (comma separated source names).
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HARVEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency = n
		}
	}

	if v := os.Getenv("HARVEST_STATE_PATH"); v != "" {
		c.State.Path = v
	}

	if v := os.Getenv("HARVEST_OUTPUT_PATH"); v != "" {
		c.Output.Path = v
	}

	if v := os.Getenv("HARVEST_REGISTRY_BACKEND"); v != "" {
		c.Registry.Backend = v
	}

	if v := os.Getenv("HARVEST_REGISTRY_DIALECT"); v != "" {
		c.Registry.Dialect = v
	}

	if v := os.Getenv("HARVEST_REGISTRY_DSN"); v != "" {
		c.Registry.DSN = v
	}

	if v := os.Getenv("HARVEST_REGISTRY_DECAY_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.Registry.DecayFactor = f
		}
	}

	if v := os.Getenv("HARVEST_BLOCK_NSFW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Compliance.BlockNSFW = b
		}
	}

	if v := os.Getenv("HARVEST_DISABLED_SOURCES"); v != "" {
		disabled := make(map[string]bool)
		for _, name := range strings.Split(v, ",") {
			disabled[strings.TrimSpace(name)] = true
		}
		off := false
		for i := range c.Sources {
			if disabled[c.Sources[i].Name] {
				c.Sources[i].Enabled = &off
			}
		}
	}
}

// Validate checks source declarations and numeric settings.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate source name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("source %q: type is required", s.Name))
		}
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.MultiStrategyThreshold < 0 {
		errs = append(errs, fmt.Errorf("multiStrategyThreshold must not be negative"))
	}
	return errors.Join(errs...)
}

// EnabledSources returns the sources to harvest, in declared order.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}
