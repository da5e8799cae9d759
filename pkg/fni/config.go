package fni

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidWeights is returned when the composite weights do not sum to 1.0.
var ErrInvalidWeights = errors.New("fni weights must sum to 1.0")

// Weights are the composite weights of the four sub-scores.
type Weights struct {
	P float64 `yaml:"P"`
	V float64 `yaml:"V"`
	C float64 `yaml:"C"`
	U float64 `yaml:"U"`
}

// Normalization holds the saturation points of the popularity and velocity signals.
type Normalization struct {
	MaxLikes     float64 `yaml:"MAX_LIKES"`
	MaxDownloads float64 `yaml:"MAX_DOWNLOADS"`
	MaxStars     float64 `yaml:"MAX_STARS"`
	MaxVelocity  float64 `yaml:"MAX_VELOCITY"`
}

// UtilityBonuses are the additive utility points per capability.
type UtilityBonuses struct {
	OneCommand float64 `yaml:"ONE_COMMAND"`
	Quantized  float64 `yaml:"QUANTIZED"`
	Docs       float64 `yaml:"DOCS"`
	Container  float64 `yaml:"CONTAINER"`
	API        float64 `yaml:"API"`
}

// AnomalyConfig holds the anomaly thresholds.
type AnomalyConfig struct {
	GrowthMultiplier       float64 `yaml:"GROWTH_MULTIPLIER"`
	MinRatio               float64 `yaml:"MIN_RATIO"`
	MaxRatio               float64 `yaml:"MAX_RATIO"`
	MinContentForHighLikes int     `yaml:"MIN_CONTENT_FOR_HIGH_LIKES"`
	HighLikes              int64   `yaml:"HIGH_LIKES"`
}

// Config configures the FNI engine.
type Config struct {
	Weights         Weights        `yaml:"weights"`
	Normalization   Normalization  `yaml:"normalization"`
	BigOrgAllowList []string       `yaml:"bigOrgAllowList"`
	UtilityBonuses  UtilityBonuses `yaml:"utilityBonuses"`
	Anomaly         AnomalyConfig  `yaml:"anomaly"`
	ColdStartDays   int            `yaml:"coldStartDays"`
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{P: 0.30, V: 0.30, C: 0.20, U: 0.20},
		Normalization: Normalization{
			MaxLikes:     500000,
			MaxDownloads: 1000000,
			MaxStars:     100000,
			MaxVelocity:  1000,
		},
		BigOrgAllowList: []string{
			"meta-llama", "facebook", "google", "microsoft", "openai", "mistralai",
			"nvidia", "huggingface", "stabilityai", "deepseek-ai", "qwen",
			"allenai", "bigscience", "eleutherai", "tiiuae", "anthropic",
		},
		UtilityBonuses: UtilityBonuses{
			OneCommand: 30,
			Quantized:  25,
			Docs:       15,
			Container:  10,
			API:        10,
		},
		Anomaly: AnomalyConfig{
			GrowthMultiplier:       10,
			MinRatio:               1,
			MaxRatio:               500,
			MinContentForHighLikes: 500,
			HighLikes:              10000,
		},
		ColdStartDays: 7,
	}
}

// Validate checks weights and thresholds.
func (c Config) Validate() error {
	sum := c.Weights.P + c.Weights.V + c.Weights.C + c.Weights.U
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("%w: got %.3f", ErrInvalidWeights, sum)
	}
	for _, w := range []float64{c.Weights.P, c.Weights.V, c.Weights.C, c.Weights.U} {
		if w < 0 {
			return fmt.Errorf("%w: negative weight %.3f", ErrInvalidWeights, w)
		}
	}
	n := c.Normalization
	if n.MaxLikes <= 0 || n.MaxDownloads <= 0 || n.MaxStars <= 0 || n.MaxVelocity <= 0 {
		return errors.New("fni normalization maxima must be positive")
	}
	if c.Anomaly.MinRatio > c.Anomaly.MaxRatio {
		return fmt.Errorf("fni anomaly MIN_RATIO %.2f exceeds MAX_RATIO %.2f", c.Anomaly.MinRatio, c.Anomaly.MaxRatio)
	}
	if c.ColdStartDays < 0 {
		return errors.New("fni coldStartDays must not be negative")
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read fni config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse fni config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
