package harvest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solaius/model-harvester/pkg/dedupe"
)

const testConfig = `
sources:
  - name: huggingface
    type: httpjson
    options:
      url: https://example.com/api/models
      limit: 5000
      maxOffset: 300000
  - name: github
    type: gitrepo
    enabled: false
    options:
      repoUrl: https://example.com/org/catalog.git
  - name: local
    type: yamlfile
    enabled: true
    options:
      path: catalog.yaml
deduplication:
  enabled: true
  mergeStats: true
  fieldStrategies:
    stars: sum
compliance:
  blockNSFW: false
registry:
  backend: shards
  shards: 8
  store:
    dir: data
state:
  path: state/harvest-state.json
concurrency: 2
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, []string{"huggingface", "github", "local"},
		[]string{cfg.Sources[0].Name, cfg.Sources[1].Name, cfg.Sources[2].Name})
	assert.True(t, cfg.Sources[0].IsEnabled(), "enabled by default")
	assert.False(t, cfg.Sources[1].IsEnabled())
	assert.Equal(t, 5000, cfg.Sources[0].Options["limit"])

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 2)
	assert.Equal(t, "local", enabled[1].Name)

	assert.Equal(t, dedupe.StrategySum, cfg.Deduplication.FieldStrategies["stars"])
	assert.False(t, cfg.Compliance.BlockNSFW)
	assert.Equal(t, "shards", cfg.Registry.Backend)
	assert.Equal(t, 8, cfg.Registry.Shards)
	assert.Equal(t, "data", cfg.Registry.Store.Dir)
	assert.Equal(t, 0.9, cfg.Registry.DecayFactor, "defaults survive partial sections")
	assert.Equal(t, "state/harvest-state.json", cfg.State.Path)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, DefaultMultiStrategyThreshold, cfg.MultiStrategyThreshold)
}

func TestParseConfigSourceMapping(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
sources:
  huggingface:
    enabled: true
    type: httpjson
    options:
      limit: 50
      maxOffset: 300000
  github:
    enabled: false
    options:
      repoUrl: https://example.com/org/catalog.git
  yamlfile:
`))
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, []string{"huggingface", "github", "yamlfile"},
		[]string{cfg.Sources[0].Name, cfg.Sources[1].Name, cfg.Sources[2].Name}, "mapping order is kept")
	assert.Equal(t, "httpjson", cfg.Sources[0].Type)
	assert.Equal(t, "github", cfg.Sources[1].Type, "type defaults to the key")
	assert.Equal(t, 50, cfg.Sources[0].Options["limit"])
	assert.Equal(t, 300000, cfg.Sources[0].Options["maxOffset"])
	assert.False(t, cfg.Sources[1].IsEnabled())
	assert.True(t, cfg.Sources[2].IsEnabled())

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 2)
	assert.Equal(t, "yamlfile", enabled[1].Name)
}

func TestParseConfigSourcesScalarRejected(t *testing.T) {
	_, err := ParseConfig([]byte("sources: huggingface\n"))
	assert.ErrorContains(t, err, "sources must be a list or a mapping")
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "sources:\n  - type: yamlfile\n"},
		{"missing type", "sources:\n  - name: a\n"},
		{"duplicate name", "sources:\n  - {name: a, type: x}\n  - {name: a, type: y}\n"},
		{"bad concurrency", "concurrency: 0\n"},
		{"malformed yaml", "sources: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	t.Setenv("HARVEST_CONCURRENCY", "4")
	t.Setenv("HARVEST_STATE_PATH", "/tmp/state.json")
	t.Setenv("HARVEST_REGISTRY_DSN", "postgres://harvest")
	t.Setenv("HARVEST_REGISTRY_DIALECT", "postgres")
	t.Setenv("HARVEST_REGISTRY_DECAY_FACTOR", "1.5")
	t.Setenv("HARVEST_BLOCK_NSFW", "true")
	t.Setenv("HARVEST_DISABLED_SOURCES", "local, huggingface")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "/tmp/state.json", cfg.State.Path)
	assert.Equal(t, "postgres://harvest", cfg.Registry.DSN)
	assert.Equal(t, "postgres", cfg.Registry.Dialect)
	assert.Equal(t, 0.9, cfg.Registry.DecayFactor, "out of range decay is ignored")
	assert.True(t, cfg.Compliance.BlockNSFW)
	assert.Empty(t, cfg.EnabledSources())
}

func TestApplyEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("HARVEST_CONCURRENCY", "many")
	t.Setenv("HARVEST_BLOCK_NSFW", "maybe")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.True(t, cfg.Compliance.BlockNSFW)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
