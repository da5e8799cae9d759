package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solaius/model-harvester/pkg/entity"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Fetch(context.Context, FetchOptions) ([]Raw, error) {
	return nil, nil
}
func (s *stubAdapter) Normalize(raw Raw) (*entity.Entity, error) {
	return NormalizeRecord(s.name, entity.TypeModel, raw)
}

func TestRegisterAndNew(t *testing.T) {
	Register("stub-test", func(name string, _ map[string]any) (Adapter, error) {
		return &stubAdapter{name: name}, nil
	})

	a, err := New("stub-test", "my-source", nil)
	require.NoError(t, err)
	assert.Equal(t, "my-source", a.Name())
	assert.Contains(t, Types(), "stub-test")

	_, err = New("does-not-exist", "x", nil)
	assert.True(t, errors.Is(err, ErrAdapterNotFound))
}

func TestAsMultiStrategyRequiresCapability(t *testing.T) {
	_, ok := AsMultiStrategy(&stubAdapter{})
	assert.False(t, ok)
}

func TestNormalizeRecord(t *testing.T) {
	raw := Raw{
		"id":          "meta-llama/Llama-3-8B",
		"description": "An LLM",
		"tags":        []any{"llm", " llm", "", "gguf"},
		"likes":       float64(1200),
		"downloads":   float64(50000),
		"stars":       float64(300),
		"created_at":  "2024-04-18T00:00:00Z",
		"relations":   `[{"type":"based_on_paper","target":"arxiv:2407.21783"}]`,
		"meta":        map[string]any{"quantized": true},
	}

	e, err := NormalizeRecord("huggingface", entity.TypeModel, raw)
	require.NoError(t, err)
	assert.Equal(t, "huggingface:meta-llama/Llama-3-8B", e.ID)
	assert.Equal(t, "meta-llama/Llama-3-8B", e.Title)
	assert.Equal(t, "meta-llama", e.Author)
	assert.Equal(t, []string{"llm", "gguf"}, e.Tags)
	assert.Equal(t, int64(1200), e.Metrics.Likes)
	require.NotNil(t, e.Metrics.Stars)
	assert.Equal(t, int64(300), *e.Metrics.Stars)
	assert.Equal(t, time.Date(2024, 4, 18, 0, 0, 0, 0, time.UTC), e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
	assert.True(t, e.HasRelation(entity.RelationBasedOnPaper))
	assert.True(t, e.Meta.Quantized)
}

func TestNormalizeRecordNumericID(t *testing.T) {
	e, err := NormalizeRecord("gh", entity.TypeTool, Raw{"id": float64(123456789), "name": "tool"})
	require.NoError(t, err)
	assert.Equal(t, "gh:123456789", e.ID)
	assert.Equal(t, "tool", e.Title)

	_, err = NormalizeRecord("gh", entity.TypeTool, Raw{"id": []any{"x"}})
	assert.Error(t, err)
}

func TestRawID(t *testing.T) {
	assert.Equal(t, "org/m", RawID(Raw{"id": " org/m "}))
	assert.Equal(t, "42", RawID(Raw{"id": float64(42)}))
	assert.Equal(t, "1.5", RawID(Raw{"id": 1.5}))
	assert.Equal(t, "7", RawID(Raw{"id": 7}))
	assert.Equal(t, "", RawID(Raw{"name": "no id"}))
	assert.Equal(t, "", RawID(Raw{"id": nil}))
}

func TestNormalizeRecordErrors(t *testing.T) {
	_, err := NormalizeRecord("s", entity.TypeModel, Raw{"title": "no id"})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = NormalizeRecord("s", entity.TypeModel, Raw{"id": "x", "created_at": "yesterday"})
	assert.Error(t, err)

	_, err = NormalizeRecord("s", entity.TypeModel, Raw{"id": "x", "likes": float64(-1)})
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	assert.Equal(t, []int{1, 2}, Window(items, 1, 2))
	assert.Equal(t, []int{3, 4}, Window(items, 3, 10))
	assert.Nil(t, Window(items, 5, 2))
	assert.Equal(t, items, Window(items, 0, 0))
}

func TestOptionHelpers(t *testing.T) {
	opts := map[string]any{
		"limit":    5000,
		"max":      float64(10),
		"str":      "42",
		"flag":     "true",
		"list":     []any{"a", "", "b"},
		"interval": "2m",
	}
	assert.Equal(t, 5000, Int(opts, "limit", 1))
	assert.Equal(t, 10, Int(opts, "max", 1))
	assert.Equal(t, 42, Int(opts, "str", 1))
	assert.Equal(t, 7, Int(opts, "missing", 7))
	assert.True(t, Bool(opts, "flag", false))
	assert.Equal(t, []string{"a", "b"}, Strings(opts, "list"))
	assert.Equal(t, 2*time.Minute, Duration(opts, "interval", time.Second))
}
