package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solaius/model-harvester/pkg/adapter"
	"github.com/solaius/model-harvester/pkg/entity"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeAdapter serves a fixed list of records with offset/limit windowing.
type fakeAdapter struct {
	name  string
	items []adapter.Raw
	err   error

	mu    sync.Mutex
	calls []adapter.FetchOptions
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(_ context.Context, opts adapter.FetchOptions) ([]adapter.Raw, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return adapter.Window(f.items, opts.Offset, opts.Limit), nil
}

func (f *fakeAdapter) Normalize(raw adapter.Raw) (*entity.Entity, error) {
	return adapter.NormalizeRecord(f.name, entity.TypeModel, raw)
}

// fakeMultiAdapter adds the multi-strategy capability.
type fakeMultiAdapter struct {
	*fakeAdapter
	strategies []string
	msCalls    []adapter.MultiStrategyOptions
}

func (f *fakeMultiAdapter) Strategies() []string { return f.strategies }

func (f *fakeMultiAdapter) FetchMultiStrategy(_ context.Context, opts adapter.MultiStrategyOptions) (*adapter.MultiStrategyResult, error) {
	f.msCalls = append(f.msCalls, opts)
	res := &adapter.MultiStrategyResult{PerStrategy: map[string]int{}}
	for _, s := range f.strategies {
		page := adapter.Window(f.items, opts.Offset, opts.LimitPerStrategy)
		res.Models = append(res.Models, page...)
		res.PerStrategy[s] = len(page)
	}
	return res, nil
}

func records(prefix string, n int) []adapter.Raw {
	out := make([]adapter.Raw, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, adapter.Raw{"id": fmt.Sprintf("%s/item-%d", prefix, i), "likes": float64(i)})
	}
	return out
}

func TestNextOffset(t *testing.T) {
	tests := []struct {
		name                   string
		current, limit, maxOff int
		want                   int
	}{
		{"wraps past max", 299980, 50, 300000, 0},
		{"advances", 100000, 50, 300000, 100050},
		{"lands exactly on max", 299950, 50, 300000, 300000},
		{"from zero", 0, 5000, 300000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextOffset(tt.current, tt.limit, tt.maxOff))
		})
	}
}

func TestFetcherAdvancesOffset(t *testing.T) {
	st := NewState()
	st.Set("hub", SourceState{Offset: 299980})
	f := NewFetcher(st, DefaultMultiStrategyThreshold, fixedClock)
	a := &fakeAdapter{name: "hub", items: records("org", 10)}

	src := SourceConfig{Name: "hub", Options: map[string]any{"limit": 50, "maxOffset": 300000}}
	res, err := f.Fetch(context.Background(), src, a)
	require.NoError(t, err)
	assert.Equal(t, 299980, res.Offset)
	assert.Equal(t, 0, res.NextOffset)
	assert.Equal(t, SourceState{Offset: 0, Timestamp: testNow}, st.Get("hub"))

	require.Len(t, a.calls, 1)
	assert.Equal(t, 50, a.calls[0].Limit)
	assert.Equal(t, 299980, a.calls[0].Offset)
	assert.Equal(t, src.Options, a.calls[0].Options)
}

func TestFetcherAdvancesOffsetOnFailure(t *testing.T) {
	st := NewState()
	st.Set("hub", SourceState{Offset: 100000})
	f := NewFetcher(st, DefaultMultiStrategyThreshold, fixedClock)
	a := &fakeAdapter{name: "hub", err: errors.New("upstream timeout")}

	_, err := f.Fetch(context.Background(), SourceConfig{Name: "hub", Options: map[string]any{"limit": 50}}, a)
	require.Error(t, err)
	assert.Equal(t, 100050, st.Get("hub").Offset)
}

func TestFetcherDefaults(t *testing.T) {
	st := NewState()
	f := NewFetcher(st, DefaultMultiStrategyThreshold, fixedClock)
	a := &fakeAdapter{name: "hub"}

	_, err := f.Fetch(context.Background(), SourceConfig{Name: "hub"}, a)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, a.calls[0].Limit)
	assert.Equal(t, 0, a.calls[0].Offset)
	assert.Equal(t, DefaultLimit, st.Get("hub").Offset)
}

func TestFetcherUsesMultiStrategyAboveThreshold(t *testing.T) {
	st := NewState()
	st.Set("hub", SourceState{Offset: 2})
	f := NewFetcher(st, DefaultMultiStrategyThreshold, fixedClock)
	a := &fakeMultiAdapter{
		fakeAdapter: &fakeAdapter{name: "hub", items: records("org", 5)},
		strategies:  []string{"likes", "downloads", "recent"},
	}

	res, err := f.Fetch(context.Background(), SourceConfig{Name: "hub", Options: map[string]any{"limit": 5000}}, a)
	require.NoError(t, err)
	assert.True(t, res.MultiStrategy)
	require.Len(t, a.msCalls, 1)
	assert.Equal(t, 1667, a.msCalls[0].LimitPerStrategy)
	assert.Equal(t, 2, a.msCalls[0].Offset)
	assert.Len(t, res.Raw, 9)
	assert.Equal(t, 3, res.PerStrategy["likes"])
	assert.Empty(t, a.calls)
	assert.Equal(t, 5002, st.Get("hub").Offset)
}

func TestFetcherSkipsMultiStrategyBelowThreshold(t *testing.T) {
	f := NewFetcher(NewState(), DefaultMultiStrategyThreshold, fixedClock)
	a := &fakeMultiAdapter{
		fakeAdapter: &fakeAdapter{name: "hub", items: records("org", 5)},
		strategies:  []string{"likes"},
	}

	res, err := f.Fetch(context.Background(), SourceConfig{Name: "hub", Options: map[string]any{"limit": 1000}}, a)
	require.NoError(t, err)
	assert.False(t, res.MultiStrategy)
	assert.Empty(t, a.msCalls)
	assert.Len(t, a.calls, 1)
}
