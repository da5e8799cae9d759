package harvest

import (
	"context"
	"time"

	"github.com/solaius/model-harvester/pkg/adapter"
)

// NextOffset advances a rotational cursor by limit, wrapping to zero once
// the next page would run past maxOffset.
func NextOffset(current, limit, maxOffset int) int {
	if current+limit > maxOffset {
		return 0
	}
	return current + limit
}

// FetchResult is what one source fetch produced.
type FetchResult struct {
	Raw           []adapter.Raw
	Offset        int
	NextOffset    int
	MultiStrategy bool
	PerStrategy   map[string]int
}

// Fetcher wraps adapter calls with rotational offset pagination.
type Fetcher struct {
	state     *State
	threshold int
	now       func() time.Time
}

// NewFetcher creates a Fetcher advancing cursors in state.
func NewFetcher(state *State, multiStrategyThreshold int, now func() time.Time) *Fetcher {
	if now == nil {
		now = time.Now
	}
	return &Fetcher{state: state, threshold: multiStrategyThreshold, now: now}
}

// Fetch calls the adapter at the source's current offset. The cursor is
// advanced whether or not the call succeeds, so a failing page is skipped
// on the next run instead of retried forever.
func (f *Fetcher) Fetch(ctx context.Context, src SourceConfig, a adapter.Adapter) (*FetchResult, error) {
	limit := adapter.Int(src.Options, "limit", DefaultLimit)
	if limit <= 0 {
		limit = DefaultLimit
	}
	maxOffset := adapter.Int(src.Options, "maxOffset", DefaultMaxOffset)

	current := f.state.Get(src.Name).Offset
	res := &FetchResult{
		Offset:     current,
		NextOffset: NextOffset(current, limit, maxOffset),
	}
	defer f.state.Set(src.Name, SourceState{Offset: res.NextOffset, Timestamp: f.now().UTC()})

	if ms, ok := adapter.AsMultiStrategy(a); ok && limit > f.threshold {
		strategies := ms.Strategies()
		per := (limit + len(strategies) - 1) / len(strategies)
		out, err := ms.FetchMultiStrategy(ctx, adapter.MultiStrategyOptions{
			LimitPerStrategy: per,
			Offset:           current,
			Options:          src.Options,
		})
		if err != nil {
			return nil, err
		}
		res.MultiStrategy = true
		res.Raw = out.Models
		res.PerStrategy = out.PerStrategy
		return res, nil
	}

	raws, err := a.Fetch(ctx, adapter.FetchOptions{Limit: limit, Offset: current, Options: src.Options})
	if err != nil {
		return nil, err
	}
	res.Raw = raws
	return res, nil
}
