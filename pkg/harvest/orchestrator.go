// Package harvest drives the ingestion pipeline: for every configured source
// it fetches a rotational page, normalizes, deduplicates and merges the
// batch into the registry, then persists, exports and records the run.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solaius/model-harvester/pkg/adapter"
	"github.com/solaius/model-harvester/pkg/compliance"
	"github.com/solaius/model-harvester/pkg/dedupe"
	"github.com/solaius/model-harvester/pkg/entity"
	"github.com/solaius/model-harvester/pkg/export"
	"github.com/solaius/model-harvester/pkg/registry"
)

// RunRecorder receives run bookkeeping events. Recorder failures are logged
// and never abort a run.
type RunRecorder interface {
	Start(ctx context.Context) (string, error)
	RecordSource(ctx context.Context, runID string, s SourceStats) error
	Complete(ctx context.Context, runID string, sum Summary) error
	Fail(ctx context.Context, runID string, sum Summary, cause error) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry *registry.Registry
	States   StateStore
	Sink     export.Sink
	Recorder RunRecorder
	Logger   *slog.Logger
	// Adapters overrides adapter construction by source name.
	Adapters map[string]adapter.Adapter
	Now      func() time.Time
}

// Result is the outcome of one Run.
type Result struct {
	Summary
	// Entities is the exported set: the full registry minus blocked entities.
	Entities []*entity.Entity
}

// Orchestrator runs harvests. Concurrent calls to Run must be avoided by the
// caller; the scheduler runs one harvest at a time.
type Orchestrator struct {
	cfg        Config
	sources    []SourceConfig
	adapters   map[string]adapter.Adapter
	registry   *registry.Registry
	dedup      *dedupe.Deduplicator
	classifier *compliance.Classifier
	states     StateStore
	sink       export.Sink
	recorder   RunRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an Orchestrator, constructing one adapter per enabled source.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.New("harvest: registry is required")
	}
	if deps.States == nil {
		return nil, errors.New("harvest: state store is required")
	}

	dd, err := dedupe.New(cfg.Deduplication)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		sources:    cfg.Sources,
		adapters:   make(map[string]adapter.Adapter),
		registry:   deps.Registry,
		dedup:      dd,
		classifier: compliance.NewClassifier(cfg.Compliance),
		states:     deps.States,
		sink:       deps.Sink,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	for _, src := range cfg.EnabledSources() {
		if a, ok := deps.Adapters[src.Name]; ok {
			o.adapters[src.Name] = a
			continue
		}
		a, err := adapter.New(src.Type, src.Name, src.Options)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		o.adapters[src.Name] = a
	}
	return o, nil
}

// Run executes one harvest. Source failures and malformed items degrade
// coverage but never abort the run; registry and state persistence failures
// do and are returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	started := o.now()
	stats := newRunStats(started, len(o.sources))
	runID := o.startRun(ctx)

	result, err := o.run(ctx, runID, stats)
	if result == nil {
		result = &Result{Summary: stats.summary()}
	}
	result.RunID = runID
	result.Elapsed = o.now().Sub(started)

	if err != nil {
		o.logger.Error("harvest run failed", "runId", runID, "error", err)
		if o.recorder != nil && runID != "" {
			if rerr := o.recorder.Fail(ctx, runID, result.Summary, err); rerr != nil {
				o.logger.Warn("failed to record run failure", "runId", runID, "error", rerr)
			}
		}
		return result, err
	}

	if o.recorder != nil && runID != "" {
		if rerr := o.recorder.Complete(ctx, runID, result.Summary); rerr != nil {
			o.logger.Warn("failed to record run completion", "runId", runID, "error", rerr)
		}
	}
	o.logger.Info("harvest run complete",
		"runId", runID,
		"fetched", result.Fetched,
		"normalized", result.Normalized,
		"dropped", result.Dropped,
		"blocked", result.Blocked,
		"output", result.Output,
		"archived", result.Archived,
		"registry", result.Registry,
		"failedSources", result.Failed,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (o *Orchestrator) startRun(ctx context.Context) string {
	if o.recorder == nil {
		return ""
	}
	id, err := o.recorder.Start(ctx)
	if err != nil {
		o.logger.Warn("failed to record run start", "error", err)
		return ""
	}
	return id
}

func (o *Orchestrator) run(ctx context.Context, runID string, stats *runStats) (*Result, error) {
	state, err := o.states.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load harvest state: %w", err)
	}
	if err := o.registry.Load(ctx); err != nil {
		return nil, err
	}

	fetcher := NewFetcher(state, o.cfg.MultiStrategyThreshold, o.now)
	if err := o.processSources(ctx, runID, fetcher, stats); err != nil {
		return nil, err
	}

	archived, err := o.registry.Save(ctx)
	if err != nil {
		return nil, err
	}

	// Export reflects the whole durable registry, not only this run's batches.
	if err := o.registry.Load(ctx); err != nil {
		return nil, err
	}
	filtered := compliance.Filter(o.registry.All())

	res := &Result{Summary: stats.summary(), Entities: filtered.Kept}
	res.Archived = archived
	res.Registry = o.registry.Count()
	res.Blocked = filtered.Blocked
	res.Output = len(filtered.Kept)

	var exportErr error
	if o.sink != nil {
		if err := o.sink.Write(ctx, export.MapAll(filtered.Kept)); err != nil {
			exportErr = fmt.Errorf("export entities: %w", err)
		}
	}

	state.MarkRun(o.now())
	if err := o.states.Save(ctx, state); err != nil {
		return res, fmt.Errorf("save harvest state: %w", err)
	}
	return res, exportErr
}

// processSources handles every source, sequentially or with bounded
// parallelism. Only registry merge failures are returned.
func (o *Orchestrator) processSources(ctx context.Context, runID string, fetcher *Fetcher, stats *runStats) error {
	if o.cfg.Concurrency <= 1 {
		for i, src := range o.sources {
			if err := o.processSource(ctx, runID, i, src, fetcher, stats); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, src := range o.sources {
		g.Go(func() error {
			return o.processSource(gctx, runID, i, src, fetcher, stats)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) processSource(ctx context.Context, runID string, i int, src SourceConfig, fetcher *Fetcher, stats *runStats) error {
	start := o.now()
	s, err := o.harvestSource(ctx, src, fetcher)
	s.Duration = o.now().Sub(start)
	stats.record(i, s)

	if o.recorder != nil && runID != "" && !s.Skipped {
		if rerr := o.recorder.RecordSource(ctx, runID, s); rerr != nil {
			o.logger.Warn("failed to record source status", "source", s.Name, "error", rerr)
		}
	}
	return err
}

// harvestSource runs fetch, normalize, dedupe and merge for one source.
func (o *Orchestrator) harvestSource(ctx context.Context, src SourceConfig, fetcher *Fetcher) (SourceStats, error) {
	s := SourceStats{Name: src.Name}
	logger := o.logger.With("source", src.Name)

	if !src.IsEnabled() {
		s.Skipped = true
		logger.Info("source disabled, skipping")
		return s, nil
	}
	a := o.adapters[src.Name]

	fetched, err := fetcher.Fetch(ctx, src, a)
	if err != nil {
		s.Error = err.Error()
		s.NextOffset = fetcher.state.Get(src.Name).Offset
		logger.Warn("source fetch failed, continuing", "error", err)
		return s, nil
	}
	s.Fetched = len(fetched.Raw)
	s.Offset = fetched.Offset
	s.NextOffset = fetched.NextOffset
	s.MultiStrategy = fetched.MultiStrategy
	s.PerStrategy = fetched.PerStrategy

	batch := make([]*entity.Entity, 0, len(fetched.Raw))
	for _, raw := range fetched.Raw {
		e, err := a.Normalize(raw)
		if err != nil {
			s.Dropped++
			logger.Debug("dropping malformed item", "error", err)
			continue
		}
		if e.ContentHash == "" {
			e.ContentHash = entity.ComputeContentHash(e)
		}
		o.classifier.Apply(e)
		batch = append(batch, e)
	}
	s.Normalized = len(batch)

	unique := o.dedup.Dedupe(batch)
	s.Unique = len(unique.Entities)

	merged, err := o.registry.MergeCurrentBatch(unique.Entities)
	if err != nil {
		s.Error = err.Error()
		return s, fmt.Errorf("merge source %q: %w", src.Name, err)
	}
	s.Inserted = merged.Inserted
	s.Updated = merged.Updated
	s.Resurrected = merged.Resurrected

	logger.Info("source harvested",
		"offset", s.Offset,
		"nextOffset", s.NextOffset,
		"fetched", s.Fetched,
		"normalized", s.Normalized,
		"dropped", s.Dropped,
		"unique", s.Unique,
		"inserted", s.Inserted,
		"updated", s.Updated,
	)
	return s, nil
}
