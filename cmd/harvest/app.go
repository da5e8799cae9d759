package main

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/solaius/model-harvester/pkg/export"
	"github.com/solaius/model-harvester/pkg/fni"
	"github.com/solaius/model-harvester/pkg/ha"
	"github.com/solaius/model-harvester/pkg/harvest"
	"github.com/solaius/model-harvester/pkg/objstore"
	"github.com/solaius/model-harvester/pkg/registry"
	"github.com/solaius/model-harvester/pkg/runs"
)

// app holds the components wired from one ingestion config.
type app struct {
	cfg      *harvest.Config
	logger   *slog.Logger
	registry *registry.Registry
	states   harvest.StateStore
	runs     *runs.Store
	runsDB   *gorm.DB
	locks    *ha.Config
	scorer   *registryScorer
}

// newApp loads the ingestion config and opens registry, state and run
// storage. Output sinks and adapters are only opened by commands that need
// them.
func newApp(ctx context.Context, configPath string, logger *slog.Logger) (*app, error) {
	cfg, err := harvest.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	backend, err := registry.OpenBackend(ctx, cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	reg := registry.New(backend,
		registry.WithDecayFactor(cfg.Registry.DecayFactor),
		registry.WithLogger(logger),
	)

	states, err := openStateStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}

	db, err := registry.OpenDB(cfg.Registry.Dialect, cfg.Registry.DSN)
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	locks := ha.ConfigFromEnv()
	runStore := runs.NewStore(db)
	if err := locks.MigrationLocker(db).WithLock(ctx, runStore.AutoMigrate); err != nil {
		return nil, fmt.Errorf("migrate run database: %w", err)
	}

	fniCfg := fni.DefaultConfig()
	if cfg.Scoring.ConfigPath != "" {
		if fniCfg, err = fni.LoadConfig(cfg.Scoring.ConfigPath); err != nil {
			return nil, err
		}
	}
	engine, err := fni.New(fniCfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		states:   states,
		runs:     runStore,
		runsDB:   db,
		locks:    locks,
		scorer:   &registryScorer{registry: reg, engine: engine, logger: logger},
	}, nil
}

func openStateStore(ctx context.Context, cfg harvest.StateConfig) (harvest.StateStore, error) {
	if cfg.Store != nil {
		store, err := objstore.Open(ctx, *cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		key := cfg.Key
		if key == "" {
			key = "harvest-state.json"
		}
		return harvest.NewObjectStateStore(store, key), nil
	}
	return harvest.NewFileStateStore(cfg.Path)
}

// orchestrator builds a harvest orchestrator writing to the configured sink.
func (a *app) orchestrator(ctx context.Context) (*harvest.Orchestrator, error) {
	sink, err := export.OpenSink(ctx, a.cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return harvest.New(*a.cfg, harvest.Deps{
		Registry: a.registry,
		States:   a.states,
		Sink:     sink,
		Recorder: a.runs,
		Logger:   a.logger,
	})
}

// scheduler wires the orchestrator and scorer into a runs.Scheduler.
func (a *app) scheduler(ctx context.Context, cfg *runs.Config) (*runs.Scheduler, error) {
	o, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Score = cfg.Score && a.cfg.Scoring.Enabled
	sched := runs.NewScheduler(o, a.scorer, a.runs, cfg, a.logger)
	sched.SetLocker(a.locks.RunLocker(a.runsDB, cfg.StaleTimeout))
	return sched, nil
}

// registryScorer scores the persisted registry and writes the scores back.
type registryScorer struct {
	registry *registry.Registry
	engine   *fni.Engine
	logger   *slog.Logger
}

func (s *registryScorer) Score(ctx context.Context) error {
	_, err := s.run(ctx)
	return err
}

func (s *registryScorer) run(ctx context.Context) (fni.Summary, error) {
	if err := s.registry.Load(ctx); err != nil {
		return fni.Summary{}, err
	}
	sum, err := s.engine.ScoreRegistry(ctx, s.registry, s.logger)
	if err != nil {
		return sum, err
	}
	if err := s.registry.Persist(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}
