package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solaius/model-harvester/pkg/ha"
	"github.com/solaius/model-harvester/pkg/harvest"
)

// ErrRunInProgress is returned by RunOnce while another harvest is running.
var ErrRunInProgress = errors.New("a harvest run is already in progress")

// Harvester executes one harvest. It is satisfied by *harvest.Orchestrator.
type Harvester interface {
	Run(ctx context.Context) (*harvest.Result, error)
}

// Scorer recomputes the trust scores of the registry after a harvest.
type Scorer interface {
	Score(ctx context.Context) error
}

// Scheduler runs harvests on a fixed interval and on demand, one at a time.
type Scheduler struct {
	harvester Harvester
	scorer    Scorer
	store     *Store
	cfg       *Config
	logger    *slog.Logger
	lock      ha.Locker
	after     []func()

	running  sync.Mutex
	triggers chan string
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. scorer and store may be nil.
func NewScheduler(h Harvester, scorer Scorer, store *Store, cfg *Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		harvester: h,
		scorer:    scorer,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		lock:      ha.Disabled(),
		triggers:  make(chan string, 1),
	}
}

// SetLocker makes every run hold l, so that processes sharing a registry
// never harvest at the same time. Call before Run.
func (s *Scheduler) SetLocker(l ha.Locker) {
	if l == nil {
		l = ha.Disabled()
	}
	s.lock = l
}

// OnRunFinished registers fn to be called after every run that started,
// whether or not it succeeded. Call before Run.
func (s *Scheduler) OnRunFinished(fn func()) {
	s.after = append(s.after, fn)
}

// RunOnce runs a harvest followed, when configured, by scoring.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*harvest.Result, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	var res *harvest.Result
	started := false
	err := s.lock.WithLock(ctx, func() error {
		started = true
		defer s.finished()

		s.logger.Info("harvest starting", "trigger", trigger)
		var err error
		res, err = s.harvester.Run(WithTrigger(ctx, trigger))
		if err != nil {
			return err
		}
		if s.cfg.Score && s.scorer != nil {
			if err := s.scorer.Score(ctx); err != nil {
				return fmt.Errorf("score registry: %w", err)
			}
		}
		return nil
	})
	if !started && errors.Is(err, ha.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
	}
	return res, err
}

func (s *Scheduler) finished() {
	for _, fn := range s.after {
		fn()
	}
}

// Trigger requests a harvest from the running scheduler. It returns false
// when a request is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.triggers <- TriggerAPI:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled, harvesting on every tick and on every
// Trigger call, and periodically pruning old runs.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("harvest scheduler starting",
		"enabled", s.cfg.Enabled,
		"interval", s.cfg.Interval.String(),
		"score", s.cfg.Score)

	if s.store != nil {
		s.cleanup(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupLoop(ctx)
		}()
	}

	var tick <-chan time.Time
	if s.cfg.Enabled && s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
		if s.cfg.RunOnStart {
			s.runLogged(ctx, TriggerSchedule)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("harvest scheduler shutting down")
			s.wg.Wait()
			s.logger.Info("harvest scheduler stopped")
			return
		case <-tick:
			s.runLogged(ctx, TriggerSchedule)
		case trigger := <-s.triggers:
			s.runLogged(ctx, trigger)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, trigger string) {
	res, err := s.RunOnce(ctx, trigger)
	if err != nil {
		s.logger.Error("harvest failed", "trigger", trigger, "error", err)
		return
	}
	if res == nil {
		return
	}
	s.logger.Info("harvest finished",
		"trigger", trigger,
		"runId", res.RunID,
		"output", res.Output,
		"elapsed", res.Elapsed.String())
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

// cleanup fails abandoned runs and deletes finished runs past retention.
func (s *Scheduler) cleanup(ctx context.Context) {
	if s.cfg.StaleTimeout > 0 {
		n, err := s.store.FailStale(ctx, s.cfg.StaleTimeout)
		if err != nil {
			s.logger.Error("failed to clean up stale runs", "error", err)
		} else if n > 0 {
			s.logger.Info("marked stale runs failed", "count", n)
		}
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
		n, err := s.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Error("failed to delete old runs", "error", err)
		} else if n > 0 {
			s.logger.Info("deleted old runs", "count", n)
		}
	}
}
