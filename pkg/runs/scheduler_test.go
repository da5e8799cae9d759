package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solaius/model-harvester/pkg/ha"
	"github.com/solaius/model-harvester/pkg/harvest"
)

type fakeHarvester struct {
	mu       sync.Mutex
	calls    int
	triggers []string
	err      error
	block    chan struct{}
	ran      chan struct{}
}

func newFakeHarvester() *fakeHarvester {
	return &fakeHarvester{ran: make(chan struct{}, 10)}
}

func (f *fakeHarvester) Run(ctx context.Context) (*harvest.Result, error) {
	f.mu.Lock()
	f.calls++
	f.triggers = append(f.triggers, triggerFrom(ctx))
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	f.ran <- struct{}{}
	return &harvest.Result{Summary: harvest.Summary{RunID: "run", Output: 1}}, f.err
}

type fakeScorer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeScorer) Score(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func TestRunOnceScoresAfterHarvest(t *testing.T) {
	h := newFakeHarvester()
	sc := &fakeScorer{}
	s := NewScheduler(h, sc, nil, DefaultConfig(), nil)

	res, err := s.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Output)
	assert.Equal(t, 1, sc.calls)
	assert.Equal(t, []string{TriggerManual}, h.triggers)
}

func TestRunOnceSkipsScoringOnHarvestFailure(t *testing.T) {
	h := newFakeHarvester()
	h.err = errors.New("save harvest state: disk full")
	sc := &fakeScorer{}
	s := NewScheduler(h, sc, nil, DefaultConfig(), nil)

	_, err := s.RunOnce(context.Background(), TriggerManual)
	require.Error(t, err)
	assert.Zero(t, sc.calls)
}

func TestRunOnceScoringDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Score = false
	sc := &fakeScorer{}
	s := NewScheduler(newFakeHarvester(), sc, nil, cfg, nil)

	_, err := s.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, sc.calls)
}

func TestRunOnceReturnsScoringError(t *testing.T) {
	sc := &fakeScorer{err: errors.New("registry not loaded")}
	s := NewScheduler(newFakeHarvester(), sc, nil, DefaultConfig(), nil)

	_, err := s.RunOnce(context.Background(), TriggerManual)
	assert.ErrorContains(t, err, "score registry")
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	h := newFakeHarvester()
	h.block = make(chan struct{})
	s := NewScheduler(h, nil, nil, DefaultConfig(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background(), TriggerManual)
		done <- err
	}()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.calls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.RunOnce(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(h.block)
	require.NoError(t, <-done)
}

func TestTriggerCoalesces(t *testing.T) {
	s := NewScheduler(newFakeHarvester(), nil, nil, DefaultConfig(), nil)
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger(), "one pending request at a time")
}

func TestSchedulerRunsOnStartAndOnTrigger(t *testing.T) {
	h := newFakeHarvester()
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	store := newTestStore(t)
	s := NewScheduler(h, nil, store, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	select {
	case <-h.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a harvest on start")
	}

	require.True(t, s.Trigger())
	select {
	case <-h.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a triggered harvest")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{TriggerSchedule, TriggerAPI}, h.triggers)
}

func TestSchedulerDisabledStillServesTriggers(t *testing.T) {
	h := newFakeHarvester()
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := NewScheduler(h, nil, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Trigger())
	select {
	case <-h.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a triggered harvest")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.calls)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HARVEST_SCHEDULE_INTERVAL_MINUTES", "30")
	t.Setenv("HARVEST_SCHEDULE_RUN_ON_START", "false")
	t.Setenv("HARVEST_SCHEDULE_SCORE", "false")
	t.Setenv("HARVEST_RUN_STALE_TIMEOUT_MINUTES", "-5")
	t.Setenv("HARVEST_RUN_RETENTION_DAYS", "3")
	t.Setenv("HARVEST_SCHEDULE_ENABLED", "false")

	cfg := ConfigFromEnv()
	assert.Equal(t, 30*time.Minute, cfg.Interval)
	assert.False(t, cfg.RunOnStart)
	assert.False(t, cfg.Score)
	assert.Equal(t, 2*time.Hour, cfg.StaleTimeout, "invalid values keep the default")
	assert.Equal(t, 3, cfg.RetentionDays)
	assert.False(t, cfg.Enabled)
}

type heldLocker struct{}

func (heldLocker) WithLock(context.Context, func() error) error {
	return fmt.Errorf("%w: %s after 1 attempts", ha.ErrLockHeld, ha.RunLock)
}

func TestRunOnceRespectsRunLock(t *testing.T) {
	h := newFakeHarvester()
	s := NewScheduler(h, nil, nil, DefaultConfig(), nil)
	s.SetLocker(heldLocker{})
	finished := 0
	s.OnRunFinished(func() { finished++ })

	_, err := s.RunOnce(context.Background(), TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, err, ha.ErrLockHeld)
	assert.Zero(t, h.calls)
	assert.Zero(t, finished, "hooks only run for started harvests")
}

func TestRunOnceHoldsTableLock(t *testing.T) {
	db := setupTestDB(t)
	h := newFakeHarvester()
	s := NewScheduler(h, nil, nil, DefaultConfig(), nil)
	s.SetLocker(ha.DefaultConfig().RunLocker(db, time.Hour))

	_, err := s.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err, "the lock is released after each run")
	assert.Equal(t, 2, h.calls)
}

func TestOnRunFinishedRunsAfterFailure(t *testing.T) {
	h := newFakeHarvester()
	h.err = errors.New("load harvest state: permission denied")
	s := NewScheduler(h, nil, nil, DefaultConfig(), nil)
	var calls []string
	s.OnRunFinished(func() { calls = append(calls, "purge") })
	s.OnRunFinished(func() { calls = append(calls, "notify") })

	_, err := s.RunOnce(context.Background(), TriggerManual)
	require.Error(t, err)
	assert.Equal(t, []string{"purge", "notify"}, calls)
}
