// Package runs keeps the bookkeeping of harvest runs (one row per run and
// one status row per source) and schedules recurring harvests.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solaius/model-harvester/pkg/harvest"
)

const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

type triggerKey struct{}

// WithTrigger tags ctx so that the run started under it records trigger.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerManual
}

// Store provides database operations for harvest runs. It implements
// harvest.RunRecorder.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ harvest.RunRecorder = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// AutoMigrate creates or updates the harvest_runs and source_status tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&HarvestRun{}, &SourceStatus{})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ListFilter defines filters for listing runs.
type ListFilter struct {
	State   string
	Trigger string
}

// Start creates a running run and returns its ID.
func (s *Store) Start(ctx context.Context) (string, error) {
	run := &HarvestRun{
		ID:        uuid.New().String(),
		Trigger:   triggerFrom(ctx),
		State:     RunStateRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return run.ID, nil
}

// RecordSource upserts the status row of one source.
func (s *Store) RecordSource(ctx context.Context, runID string, st harvest.SourceStats) error {
	row := SourceStatus{
		Source:        st.Name,
		LastRunID:     runID,
		State:         SourceStateOK,
		LastRunAt:     s.now().UTC(),
		Fetched:       st.Fetched,
		Normalized:    st.Normalized,
		Dropped:       st.Dropped,
		Inserted:      st.Inserted,
		Updated:       st.Updated,
		Resurrected:   st.Resurrected,
		Offset:        st.Offset,
		NextOffset:    st.NextOffset,
		MultiStrategy: st.MultiStrategy,
		LastError:     st.Error,
		DurationMs:    st.Duration.Milliseconds(),
	}
	if st.Failed() {
		row.State = SourceStateFailed
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record source %s: %w", st.Name, err)
	}
	return nil
}

// Complete marks a run as succeeded and stores its totals.
func (s *Store) Complete(ctx context.Context, runID string, sum harvest.Summary) error {
	updates := totals(sum)
	updates["state"] = RunStateSucceeded
	updates["finished_at"] = s.now().UTC()
	updates["message"] = fmt.Sprintf("Exported %d entities, archived %d", sum.Output, sum.Archived)
	return s.finish(ctx, runID, updates)
}

// Fail marks a run as failed with the error that aborted it.
func (s *Store) Fail(ctx context.Context, runID string, sum harvest.Summary, cause error) error {
	updates := totals(sum)
	updates["state"] = RunStateFailed
	updates["finished_at"] = s.now().UTC()
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	return s.finish(ctx, runID, updates)
}

func (s *Store) finish(ctx context.Context, runID string, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&HarvestRun{}).Where("id = ?", runID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func totals(sum harvest.Summary) map[string]any {
	return map[string]any{
		"fetched":        sum.Fetched,
		"normalized":     sum.Normalized,
		"dropped":        sum.Dropped,
		"blocked":        sum.Blocked,
		"output":         sum.Output,
		"archived":       sum.Archived,
		"registry_size":  sum.Registry,
		"failed_sources": sum.Failed,
		"duration_ms":    sum.Elapsed.Milliseconds(),
	}
}

// Get retrieves a run by ID. It returns nil when the run does not exist.
func (s *Store) Get(ctx context.Context, runID string) (*HarvestRun, error) {
	var run HarvestRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// List returns runs matching filter, newest first. The page token is the
// start time of the last run of the previous page.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]HarvestRun, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.WithContext(ctx).Model(&HarvestRun{})
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.Trigger != "" {
			q = q.Where("triggered_by = ?", filter.Trigger)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count runs: %w", err)
	}

	query := buildQuery(s.db).Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("started_at < ?", t)
	}

	var records []HarvestRun
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list runs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// Sources returns the status row of every source, ordered by name.
func (s *Store) Sources(ctx context.Context) ([]SourceStatus, error) {
	var out []SourceStatus
	if err := s.db.WithContext(ctx).Order("source ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list source status: %w", err)
	}
	return out, nil
}

// FailStale marks runs that have been running longer than timeout as
// failed. Such runs belong to a process that died mid-harvest.
func (s *Store) FailStale(ctx context.Context, timeout time.Duration) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&HarvestRun{}).
		Where("state = ? AND started_at < ?", RunStateRunning, now.Add(-timeout)).
		Updates(map[string]any{
			"state":       RunStateFailed,
			"finished_at": now,
			"last_error":  "Timed out (abandoned run)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("fail stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes finished runs that ended before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]RunState{RunStateSucceeded, RunStateFailed}, cutoff).
		Delete(&HarvestRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
