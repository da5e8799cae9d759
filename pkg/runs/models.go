package runs

import (
	"time"
)

// RunState represents the lifecycle state of a harvest run.
type RunState string

const (
	RunStateQueued    RunState = "queued"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// HarvestRun is the GORM model for one harvest run.
type HarvestRun struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Trigger       string     `gorm:"column:triggered_by;size:32;not null;default:manual"`
	State         RunState   `gorm:"column:state;size:16;index:idx_run_state;not null;default:queued"`
	StartedAt     time.Time  `gorm:"column:started_at;index:idx_run_started;not null"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	Fetched       int        `gorm:"column:fetched"`
	Normalized    int        `gorm:"column:normalized"`
	Dropped       int        `gorm:"column:dropped"`
	Blocked       int        `gorm:"column:blocked"`
	Output        int        `gorm:"column:output"`
	Archived      int        `gorm:"column:archived"`
	RegistrySize  int        `gorm:"column:registry_size"`
	FailedSources int        `gorm:"column:failed_sources"`
	DurationMs    int64      `gorm:"column:duration_ms"`
	Message       string     `gorm:"column:message"`
	LastError     string     `gorm:"column:last_error"`
}

// TableName returns the GORM table name.
func (HarvestRun) TableName() string { return "harvest_runs" }

// IsTerminal returns true if the run has finished.
func (r *HarvestRun) IsTerminal() bool {
	switch r.State {
	case RunStateSucceeded, RunStateFailed:
		return true
	}
	return false
}

// SourceStatus is the last observed outcome of one source. There is one row
// per source, overwritten by every run that harvests it.
type SourceStatus struct {
	Source        string    `gorm:"primaryKey;column:source;size:128" json:"source"`
	LastRunID     string    `gorm:"column:last_run_id;type:varchar(36)" json:"lastRunId"`
	State         string    `gorm:"column:state;size:16;not null" json:"state"`
	LastRunAt     time.Time `gorm:"column:last_run_at" json:"lastRunAt"`
	Fetched       int       `gorm:"column:fetched" json:"fetched"`
	Normalized    int       `gorm:"column:normalized" json:"normalized"`
	Dropped       int       `gorm:"column:dropped" json:"dropped"`
	Inserted      int       `gorm:"column:inserted" json:"inserted"`
	Updated       int       `gorm:"column:updated" json:"updated"`
	Resurrected   int       `gorm:"column:resurrected" json:"resurrected"`
	Offset        int       `gorm:"column:fetch_offset" json:"offset"`
	NextOffset    int       `gorm:"column:next_fetch_offset" json:"nextOffset"`
	MultiStrategy bool      `gorm:"column:multi_strategy" json:"multiStrategy,omitempty"`
	LastError     string    `gorm:"column:last_error" json:"lastError,omitempty"`
	DurationMs    int64     `gorm:"column:duration_ms" json:"durationMs"`
}

// TableName returns the GORM table name.
func (SourceStatus) TableName() string { return "source_status" }

const (
	SourceStateOK     = "ok"
	SourceStateFailed = "failed"
)
