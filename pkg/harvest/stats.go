package harvest

import (
	"sync"
	"time"
)

// SourceStats records what happened to one source during a run.
type SourceStats struct {
	Name          string         `json:"name"`
	Skipped       bool           `json:"skipped,omitempty"`
	Fetched       int            `json:"fetched"`
	Normalized    int            `json:"normalized"`
	Dropped       int            `json:"dropped"`
	Unique        int            `json:"unique"`
	Inserted      int            `json:"inserted"`
	Updated       int            `json:"updated"`
	Resurrected   int            `json:"resurrected"`
	Offset        int            `json:"offset"`
	NextOffset    int            `json:"nextOffset"`
	MultiStrategy bool           `json:"multiStrategy,omitempty"`
	PerStrategy   map[string]int `json:"perStrategy,omitempty"`
	Error         string         `json:"error,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Failed reports whether the source fetch failed.
func (s SourceStats) Failed() bool { return s.Error != "" }

// Summary is the run-level statistics record returned by Run.
type Summary struct {
	RunID      string        `json:"runId,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Sources    []SourceStats `json:"sources"`
	Fetched    int           `json:"fetched"`
	Normalized int           `json:"normalized"`
	Dropped    int           `json:"dropped"`
	Blocked    int           `json:"blocked"`
	Output     int           `json:"output"`
	Archived   int           `json:"archived"`
	Registry   int           `json:"registry"`
	Failed     int           `json:"failedSources"`
	Elapsed    time.Duration `json:"elapsed"`
}

// runStats accumulates per-source results. Sources may report from several
// goroutines; slots are indexed by declared order so output order is stable.
type runStats struct {
	mu      sync.Mutex
	started time.Time
	sources []SourceStats
	filled  []bool
}

func newRunStats(started time.Time, sources int) *runStats {
	return &runStats{
		started: started,
		sources: make([]SourceStats, sources),
		filled:  make([]bool, sources),
	}
}

func (r *runStats) record(i int, s SourceStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[i] = s
	r.filled[i] = true
}

// summary folds the per-source records into totals.
func (r *runStats) summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum := Summary{StartedAt: r.started}
	for i, s := range r.sources {
		if !r.filled[i] {
			continue
		}
		sum.Sources = append(sum.Sources, s)
		sum.Fetched += s.Fetched
		sum.Normalized += s.Normalized
		sum.Dropped += s.Dropped
		if s.Failed() {
			sum.Failed++
		}
	}
	return sum
}
