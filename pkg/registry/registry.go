// Package registry holds every entity the harvester has ever observed.
//
// The registry is loaded wholesale, mutated through batch UPSERT merges and
// persisted wholesale. Entities are never deleted: an entity that no merge
// touched during a harvest session is archived with decayed metrics when the
// session is saved, and becomes active again once a later batch carries it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/solaius/model-harvester/pkg/dedupe"
	"github.com/solaius/model-harvester/pkg/entity"
)

// DefaultDecayFactor scales likes, downloads and velocity once when an
// entity is archived.
const DefaultDecayFactor = 0.9

// ErrNotLoaded is returned when the registry is used before Load.
var ErrNotLoaded = errors.New("registry not loaded")

// Backend persists the full entity set.
type Backend interface {
	LoadAll(ctx context.Context) ([]*entity.Entity, error)
	SaveAll(ctx context.Context, entities []*entity.Entity) error
}

// MergeStats counts what one MergeCurrentBatch call did.
type MergeStats struct {
	Inserted    int
	Updated     int
	Resurrected int
}

// Registry is safe for concurrent use. Merges serialize on a write lock;
// snapshots and lookups share a read lock.
type Registry struct {
	backend   Backend
	decay     float64
	lifecycle *entity.LifecycleMachine
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	loaded   bool
	session  time.Time
	entities map[string]*entity.Entity
	baseline map[string]entity.Metrics
	merged   map[string]bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithDecayFactor sets the archival decay factor. Values outside (0, 1] are ignored.
func WithDecayFactor(f float64) Option {
	return func(r *Registry) {
		if f > 0 && f <= 1 {
			r.decay = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over backend. Call Load before use.
func New(backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend:   backend,
		decay:     DefaultDecayFactor,
		lifecycle: entity.NewLifecycleMachine(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load hydrates every persisted entity and starts a new merge session.
// Nothing is marked as changed.
func (r *Registry) Load(ctx context.Context) error {
	all, err := r.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*entity.Entity, len(all))
	r.baseline = make(map[string]entity.Metrics, len(all))
	r.merged = make(map[string]bool)
	for _, e := range all {
		if e == nil || e.ID == "" {
			continue
		}
		if e.Status == "" {
			e.Status = entity.StatusActive
		}
		r.entities[e.ID] = e
		r.baseline[e.ID] = e.Metrics
	}
	r.session = r.now().UTC()
	r.loaded = true

	r.logger.Info("registry loaded", "entities", len(r.entities))
	return nil
}

// MergeCurrentBatch UPSERTs every entity by id. New ids are inserted; known
// ids have their content overwritten, their tags, relations and source trail
// unioned, their creation time kept and their status set to active. Metric
// deltas are computed against the state seen at Load, so merging the same
// batch twice leaves the registry unchanged.
func (r *Registry) MergeCurrentBatch(batch []*entity.Entity) (MergeStats, error) {
	var stats MergeStats

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return stats, ErrNotLoaded
	}

	for _, in := range batch {
		if in == nil || in.ID == "" {
			continue
		}
		incoming := in.Clone()
		if incoming.ContentHash == "" {
			incoming.ContentHash = entity.ComputeContentHash(incoming)
		}
		incoming.SourceTrail = append(incoming.SourceTrail, entity.TrailEntry{
			Source:    incoming.Source,
			SourceURL: incoming.SourceURL,
			SeenAt:    r.session,
		})

		existing, ok := r.entities[incoming.ID]
		if !ok {
			incoming.Status = entity.StatusActive
			incoming.LastSeenAt = r.session
			incoming.SourceTrail = mergeTrail(nil, incoming.SourceTrail)
			r.applyDeltas(incoming)
			r.entities[incoming.ID] = incoming
			r.merged[incoming.ID] = true
			stats.Inserted++
			continue
		}

		if existing.Status == entity.StatusArchived {
			stats.Resurrected++
		} else {
			stats.Updated++
		}
		if err := r.lifecycle.Transition(existing, entity.StatusActive); err != nil {
			return stats, err
		}
		overwrite(existing, incoming)
		existing.LastSeenAt = r.session
		r.applyDeltas(existing)
		r.merged[existing.ID] = true
	}

	return stats, nil
}

// applyDeltas sets the metric deltas of e against the loaded baseline.
func (r *Registry) applyDeltas(e *entity.Entity) {
	base := r.baseline[e.ID]
	e.Metrics.LikesDelta = e.Metrics.Likes - base.Likes
	e.Metrics.DownloadsDelta = e.Metrics.Downloads - base.Downloads
}

// overwrite copies the content fields of src onto dst.
func overwrite(dst, src *entity.Entity) {
	dst.Type = src.Type
	dst.Source = src.Source
	dst.SourceURL = src.SourceURL
	dst.Title = src.Title
	dst.Description = src.Description
	dst.BodyContent = src.BodyContent
	dst.Author = src.Author
	dst.License = src.License
	dst.ImageURL = src.ImageURL
	dst.Metrics = src.Metrics
	dst.Meta = src.Meta
	dst.Assets = src.Assets
	dst.ContentHash = src.ContentHash
	dst.ComplianceStatus = src.ComplianceStatus
	dst.Tags = dedupe.UnionTags(dst.Tags, src.Tags)
	dst.Relations = mergeRelations(dst.Relations, src.Relations)
	dst.SourceTrail = mergeTrail(dst.SourceTrail, src.SourceTrail)
	if !src.UpdatedAt.IsZero() {
		dst.UpdatedAt = src.UpdatedAt
	}
	if dst.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
}

func mergeRelations(a, b []entity.Relation) []entity.Relation {
	out := append([]entity.Relation(nil), a...)
	for _, rel := range b {
		found := false
		for _, have := range out {
			if have == rel {
				found = true
				break
			}
		}
		if !found {
			out = append(out, rel)
		}
	}
	return out
}

// mergeTrail keeps one entry per source and URL, refreshed to the latest SeenAt.
func mergeTrail(a, b []entity.TrailEntry) []entity.TrailEntry {
	out := append([]entity.TrailEntry(nil), a...)
	for _, t := range b {
		found := false
		for i := range out {
			if out[i].Source == t.Source && out[i].SourceURL == t.SourceURL {
				if t.SeenAt.After(out[i].SeenAt) {
					out[i].SeenAt = t.SeenAt
				}
				found = true
				break
			}
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

// Save archives every active entity that no merge touched in this session,
// decaying its metrics once, then persists the full set. It returns the
// number of entities archived.
func (r *Registry) Save(ctx context.Context) (int, error) {
	r.mu.Lock()
	if !r.loaded {
		r.mu.Unlock()
		return 0, ErrNotLoaded
	}
	archived := 0
	for id, e := range r.entities {
		if r.merged[id] || e.Status == entity.StatusArchived {
			continue
		}
		if err := r.lifecycle.Transition(e, entity.StatusArchived); err != nil {
			r.mu.Unlock()
			return 0, err
		}
		r.decayMetrics(e)
		archived++
	}
	snapshot := r.sortedLocked()
	r.mu.Unlock()

	if err := r.backend.SaveAll(ctx, snapshot); err != nil {
		return archived, fmt.Errorf("failed to save registry: %w", err)
	}
	r.logger.Info("registry saved", "entities", len(snapshot), "archived", archived)
	return archived, nil
}

// Persist writes the full set without archival accounting. Used for score
// write-back, which is not a harvest session.
func (r *Registry) Persist(ctx context.Context) error {
	r.mu.RLock()
	if !r.loaded {
		r.mu.RUnlock()
		return ErrNotLoaded
	}
	snapshot := r.sortedLocked()
	r.mu.RUnlock()

	if err := r.backend.SaveAll(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

func (r *Registry) decayMetrics(e *entity.Entity) {
	e.Metrics.Likes = int64(float64(e.Metrics.Likes) * r.decay)
	e.Metrics.Downloads = int64(float64(e.Metrics.Downloads) * r.decay)
	e.Metrics.Velocity *= r.decay
	e.Metrics.LikesDelta = 0
	e.Metrics.DownloadsDelta = 0
}

// sortedLocked returns clones ordered by id. Caller holds r.mu.
func (r *Registry) sortedLocked() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of entities, active and archived.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// All returns a snapshot of every entity ordered by id.
func (r *Registry) All() []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Get returns a copy of the entity with the given id.
func (r *Registry) Get(id string) (*entity.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// UpdateScores writes FNI results back. Unknown ids are ignored. It returns
// the number of entities updated.
func (r *Registry) UpdateScores(scores map[string]entity.Score) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range scores {
		e, ok := r.entities[id]
		if !ok {
			continue
		}
		s.AnomalyFlags = append([]string(nil), s.AnomalyFlags...)
		e.FNI = s
		n++
	}
	return n
}
