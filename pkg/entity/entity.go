// Package entity defines the catalog record tracked by the harvester: one
// model, dataset, tool, paper or space observed in an upstream catalog.
package entity

import (
	"strings"
	"time"
)

// Type is the kind of catalog record.
type Type string

const (
	TypeModel   Type = "model"
	TypeDataset Type = "dataset"
	TypeTool    Type = "tool"
	TypePaper   Type = "paper"
	TypeSpace   Type = "space"
)

// Status is the registry lifecycle status of an entity.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ComplianceStatus is the policy verdict attached at normalization time.
type ComplianceStatus string

const (
	ComplianceApproved ComplianceStatus = "approved"
	ComplianceFlagged  ComplianceStatus = "flagged"
	ComplianceBlocked  ComplianceStatus = "blocked"
)

// RelationType names a typed link between entities.
type RelationType string

const (
	RelationBasedOnPaper RelationType = "based_on_paper"
	RelationBaseModel    RelationType = "base_model"
	RelationTrainedOn    RelationType = "trained_on"
	RelationDemoOf       RelationType = "demo_of"
)

// Relation is a typed link to another entity, paper or dataset.
type Relation struct {
	Type   RelationType `json:"type" yaml:"type"`
	Target string       `json:"target" yaml:"target"`
}

// Asset is a downloadable or viewable artifact attached to an entity.
type Asset struct {
	Kind string `json:"kind" yaml:"kind"`
	URL  string `json:"url" yaml:"url"`
}

// TrailEntry records one source observation of an entity.
type TrailEntry struct {
	Source    string    `json:"source"`
	SourceURL string    `json:"source_url,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}

// Metrics holds the numeric popularity signals of an entity.
type Metrics struct {
	Likes     int64  `json:"likes"`
	Downloads int64  `json:"downloads"`
	Stars     *int64 `json:"stars,omitempty"`
	Forks     *int64 `json:"forks,omitempty"`

	// Velocity is an externally computed growth-rate signal.
	Velocity float64 `json:"velocity,omitempty"`

	// Deltas against the previous registry snapshot. Used for cold-start velocity.
	LikesDelta     int64 `json:"likes_delta,omitempty"`
	DownloadsDelta int64 `json:"downloads_delta,omitempty"`
}

// Meta carries free-form but typed attributes of an entity.
type Meta struct {
	PipelineTag       string         `json:"pipeline_tag,omitempty"`
	ParamsBillions    float64        `json:"params_billions,omitempty"`
	Architecture      string         `json:"architecture,omitempty"`
	Quantized         bool           `json:"quantized,omitempty"`
	OneCommandRuntime bool           `json:"one_command_runtime,omitempty"`
	InferenceAPI      bool           `json:"inference_api,omitempty"`
	PaperID           string         `json:"paper_id,omitempty"`
	NSFW              bool           `json:"nsfw,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Score holds the FNI sub-scores and composite of an entity.
type Score struct {
	P            float64    `json:"p"`
	V            float64    `json:"v"`
	C            float64    `json:"c"`
	U            float64    `json:"u"`
	Score        float64    `json:"score"`
	AnomalyFlags []string   `json:"anomaly_flags,omitempty"`
	Commentary   string     `json:"commentary,omitempty"`
	ScoredAt     *time.Time `json:"scored_at,omitempty"`
}

// Entity is the unit of record.
type Entity struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Source      string   `json:"source"`
	SourceURL   string   `json:"source_url,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	BodyContent string   `json:"body_content,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Author      string   `json:"author,omitempty"`
	License     string   `json:"license,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`

	Metrics Metrics `json:"metrics"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`

	Meta      Meta       `json:"meta"`
	Relations []Relation `json:"relations,omitempty"`
	Assets    []Asset    `json:"assets,omitempty"`

	Status           Status           `json:"status"`
	ContentHash      string           `json:"content_hash,omitempty"`
	ComplianceStatus ComplianceStatus `json:"compliance_status,omitempty"`
	SourceTrail      []TrailEntry     `json:"source_trail,omitempty"`

	FNI Score `json:"fni"`
}

// DocLength returns the length of the entity's documentation. The long-form
// body wins; the description is used when no body was harvested.
func (e *Entity) DocLength() int {
	if e.BodyContent != "" {
		return len(e.BodyContent)
	}
	return len(e.Description)
}

// Age returns how long ago the entity was created upstream. A zero
// CreatedAt is treated as infinitely old.
func (e *Entity) Age(now time.Time) time.Duration {
	if e.CreatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(e.CreatedAt)
}

// HasRelation reports whether the entity links to anything with the given type.
func (e *Entity) HasRelation(t RelationType) bool {
	for _, r := range e.Relations {
		if r.Type == t && r.Target != "" {
			return true
		}
	}
	return false
}

// HasTag reports whether the entity carries tag, compared case-insensitively.
func (e *Entity) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Relations = append([]Relation(nil), e.Relations...)
	c.Assets = append([]Asset(nil), e.Assets...)
	c.SourceTrail = append([]TrailEntry(nil), e.SourceTrail...)
	c.FNI.AnomalyFlags = append([]string(nil), e.FNI.AnomalyFlags...)
	if e.FNI.ScoredAt != nil {
		t := *e.FNI.ScoredAt
		c.FNI.ScoredAt = &t
	}
	if e.Metrics.Stars != nil {
		v := *e.Metrics.Stars
		c.Metrics.Stars = &v
	}
	if e.Metrics.Forks != nil {
		v := *e.Metrics.Forks
		c.Metrics.Forks = &v
	}
	if e.Meta.Extra != nil {
		c.Meta.Extra = make(map[string]any, len(e.Meta.Extra))
		for k, v := range e.Meta.Extra {
			c.Meta.Extra[k] = v
		}
	}
	return &c
}

// Int64 returns a pointer to v. Handy for the optional star and fork metrics.
func Int64(v int64) *int64 { return &v }
