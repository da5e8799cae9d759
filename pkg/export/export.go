// Package export projects registry entities into the downstream record
// schema and writes them to a sink.
package export

import (
	"encoding/json"
	"math"
	"time"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Record is the exported entity shape. Nested structures are carried as
// JSON-encoded strings so consumers can store them in a single column.
type Record struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Author           string   `json:"author"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	PipelineTag      string   `json:"pipeline_tag,omitempty"`
	Likes            int64    `json:"likes"`
	Downloads        int64    `json:"downloads"`
	Source           string   `json:"source"`
	SourceURL        string   `json:"source_url"`
	ImageURL         string   `json:"image_url,omitempty"`
	Type             string   `json:"type"`
	Status           string   `json:"status"`
	BodyContent      string   `json:"body_content,omitempty"`
	Meta             string   `json:"meta"`
	Assets           string   `json:"assets"`
	Relations        string   `json:"relations"`
	CanonicalID      string   `json:"canonical_id,omitempty"`
	License          string   `json:"license,omitempty"`
	ComplianceStatus string   `json:"compliance_status"`
	QualityScore     float64  `json:"quality_score"`
	ContentHash      string   `json:"content_hash"`
	Velocity         *float64 `json:"velocity,omitempty"`
	SourceTrail      string   `json:"source_trail"`

	FNIScore        float64    `json:"fni_score"`
	FNIP            float64    `json:"fni_p"`
	FNIV            float64    `json:"fni_v"`
	FNIC            float64    `json:"fni_c"`
	FNIU            float64    `json:"fni_u"`
	FNIAnomalyFlags []string   `json:"fni_anomaly_flags"`
	FNICommentary   string     `json:"fni_commentary,omitempty"`
	FNIScoredAt     *time.Time `json:"fni_scored_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Map projects e into a Record.
func Map(e *entity.Entity) Record {
	r := Record{
		ID:               e.ID,
		Name:             e.Title,
		Author:           e.Author,
		Description:      e.Description,
		Tags:             nonNil(e.Tags),
		PipelineTag:      e.Meta.PipelineTag,
		Likes:            e.Metrics.Likes,
		Downloads:        e.Metrics.Downloads,
		Source:           e.Source,
		SourceURL:        e.SourceURL,
		ImageURL:         e.ImageURL,
		Type:             string(e.Type),
		Status:           string(e.Status),
		BodyContent:      e.BodyContent,
		Meta:             encode(e.Meta, "{}"),
		Assets:           encode(e.Assets, "[]"),
		Relations:        encode(e.Relations, "[]"),
		License:          e.License,
		ComplianceStatus: string(e.ComplianceStatus),
		QualityScore:     QualityScore(e),
		ContentHash:      e.ContentHash,
		SourceTrail:      encode(e.SourceTrail, "[]"),
		FNIScore:         e.FNI.Score,
		FNIP:             e.FNI.P,
		FNIV:             e.FNI.V,
		FNIC:             e.FNI.C,
		FNIU:             e.FNI.U,
		FNIAnomalyFlags:  nonNil(e.FNI.AnomalyFlags),
		FNICommentary:    e.FNI.Commentary,
		FNIScoredAt:      e.FNI.ScoredAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	if e.Metrics.Velocity != 0 {
		v := e.Metrics.Velocity
		r.Velocity = &v
	}
	if canonical, ok := e.Meta.Extra["canonical_id"].(string); ok {
		r.CanonicalID = canonical
	}
	return r
}

// MapAll projects every entity, keeping order.
func MapAll(entities []*entity.Entity) []Record {
	out := make([]Record, 0, len(entities))
	for _, e := range entities {
		out = append(out, Map(e))
	}
	return out
}

// QualityScore rates how complete an entity's record is, from 0 to 100.
func QualityScore(e *entity.Entity) float64 {
	score := 0.0
	if e.Title != "" {
		score += 10
	}
	if e.Description != "" {
		score += 15
	}
	switch n := e.DocLength(); {
	case n >= 2000:
		score += 25
	case n >= 500:
		score += 15
	case n > 0:
		score += 5
	}
	if len(e.Tags) > 0 {
		score += 10
	}
	if e.Author != "" {
		score += 10
	}
	if e.License != "" {
		score += 10
	}
	if e.ImageURL != "" {
		score += 5
	}
	if len(e.Relations) > 0 {
		score += 10
	}
	if e.SourceURL != "" {
		score += 5
	}
	return math.Min(score, 100)
}

func encode(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
