// Package fni computes the FNI trust score of an entity: four bounded
// sub-scores (popularity, velocity, credibility, utility), anomaly flags, an
// anomaly-penalized composite and a deterministic commentary.
package fni

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Anomaly flags.
const (
	FlagUnusualRatio     = "UNUSUAL_RATIO"
	FlagContentMismatch  = "CONTENT_MISMATCH"
	FlagSuspiciousGrowth = "SUSPICIOUS_GROWTH"
)

const (
	penaltyGrowth   = 0.8
	penaltyRatio    = 0.9
	penaltyMismatch = 0.7
	multiplierFloor = 0.5
)

// Documentation length tiers, in characters.
const (
	docTierBasic         = 500
	docTierComprehensive = 2000
	docTierExtensive     = 10000
)

var (
	aiMarkers       = []string{"-ai", "ai-", "lab", "labs", "research"}
	containerTags   = []string{"docker", "container", "containerized", "kubernetes"}
	quantizedTags   = []string{"gguf", "gptq", "awq", "quantized", "exl2"}
	oneCommandTags  = []string{"ollama", "llamafile", "one-click"}
	inferenceAPITag = "inference-api"
)

// Engine scores entities. It is stateless apart from its configuration and clock.
type Engine struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy of the engine using now as wall clock.
func (en *Engine) WithClock(now func() time.Time) *Engine {
	c := *en
	c.now = now
	return &c
}

func round10(x float64) float64 {
	return math.Round(x*10) / 10
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(100, x))
}

func ratio(v, max float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(v/max, 1) * 100
}

// Popularity blends likes, downloads and stars. Without a star metric the
// likes component stands in for stars.
func (en *Engine) Popularity(e *entity.Entity) float64 {
	n := en.cfg.Normalization
	likes := ratio(float64(e.Metrics.Likes), n.MaxLikes)
	downloads := ratio(float64(e.Metrics.Downloads), n.MaxDownloads)
	stars := likes
	if e.Metrics.Stars != nil {
		stars = ratio(float64(*e.Metrics.Stars), n.MaxStars)
	}
	return round10(likes*0.4 + downloads*0.3 + stars*0.3)
}

// Velocity uses metric deltas for entities younger than the cold start
// window and the external growth-rate signal otherwise.
func (en *Engine) Velocity(e *entity.Entity) float64 {
	coldStart := time.Duration(en.cfg.ColdStartDays) * 24 * time.Hour
	if e.Age(en.now()) < coldStart {
		cold := float64(e.Metrics.LikesDelta+e.Metrics.DownloadsDelta) * 0.5
		return round10(clamp(cold))
	}
	return round10(ratio(e.Metrics.Velocity, en.cfg.Normalization.MaxVelocity))
}

// Credibility rewards papers, documentation depth and known authors.
func (en *Engine) Credibility(e *entity.Entity) float64 {
	c := 0.0
	if e.Meta.PaperID != "" {
		c += 20
	}
	if e.HasRelation(entity.RelationBasedOnPaper) {
		c += 20
	}
	doc := e.DocLength()
	for _, tier := range []int{docTierBasic, docTierComprehensive, docTierExtensive} {
		if doc >= tier {
			c += 10
		}
	}
	switch {
	case en.isBigOrg(e.Author):
		c += 30
	case hasAIMarker(e.Author):
		c += 15
	}
	return round10(math.Min(c, 100))
}

func (en *Engine) isBigOrg(author string) bool {
	if author == "" {
		return false
	}
	for _, org := range en.cfg.BigOrgAllowList {
		if strings.EqualFold(author, org) {
			return true
		}
	}
	return false
}

func hasAIMarker(author string) bool {
	a := strings.ToLower(author)
	for _, m := range aiMarkers {
		if strings.Contains(a, m) {
			return true
		}
	}
	return false
}

// Utility rewards deployability.
func (en *Engine) Utility(e *entity.Entity) float64 {
	b := en.cfg.UtilityBonuses
	u := 0.0
	if e.Meta.OneCommandRuntime || hasAnyTag(e, oneCommandTags) {
		u += b.OneCommand
	}
	if e.Meta.Quantized || hasAnyTag(e, quantizedTags) {
		u += b.Quantized
	}
	switch doc := e.DocLength(); {
	case doc >= docTierComprehensive:
		u += b.Docs
	case doc >= docTierBasic:
		u += b.Docs / 2
	}
	if hasAnyTag(e, containerTags) {
		u += b.Container
	}
	if e.Meta.InferenceAPI || e.HasTag(inferenceAPITag) {
		u += b.API
	}
	return round10(math.Min(u, 100))
}

func hasAnyTag(e *entity.Entity, tags []string) bool {
	for _, t := range tags {
		if e.HasTag(t) {
			return true
		}
	}
	return false
}

// Anomalies returns the flags e triggers, in a fixed order.
func (en *Engine) Anomalies(e *entity.Entity, avgVelocity float64) []string {
	a := en.cfg.Anomaly
	var flags []string

	likes, downloads := e.Metrics.Likes, e.Metrics.Downloads
	if likes+downloads > 0 {
		r := float64(downloads) / float64(likes+1)
		if r > a.MaxRatio || r < a.MinRatio {
			flags = append(flags, FlagUnusualRatio)
		}
	}
	if likes > a.HighLikes && e.DocLength() < a.MinContentForHighLikes {
		flags = append(flags, FlagContentMismatch)
	}
	if avgVelocity > 0 && e.Metrics.Velocity > avgVelocity*a.GrowthMultiplier {
		flags = append(flags, FlagSuspiciousGrowth)
	}
	return flags
}

// Multiplier stacks the penalties of flags and floors the result at 0.5.
func Multiplier(flags []string) float64 {
	m := 1.0
	for _, f := range flags {
		switch f {
		case FlagSuspiciousGrowth:
			m *= penaltyGrowth
		case FlagUnusualRatio:
			m *= penaltyRatio
		case FlagContentMismatch:
			m *= penaltyMismatch
		}
	}
	return math.Max(multiplierFloor, m)
}

// Score computes the full FNI result for e. avgVelocity is the mean velocity
// of the population e is ranked in. Entities with malformed metrics are
// rejected with an error.
func (en *Engine) Score(e *entity.Entity, avgVelocity float64) (entity.Score, error) {
	if err := validate(e); err != nil {
		return entity.Score{}, err
	}

	s := entity.Score{
		P: en.Popularity(e),
		V: en.Velocity(e),
		C: en.Credibility(e),
		U: en.Utility(e),
	}
	s.AnomalyFlags = en.Anomalies(e, avgVelocity)

	w := en.cfg.Weights
	raw := s.P*w.P + s.V*w.V + s.C*w.C + s.U*w.U
	s.Score = round10(clamp(raw * Multiplier(s.AnomalyFlags)))
	s.Commentary = Commentary(s)

	now := en.now().UTC()
	s.ScoredAt = &now
	return s, nil
}

func validate(e *entity.Entity) error {
	if e == nil {
		return fmt.Errorf("nil entity")
	}
	m := e.Metrics
	if m.Likes < 0 || m.Downloads < 0 {
		return fmt.Errorf("entity %s: negative metrics", e.ID)
	}
	if (m.Stars != nil && *m.Stars < 0) || (m.Forks != nil && *m.Forks < 0) {
		return fmt.Errorf("entity %s: negative repository metrics", e.ID)
	}
	if math.IsNaN(m.Velocity) || math.IsInf(m.Velocity, 0) {
		return fmt.Errorf("entity %s: velocity is not a finite number", e.ID)
	}
	return nil
}
