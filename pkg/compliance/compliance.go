// Package compliance attaches policy verdicts to entities and removes blocked
// entities from exported sets.
package compliance

import (
	"strings"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Config controls the normalize-time classifier.
type Config struct {
	BlockNSFW bool `yaml:"blockNSFW"`
	// BlockedTags are extra tags that block an entity, compared case-insensitively.
	BlockedTags []string `yaml:"blockedTags,omitempty"`
	// FlaggedLicenses mark an entity as flagged without removing it.
	FlaggedLicenses []string `yaml:"flaggedLicenses,omitempty"`
}

// DefaultConfig blocks NSFW content.
func DefaultConfig() Config {
	return Config{BlockNSFW: true}
}

var nsfwTags = []string{"nsfw", "not-for-all-audiences"}

// Classifier assigns a compliance status to freshly normalized entities.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the verdict for e.
func (c *Classifier) Classify(e *entity.Entity) entity.ComplianceStatus {
	if c.cfg.BlockNSFW {
		if e.Meta.NSFW {
			return entity.ComplianceBlocked
		}
		for _, t := range nsfwTags {
			if e.HasTag(t) {
				return entity.ComplianceBlocked
			}
		}
	}
	for _, t := range c.cfg.BlockedTags {
		if e.HasTag(t) {
			return entity.ComplianceBlocked
		}
	}
	for _, l := range c.cfg.FlaggedLicenses {
		if strings.EqualFold(e.License, l) {
			return entity.ComplianceFlagged
		}
	}
	return entity.ComplianceApproved
}

// Apply sets e.ComplianceStatus. A verdict already set by the adapter is kept
// unless the classifier blocks the entity.
func (c *Classifier) Apply(e *entity.Entity) {
	verdict := c.Classify(e)
	if e.ComplianceStatus == "" || verdict == entity.ComplianceBlocked {
		e.ComplianceStatus = verdict
	}
}

// Result is the output of Filter.
type Result struct {
	Kept    []*entity.Entity
	Blocked int
}

// Filter removes entities whose compliance status is blocked.
func Filter(entities []*entity.Entity) Result {
	kept := make([]*entity.Entity, 0, len(entities))
	blocked := 0
	for _, e := range entities {
		if e.ComplianceStatus == entity.ComplianceBlocked {
			blocked++
			continue
		}
		kept = append(kept, e)
	}
	return Result{Kept: kept, Blocked: blocked}
}
