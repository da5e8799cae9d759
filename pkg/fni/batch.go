package fni

import (
	"context"
	"log/slog"

	"github.com/solaius/model-harvester/pkg/entity"
)

// Registry is the subset of the entity registry scoring needs.
type Registry interface {
	All() []*entity.Entity
	UpdateScores(scores map[string]entity.Score) int
}

// Summary reports one ScoreRegistry pass.
type Summary struct {
	Scored          int
	Skipped         int
	AverageVelocity float64
}

// AverageVelocity is the mean velocity signal over entities.
func AverageVelocity(entities []*entity.Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	sum := 0.0
	n := 0
	for _, e := range entities {
		if v := e.Metrics.Velocity; v > 0 {
			sum += v
		}
		n++
	}
	return sum / float64(n)
}

// ScoreRegistry scores a snapshot of reg and writes the results back.
// Entities that fail validation keep their previous score and are counted
// as skipped. The snapshot may be taken while merges are in flight.
func (en *Engine) ScoreRegistry(ctx context.Context, reg Registry, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}

	snapshot := reg.All()
	sum := Summary{AverageVelocity: AverageVelocity(snapshot)}
	scores := make(map[string]entity.Score, len(snapshot))

	for i, e := range snapshot {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
		}
		s, err := en.Score(e, sum.AverageVelocity)
		if err != nil {
			logger.Warn("skipping entity score", "id", e.ID, "error", err)
			sum.Skipped++
			continue
		}
		scores[e.ID] = s
	}

	sum.Scored = reg.UpdateScores(scores)
	logger.Info("fni scoring complete",
		"scored", sum.Scored,
		"skipped", sum.Skipped,
		"avgVelocity", sum.AverageVelocity,
	)
	return sum, nil
}
