package kb

import (
	"math"
	"time"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/config"
)

// reliabilityWeight maps a source tier onto [0,1] for the confidence blend.
func reliabilityWeight(tier models.ReliabilityTier) float64 {
	switch tier {
	case models.TierHigh:
		return 1.0
	case models.TierMedium:
		return 0.6
	case models.TierLow:
		return 0.3
	}
	return 0
}

// recencyDecay halves with every half-life of data age. Future timestamps
// count as fresh.
func recencyDecay(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// scorer blends similarity, source reliability, completeness and recency into
// one confidence value. Each term is a pure function so the weights can be
// retuned without touching retrieval.
type scorer struct {
	cfg config.ScoringConfig
	now func() time.Time
}

func newScorer(cfg config.ScoringConfig) *scorer {
	return &scorer{cfg: cfg, now: time.Now}
}

func (s *scorer) halfLife() time.Duration {
	return time.Duration(s.cfg.RecencyHalfLifeDays * 24 * float64(time.Hour))
}

func (s *scorer) confidence(similarity float64, entity *models.CanonicalEntity) float64 {
	age := s.now().Sub(entity.SourceInfo.LastUpdated)

	c := s.cfg.SimilarityWeight*similarity +
		s.cfg.ReliabilityWeight*reliabilityWeight(entity.SourceInfo.Reliability) +
		s.cfg.CompletenessWeight*entity.Completeness +
		s.cfg.RecencyWeight*recencyDecay(age, s.halfLife())

	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
