package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/config"
	"github.com/tour-agent/backend/pkg/logger"
)

// UnknownSourceError marks a record whose source_id is not registered.
// Records from unknown sources are dropped, never indexed.
type UnknownSourceError struct {
	SourceID string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source: %s", e.SourceID)
}

// Registry is the static table of known data sources. Loaded once at startup,
// read-only afterwards, so lookups need no synchronization.
type Registry struct {
	sources map[string]models.SourceDescriptor
}

func New(configured []config.SourceConfig) (*Registry, error) {
	sources := configured
	if len(sources) == 0 {
		sources = defaultSources
	}

	r := &Registry{sources: make(map[string]models.SourceDescriptor, len(sources))}
	for _, s := range sources {
		tier := models.ReliabilityTier(s.Reliability)
		if tier.Rank() == 0 {
			return nil, fmt.Errorf("source %s has invalid reliability tier %q", s.ID, s.Reliability)
		}
		if _, ok := r.sources[s.ID]; ok {
			return nil, fmt.Errorf("duplicate source id %s", s.ID)
		}
		r.sources[s.ID] = models.SourceDescriptor{
			ID:          s.ID,
			Domain:      s.Domain,
			Reliability: tier,
		}
	}

	logger.Info("Source registry loaded", zap.Int("sources", len(r.sources)))

	return r, nil
}

// Resolve returns the descriptor for a source id, or UnknownSourceError.
func (r *Registry) Resolve(sourceID string) (models.SourceDescriptor, error) {
	desc, ok := r.sources[sourceID]
	if !ok {
		return models.SourceDescriptor{}, &UnknownSourceError{SourceID: sourceID}
	}
	return desc, nil
}

func (r *Registry) Len() int {
	return len(r.sources)
}

// defaultSources mirrors the crawl targets the system was built around:
// official tourism portals, one encyclopedia-style directory, and
// community/aggregator sites.
var defaultSources = []config.SourceConfig{
	{ID: "cuba.travel", Domain: "www.cuba.travel", Reliability: "high"},
	{ID: "visitcubago.com", Domain: "visitcubago.com", Reliability: "high"},
	{ID: "habanacultural", Domain: "www.habanacultural.ohc.cu", Reliability: "high"},
	{ID: "sitiosturisticos.es", Domain: "sitiosturisticos.es", Reliability: "medium"},
	{ID: "viajehotelescuba.com", Domain: "viajehotelescuba.com", Reliability: "low"},
	{ID: "buenviajeacuba.com", Domain: "buenviajeacuba.com", Reliability: "low"},
	{ID: "tripadvisor", Domain: "www.tripadvisor.com", Reliability: "low"},
}
