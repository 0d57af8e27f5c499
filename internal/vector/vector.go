package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/tour-agent/backend/internal/storage/models"
)

var ErrUnknownCollection = errors.New("unknown collection")

// DimensionMismatchError rejects a vector whose length does not match the
// collection's fixed dimension. Fatal for the single upsert only.
type DimensionMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in collection %s: want %d, got %d", e.Collection, e.Want, e.Got)
}

// Hit is one nearest-neighbor match. The entity pointer comes from the same
// index generation the similarity was computed against.
type Hit struct {
	EntityID   string
	Similarity float64
	Entity     *models.CanonicalEntity
}

// Store is a per-collection vector index with monotonic versioning.
// Mutations return the new index version; Search also reports the version of
// the generation it read, so callers can tag cache entries consistently.
type Store interface {
	Upsert(ctx context.Context, collection string, entity *models.CanonicalEntity, vec []float32) (uint64, error)
	Delete(ctx context.Context, collection, entityID string) (uint64, error)
	ReplaceAll(ctx context.Context, collection string, entities []*models.CanonicalEntity, vecs [][]float32) (uint64, error)
	Search(ctx context.Context, collection string, vec []float32, k int) ([]Hit, uint64, error)
	Version() uint64
	Count(collection string) int
}
