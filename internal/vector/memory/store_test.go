package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector"
)

func testEntity(id string) *models.CanonicalEntity {
	return &models.CanonicalEntity{
		ID:   id,
		Type: models.ContentTypeMuseum,
		Name: id,
	}
}

func TestStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStore(3)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "museums", testEntity("museum_b"), []float32{0, 1, 0})
	require.NoError(t, err)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "museum_a", hits[0].EntityID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, "museum_b", hits[1].EntityID)
	assert.InDelta(t, 0.0, hits[1].Similarity, 1e-9)
}

func TestStore_SearchDeterministic(t *testing.T) {
	ctx := context.Background()
	s := NewStore(3)

	for _, id := range []string{"museum_c", "museum_a", "museum_b"} {
		_, err := s.Upsert(ctx, "museums", testEntity(id), []float32{1, 1, 0})
		require.NoError(t, err)
	}

	first, firstVersion, err := s.Search(ctx, "museums", []float32{1, 1, 0}, 3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		hits, version, err := s.Search(ctx, "museums", []float32{1, 1, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, firstVersion, version)
		assert.Equal(t, first, hits)
	}

	// equal similarities break ties by ascending id
	assert.Equal(t, "museum_a", first[0].EntityID)
	assert.Equal(t, "museum_b", first[1].EntityID)
	assert.Equal(t, "museum_c", first[2].EntityID)
}

func TestStore_SearchKBounds(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "museums", testEntity("museum_b"), []float32{0, 1})
	require.NoError(t, err)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, _, err = s.Search(ctx, "museums", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStore_ColdStart(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	hits, version, err := s.Search(ctx, "museums", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, uint64(0), version)
}

func TestStore_VersionMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	v1, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	require.NoError(t, err)
	v2, err := s.Upsert(ctx, "excursions", testEntity("excursion_a"), []float32{0, 1})
	require.NoError(t, err)
	v3, err := s.Delete(ctx, "museums", "museum_a")
	require.NoError(t, err)
	v4, err := s.ReplaceAll(ctx, "destinations", nil, nil)
	require.NoError(t, err)

	assert.Less(t, v1, v2)
	assert.Less(t, v2, v3)
	assert.Less(t, v3, v4)
	assert.Equal(t, v4, s.Version())
}

func TestStore_DeleteRemovesFromResults(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "museums", testEntity("museum_b"), []float32{1, 0})
	require.NoError(t, err)

	before := s.Version()
	_, err = s.Delete(ctx, "museums", "museum_a")
	require.NoError(t, err)
	assert.Greater(t, s.Version(), before)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "museum_b", hits[0].EntityID)
	assert.Equal(t, 1, s.Count("museums"))
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	require.NoError(t, err)

	before := s.Version()
	v, err := s.Delete(ctx, "museums", "museum_missing")
	require.NoError(t, err)
	assert.Equal(t, before, v)
}

func TestStore_UpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{0, 1})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Count("museums"))

	hits, _, err := s.Search(ctx, "museums", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore(3)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{1, 0})
	var dimErr *vector.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)

	_, _, err = s.Search(ctx, "museums", []float32{1, 0}, 5)
	require.ErrorAs(t, err, &dimErr)
}

func TestStore_UnknownCollection(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "hotels", testEntity("x"), []float32{1, 0})
	assert.ErrorIs(t, err, vector.ErrUnknownCollection)

	_, _, err = s.Search(ctx, "hotels", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, vector.ErrUnknownCollection)
}

func TestStore_ReplaceAllSwapsGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_old"), []float32{1, 0})
	require.NoError(t, err)

	entities := []*models.CanonicalEntity{testEntity("museum_new_b"), testEntity("museum_new_a")}
	vecs := [][]float32{{1, 0}, {1, 0}}
	_, err = s.ReplaceAll(ctx, "museums", entities, vecs)
	require.NoError(t, err)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "museum_new_a", hits[0].EntityID)
	assert.Equal(t, "museum_new_b", hits[1].EntityID)
}

func TestStore_ZeroVectorScoresZero(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{0, 0})
	require.NoError(t, err)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.0, hits[0].Similarity)
}

func TestStore_NegativeSimilarityClamped(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	_, err := s.Upsert(ctx, "museums", testEntity("museum_a"), []float32{-1, 0})
	require.NoError(t, err)

	hits, _, err := s.Search(ctx, "museums", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.0, hits[0].Similarity)
}
