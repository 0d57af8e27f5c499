package kb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tour-agent/backend/internal/cache"
	"github.com/tour-agent/backend/internal/embeddings"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector/memory"
)

// fixedEmbedder returns a constant vector for every text, so similarity is
// fully controlled by what the test puts into the store.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f fixedEmbedder) Dimension() int { return len(f.vec) }

func indexedEntity(id string, contentType models.ContentType, tier models.ReliabilityTier, completeness float64, updated time.Time) *models.CanonicalEntity {
	return &models.CanonicalEntity{
		ID:           id,
		Type:         contentType,
		Name:         id,
		Description:  "test entity",
		Completeness: completeness,
		SourceInfo: models.SourceInfo{
			SourceID:    "cuba.travel",
			Reliability: tier,
			LastUpdated: updated,
		},
	}
}

func newTestKB(t *testing.T, store *memory.Store) *KnowledgeBase {
	t.Helper()
	kb := New(store, fixedEmbedder{vec: []float32{1, 0}}, cache.NewMemoryCache(time.Minute), testScoringConfig())
	kb.scorer.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return kb
}

func TestKnowledgeBase_QueryRanksByConfidence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_bellas_artes", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "museums", indexedEntity("museum_obscure", models.ContentTypeMuseum, models.TierLow, 0, now), []float32{0.6, 0.8})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "museo de arte", models.QueryFilters{ContentType: models.ContentTypeMuseum}, 5)
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "museum_bellas_artes", resp.Results[0].EntityID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
	assert.Greater(t, resp.Results[0].Confidence, resp.Results[1].Confidence)
	assert.InDelta(t, 1.0, resp.Results[0].Confidence, 1e-9)

	// aggregate confidence is the best single result
	assert.Equal(t, resp.Results[0].Confidence, resp.Confidence)
	assert.False(t, resp.CacheHit)
	assert.NotEmpty(t, resp.ID)
}

func TestKnowledgeBase_LowConfidenceFlaggedNotDropped(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	// nearly orthogonal vector from a low tier source with no detail
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_weak", models.ContentTypeMuseum, models.TierLow, 0, now), []float32{0.1, 0.995})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "museum", models.QueryFilters{ContentType: models.ContentTypeMuseum}, 5)
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].BelowThreshold)
	assert.Less(t, resp.Results[0].Confidence, 0.45)
}

func TestKnowledgeBase_CacheHitWithinTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_a", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	first, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.IndexVersion, second.IndexVersion)
}

func TestKnowledgeBase_CacheHitReportsOwnLatency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_a", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	first, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)

	// the cache holds the original response object; poison its latency to
	// prove a hit does not echo it back
	first.LatencyMS = 5000

	second, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	assert.Less(t, second.LatencyMS, 5000)
}

func TestKnowledgeBase_IndexChangeInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_a", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	first, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, "museums", indexedEntity("museum_b", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	second, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Greater(t, second.IndexVersion, first.IndexVersion)
	assert.Len(t, second.Results, 2)
}

func TestKnowledgeBase_EquivalentQueriesShareCacheEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_a", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	_, err = kb.Query(ctx, "museo nacional", models.QueryFilters{}, 5)
	require.NoError(t, err)

	// same query after normalization: casing, whitespace, domain terms
	second, err := kb.Query(ctx, "  MUSEUM   Nacional ", models.QueryFilters{}, 5)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
}

func TestKnowledgeBase_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	art := indexedEntity("museum_art", models.ContentTypeMuseum, models.TierHigh, 1, now)
	art.Metadata.Category = "art"
	history := indexedEntity("museum_history", models.ContentTypeMuseum, models.TierHigh, 1, now)
	history.Metadata.Category = "history"

	_, err := store.Upsert(ctx, "museums", art, []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "museums", history, []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "museum", models.QueryFilters{ContentType: models.ContentTypeMuseum, Category: "Art"}, 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "museum_art", resp.Results[0].EntityID)
}

func TestKnowledgeBase_SearchesAllCollectionsWithoutFilter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	_, err := store.Upsert(ctx, "museums", indexedEntity("museum_a", models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "excursions", indexedEntity("excursion_a", models.ContentTypeExcursion, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "destinations", indexedEntity("destination_a", models.ContentTypeDestination, models.TierHigh, 1, now), []float32{1, 0})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "havana", models.QueryFilters{}, 10)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestKnowledgeBase_TruncatesToK(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	for _, id := range []string{"museum_a", "museum_b", "museum_c"} {
		_, err := store.Upsert(ctx, "museums", indexedEntity(id, models.ContentTypeMuseum, models.TierHigh, 1, now), []float32{1, 0})
		require.NoError(t, err)
	}

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "museum", models.QueryFilters{ContentType: models.ContentTypeMuseum}, 2)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// identical scores resolve by ascending entity id
	assert.Equal(t, "museum_a", resp.Results[0].EntityID)
	assert.Equal(t, "museum_b", resp.Results[1].EntityID)
}

func TestKnowledgeBase_EmptyIndex(t *testing.T) {
	ctx := context.Background()

	kb := newTestKB(t, memory.NewStore(2))

	resp, err := kb.Query(ctx, "anything", models.QueryFilters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestKnowledgeBase_EmbedderErrorsPropagate(t *testing.T) {
	ctx := context.Background()

	store := memory.NewStore(2)
	kb := New(store, fixedEmbedder{vec: []float32{1, 0}, err: embeddings.ErrUnavailable}, cache.NewMemoryCache(time.Minute), testScoringConfig())

	_, err := kb.Query(ctx, "museum", models.QueryFilters{}, 5)
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)
}

func TestKnowledgeBase_WellSourcedEntityRanksFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(2)
	target := indexedEntity("museum_123", models.ContentTypeMuseum, models.TierHigh, 0.9, now)
	target.Name = "Museo Nacional de Bellas Artes"
	_, err := store.Upsert(ctx, "museums", target, []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "museums", indexedEntity("museum_other", models.ContentTypeMuseum, models.TierLow, 0.2, now), []float32{0.7, 0.7})
	require.NoError(t, err)

	kb := newTestKB(t, store)

	resp, err := kb.Query(ctx, "bellas artes museo", models.QueryFilters{}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "museum_123", resp.Results[0].EntityID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Greater(t, resp.Results[0].Confidence, 0.6)

	// once deleted, the entity never resurfaces, cached or not
	_, err = store.Delete(ctx, "museums", "museum_123")
	require.NoError(t, err)

	resp, err = kb.Query(ctx, "bellas artes museo", models.QueryFilters{}, 3)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	for _, r := range resp.Results {
		assert.NotEqual(t, "museum_123", r.EntityID)
	}
}

func TestCacheKey(t *testing.T) {
	base := cacheKey("museum nacional", models.QueryFilters{}, 5)

	assert.Len(t, base, 32)
	assert.Equal(t, base, cacheKey("museum nacional", models.QueryFilters{}, 5))

	assert.NotEqual(t, base, cacheKey("museum nacional", models.QueryFilters{}, 3))
	assert.NotEqual(t, base, cacheKey("museum nacional", models.QueryFilters{ContentType: models.ContentTypeMuseum}, 5))
	assert.NotEqual(t, base, cacheKey("museum nacional", models.QueryFilters{Category: "art"}, 5))

	// category filter is case-insensitive in the key, matching the filter itself
	assert.Equal(t,
		cacheKey("museum nacional", models.QueryFilters{Category: "Art"}, 5),
		cacheKey("museum nacional", models.QueryFilters{Category: "art"}, 5),
	)
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  MUSEO   Nacional ", "museum nacional"},
		{"visita guiada por la habana", "guided tour por la habana"},
		{"excursión a viñales", "excursion a viñales"},
		{"plain query", "plain query"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeQuery(tt.in))
	}
}
