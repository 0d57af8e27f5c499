package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tour-agent/backend/internal/cache"
	"github.com/tour-agent/backend/internal/kb"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector/memory"
	"github.com/tour-agent/backend/pkg/config"
)

type stubEmbedder struct {
	vec []float32
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func (s stubEmbedder) Dimension() int { return len(s.vec) }

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store := memory.NewStore(2)
	entity := &models.CanonicalEntity{
		ID:           "museum_bellas_artes",
		Type:         models.ContentTypeMuseum,
		Name:         "Museo Nacional de Bellas Artes",
		Description:  "Cuban fine arts museum",
		Completeness: 1,
		SourceInfo: models.SourceInfo{
			SourceID:    "cuba.travel",
			Reliability: models.TierHigh,
			LastUpdated: time.Now(),
		},
	}
	_, err := store.Upsert(context.Background(), "museums", entity, []float32{1, 0})
	require.NoError(t, err)

	scoring := config.ScoringConfig{
		SimilarityWeight:    0.5,
		ReliabilityWeight:   0.2,
		CompletenessWeight:  0.15,
		RecencyWeight:       0.15,
		RecencyHalfLifeDays: 30,
		MinConfidence:       0.45,
		Oversample:          3,
	}
	knowledgeBase := kb.New(store, stubEmbedder{vec: []float32{1, 0}}, cache.NewMemoryCache(time.Minute), scoring)

	app := fiber.New()
	handler := NewQueryHandler(knowledgeBase)
	app.Post("/api/v1/query", handler.HandleQuery)
	return app
}

func TestHandleQuery(t *testing.T) {
	app := newTestApp(t)

	body, _ := json.Marshal(map[string]any{
		"query":        "fine arts museum",
		"content_type": "museum",
		"k":            5,
	})

	req := httptest.NewRequest("POST", "/api/v1/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out models.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "museum_bellas_artes", out.Results[0].EntityID)
	assert.Equal(t, 1, out.Results[0].Rank)
	assert.Greater(t, out.Confidence, 0.45)
}

func TestHandleQuery_RequiresQuery(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/query", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleQuery_RejectsUnknownContentType(t *testing.T) {
	app := newTestApp(t)

	body := []byte(`{"query": "museum", "content_type": "hotel"}`)
	req := httptest.NewRequest("POST", "/api/v1/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
