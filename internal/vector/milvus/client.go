// Package milvus backs the vector.Store interface with a remote Milvus/Zilliz
// deployment, for installs too large for the in-process index. The in-process
// store remains the default: only it guarantees byte-identical rankings per
// index version.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector"
	"github.com/tour-agent/backend/pkg/logger"
)

type Client struct {
	client  client.Client
	prefix  string
	dim     int
	version atomic.Uint64
	mu      sync.Mutex
	tracker *idTracker
}

func NewClient(endpoint, apiKey, prefix string, dim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("prefix", prefix),
	)

	return &Client{
		client:  c,
		prefix:  prefix,
		dim:     dim,
		tracker: newIDTracker(),
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) collectionName(collection string) string {
	return fmt.Sprintf("%s_%s", m.prefix, collection)
}

// EnsureCollections creates the per-collection schemas on first run.
func (m *Client) EnsureCollections(ctx context.Context) error {
	for _, c := range models.Collections {
		name := m.collectionName(c)
		has, err := m.client.HasCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check collection %s: %w", name, err)
		}
		if has {
			continue
		}

		schema := &entity.Schema{
			CollectionName: name,
			Description:    "Tourism entity embeddings",
			Fields: []*entity.Field{
				{
					Name:       "entity_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.dim)},
				},
				{
					Name:       "entity_json",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "16384"},
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index params for %s: %w", name, err)
		}
		if err := m.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", name, err)
		}
		if err := m.client.LoadCollection(ctx, name, false); err != nil {
			return fmt.Errorf("failed to load collection %s: %w", name, err)
		}

		logger.Info("Collection created and loaded", zap.String("collection", name))
	}
	return nil
}

func (m *Client) Upsert(ctx context.Context, collection string, ent *models.CanonicalEntity, vec []float32) (uint64, error) {
	if !validCollection(collection) {
		return 0, vector.ErrUnknownCollection
	}
	if len(vec) != m.dim {
		return 0, &vector.DimensionMismatchError{Collection: collection, Want: m.dim, Got: len(vec)}
	}

	payload, err := json.Marshal(ent)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entity: %w", err)
	}

	name := m.collectionName(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replace semantics: remove any prior row for this id before inserting.
	expr := fmt.Sprintf(`entity_id == "%s"`, ent.ID)
	if err := m.client.Delete(ctx, name, "", expr); err != nil {
		return 0, fmt.Errorf("failed to delete prior entity: %w", err)
	}

	_, err = m.client.Insert(ctx, name, "",
		entity.NewColumnVarChar("entity_id", []string{ent.ID}),
		entity.NewColumnFloatVector("embedding", m.dim, [][]float32{vec}),
		entity.NewColumnVarChar("entity_json", []string{string(payload)}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert entity: %w", err)
	}

	if err := m.client.Flush(ctx, name, false); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}

	m.tracker.add(collection, ent.ID)
	return m.version.Add(1), nil
}

func (m *Client) Delete(ctx context.Context, collection, entityID string) (uint64, error) {
	if !validCollection(collection) {
		return 0, vector.ErrUnknownCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.collectionName(collection)
	expr := fmt.Sprintf(`entity_id == "%s"`, entityID)
	if err := m.client.Delete(ctx, name, "", expr); err != nil {
		return 0, fmt.Errorf("failed to delete entity: %w", err)
	}
	if err := m.client.Flush(ctx, name, false); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}

	m.tracker.remove(collection, entityID)
	return m.version.Add(1), nil
}

func (m *Client) ReplaceAll(ctx context.Context, collection string, entities []*models.CanonicalEntity, vecs [][]float32) (uint64, error) {
	if !validCollection(collection) {
		return 0, vector.ErrUnknownCollection
	}
	if len(entities) != len(vecs) {
		return 0, fmt.Errorf("entities and vectors length mismatch: %d vs %d", len(entities), len(vecs))
	}
	for _, v := range vecs {
		if len(v) != m.dim {
			return 0, &vector.DimensionMismatchError{Collection: collection, Want: m.dim, Got: len(v)}
		}
	}

	ids := make([]string, len(entities))
	payloads := make([]string, len(entities))
	for i, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal entity %s: %w", e.ID, err)
		}
		ids[i] = e.ID
		payloads[i] = string(data)
	}

	name := m.collectionName(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.Delete(ctx, name, "", `entity_id != ""`); err != nil {
		return 0, fmt.Errorf("failed to clear collection: %w", err)
	}

	if len(entities) > 0 {
		_, err := m.client.Insert(ctx, name, "",
			entity.NewColumnVarChar("entity_id", ids),
			entity.NewColumnFloatVector("embedding", m.dim, vecs),
			entity.NewColumnVarChar("entity_json", payloads),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entities: %w", err)
		}
	}

	if err := m.client.Flush(ctx, name, false); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}

	m.tracker.replace(collection, ids)

	logger.Info("Collection replaced",
		zap.String("collection", name),
		zap.Int("entities", len(entities)),
	)

	return m.version.Add(1), nil
}

func (m *Client) Search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, uint64, error) {
	if !validCollection(collection) {
		return nil, 0, vector.ErrUnknownCollection
	}
	if len(vec) != m.dim {
		return nil, 0, &vector.DimensionMismatchError{Collection: collection, Want: m.dim, Got: len(vec)}
	}
	if k <= 0 {
		return []vector.Hit{}, m.version.Load(), nil
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	results, err := m.client.Search(
		ctx,
		m.collectionName(collection),
		[]string{},
		"",
		[]string{"entity_id", "entity_json"},
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding",
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, k)
	for _, sr := range results {
		idCol := sr.Fields.GetColumn("entity_id")
		jsonCol := sr.Fields.GetColumn("entity_json")
		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.Get(i)
			payload, _ := jsonCol.Get(i)

			var ent models.CanonicalEntity
			if err := json.Unmarshal([]byte(payload.(string)), &ent); err != nil {
				logger.Warn("Failed to decode stored entity", zap.Error(err))
				continue
			}

			hits = append(hits, vector.Hit{
				EntityID:   id.(string),
				Similarity: clamp01(float64(sr.Scores[i])),
				Entity:     &ent,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntityID < hits[j].EntityID
	})

	return hits, m.version.Load(), nil
}

func (m *Client) Version() uint64 {
	return m.version.Load()
}

func (m *Client) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.count(collection)
}

func validCollection(c string) bool {
	for _, known := range models.Collections {
		if c == known {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
