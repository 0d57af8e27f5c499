package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/embeddings"
	"github.com/tour-agent/backend/internal/metrics"
	"github.com/tour-agent/backend/internal/registry"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector"
	"github.com/tour-agent/backend/pkg/logger"
)

// Archive persists canonical entities and the ingestion log so the index can
// be rebuilt after a restart. Optional; a nil archive disables persistence.
type Archive interface {
	UpsertEntity(entity *models.CanonicalEntity) error
	DeleteEntity(contentType, id string) error
	ReplaceEntities(entities []*models.CanonicalEntity) error
	ListEntities() ([]*models.CanonicalEntity, error)
	LogRecord(sourceID, contentType, status, detail string) error
}

// Coordinator turns raw crawled records into canonical entities and keeps the
// vector index in sync. One background writer at a time; queries never go
// through here.
type Coordinator struct {
	registry *registry.Registry
	store    vector.Store
	embedder embeddings.Embedder
	archive  Archive

	mu       sync.Mutex
	entities map[models.ContentType]map[string]*models.CanonicalEntity
}

type BatchResult struct {
	BatchID   string `json:"batch_id"`
	Processed int    `json:"processed"`
	Rejected  int    `json:"rejected"`
}

func NewCoordinator(reg *registry.Registry, store vector.Store, embedder embeddings.Embedder, archive Archive) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    store,
		embedder: embedder,
		archive:  archive,
		entities: newCatalog(),
	}
}

func newCatalog() map[models.ContentType]map[string]*models.CanonicalEntity {
	return map[models.ContentType]map[string]*models.CanonicalEntity{
		models.ContentTypeMuseum:      {},
		models.ContentTypeExcursion:   {},
		models.ContentTypeDestination: {},
	}
}

// Ingest validates and normalizes one raw record into a canonical entity,
// merging with the current entity when the id already exists. It does not
// touch the vector index.
func (c *Coordinator) Ingest(rec models.RawRecord) (*models.CanonicalEntity, error) {
	entity, err := c.buildEntity(rec)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entities[entity.Type][entity.ID]; ok {
		entity = Merge(existing, entity)
	}
	c.entities[entity.Type][entity.ID] = entity

	return entity, nil
}

// buildEntity is the pure validate/normalize/enrich step.
func (c *Coordinator) buildEntity(rec models.RawRecord) (*models.CanonicalEntity, error) {
	desc, err := c.registry.Resolve(rec.SourceID)
	if err != nil {
		return nil, err
	}

	if !rec.ContentType.Valid() {
		return nil, &ValidationError{Field: "content_type", Reason: fmt.Sprintf("unknown content type %q", rec.ContentType)}
	}

	name := stringField(rec.Fields, "name", "title")
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	description := stringField(rec.Fields, "description")
	if description == "" {
		return nil, &ValidationError{Field: "description", Reason: "required"}
	}

	entity := &models.CanonicalEntity{
		ID:          entityID(rec.Fields, rec.ContentType, name),
		Type:        rec.ContentType,
		Name:        name,
		Description: description,
		SourceInfo: models.SourceInfo{
			SourceID:    desc.ID,
			Reliability: desc.Reliability,
			LastUpdated: rec.FetchedAt,
		},
	}

	if v, ok := rec.Fields["location"]; ok {
		entity.Location = parseLocation(v)
	} else if addr := stringField(rec.Fields, "address", "meeting_point"); addr != "" {
		entity.Location = models.Location{Address: addr}
	}

	switch rec.ContentType {
	case models.ContentTypeMuseum, models.ContentTypeDestination:
		if entity.Location.Empty() {
			return nil, &ValidationError{Field: "location", Reason: "required"}
		}
	case models.ContentTypeExcursion:
		v, ok := rec.Fields["duration"]
		if !ok {
			return nil, &ValidationError{Field: "duration", Reason: "required"}
		}
		dur, err := parseDuration(v)
		if err != nil {
			return nil, err
		}
		entity.Duration = dur
	}

	if v, ok := rec.Fields["schedule"]; ok {
		sched, err := parseSchedule(v)
		if err != nil {
			return nil, err
		}
		entity.Schedule = sched
	}

	if v, ok := rec.Fields["price"]; ok {
		price, err := parsePrice(v)
		if err != nil {
			return nil, err
		}
		entity.Price = price
	}

	entity.Metadata.Category = strings.ToLower(stringField(rec.Fields, "category", "domain_category"))
	entity.Metadata.Accessibility = stringField(rec.Fields, "accessibility")
	entity.Metadata.Languages = stringList(rec.Fields["languages"])

	// type-specific list fields all land in the tag set
	for _, key := range []string{"tags", "collections", "services", "included_services", "activities"} {
		if v, ok := rec.Fields[key]; ok {
			entity.Metadata.Tags = append(entity.Metadata.Tags, stringList(v)...)
		}
	}
	entity.Metadata.NormalizeTags()

	entity.Completeness = completeness(entity)

	return entity, nil
}

// ProcessRecord runs the full pipeline for one record: ingest, archive,
// embed, index.
func (c *Coordinator) ProcessRecord(ctx context.Context, rec models.RawRecord) error {
	entity, err := c.Ingest(rec)
	if err != nil {
		metrics.RecordsIngested.WithLabelValues(string(rec.ContentType), "rejected").Inc()
		if c.archive != nil {
			c.archive.LogRecord(rec.SourceID, string(rec.ContentType), "rejected", err.Error())
		}
		return err
	}

	if c.archive != nil {
		if err := c.archive.UpsertEntity(entity); err != nil {
			logger.Warn("Failed to archive entity",
				zap.String("entity_id", entity.ID),
				zap.Error(err),
			)
		}
	}

	vec, err := c.embedder.Embed(ctx, entity.EmbeddingText())
	if err != nil {
		metrics.RecordsIngested.WithLabelValues(string(rec.ContentType), "embed_failed").Inc()
		return fmt.Errorf("failed to embed entity %s: %w", entity.ID, err)
	}

	collection := entity.Type.Collection()
	version, err := c.store.Upsert(ctx, collection, entity, vec)
	if err != nil {
		metrics.RecordsIngested.WithLabelValues(string(rec.ContentType), "index_failed").Inc()
		return fmt.Errorf("failed to index entity %s: %w", entity.ID, err)
	}

	metrics.RecordsIngested.WithLabelValues(string(rec.ContentType), "indexed").Inc()
	metrics.EntitiesIndexed.WithLabelValues(collection).Set(float64(c.store.Count(collection)))
	metrics.IndexVersion.Set(float64(version))

	if c.archive != nil {
		c.archive.LogRecord(rec.SourceID, string(rec.ContentType), "indexed", entity.ID)
	}

	logger.Debug("Record ingested",
		zap.String("entity_id", entity.ID),
		zap.String("collection", collection),
		zap.Uint64("index_version", version),
	)

	return nil
}

// ProcessBatch ingests a batch of records. Per-record failures are logged and
// counted; they never abort the batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, records []models.RawRecord) BatchResult {
	result := BatchResult{BatchID: uuid.New().String()}

	for _, rec := range records {
		if err := c.ProcessRecord(ctx, rec); err != nil {
			result.Rejected++
			logger.Warn("Record rejected",
				zap.String("batch_id", result.BatchID),
				zap.String("source_id", rec.SourceID),
				zap.String("content_type", string(rec.ContentType)),
				zap.Error(err),
			)
			continue
		}
		result.Processed++
	}

	logger.Info("Batch processed",
		zap.String("batch_id", result.BatchID),
		zap.Int("processed", result.Processed),
		zap.Int("rejected", result.Rejected),
	)

	return result
}

// Refresh rebuilds the whole index from a fresh crawl. The new catalog and
// generations are built off to the side and swapped in per collection, so
// live queries keep reading the old generations until the swap.
func (c *Coordinator) Refresh(ctx context.Context, records []models.RawRecord) (BatchResult, error) {
	result := BatchResult{BatchID: uuid.New().String()}

	fresh := newCatalog()
	for _, rec := range records {
		entity, err := c.buildEntity(rec)
		if err != nil {
			result.Rejected++
			logger.Warn("Record rejected during refresh",
				zap.String("batch_id", result.BatchID),
				zap.Error(err),
			)
			continue
		}
		if existing, ok := fresh[entity.Type][entity.ID]; ok {
			entity = Merge(existing, entity)
		}
		fresh[entity.Type][entity.ID] = entity
		result.Processed++
	}

	for _, contentType := range []models.ContentType{models.ContentTypeMuseum, models.ContentTypeExcursion, models.ContentTypeDestination} {
		byID := fresh[contentType]
		entities := make([]*models.CanonicalEntity, 0, len(byID))
		for _, e := range byID {
			entities = append(entities, e)
		}

		vecs := make([][]float32, len(entities))
		for i, e := range entities {
			vec, err := c.embedder.Embed(ctx, e.EmbeddingText())
			if err != nil {
				return result, fmt.Errorf("failed to embed entity %s: %w", e.ID, err)
			}
			vecs[i] = vec
		}

		collection := contentType.Collection()
		version, err := c.store.ReplaceAll(ctx, collection, entities, vecs)
		if err != nil {
			return result, fmt.Errorf("failed to replace collection %s: %w", collection, err)
		}

		metrics.EntitiesIndexed.WithLabelValues(collection).Set(float64(len(entities)))
		metrics.IndexVersion.Set(float64(version))
	}

	c.mu.Lock()
	c.entities = fresh
	c.mu.Unlock()

	if c.archive != nil {
		all := make([]*models.CanonicalEntity, 0)
		for _, byID := range fresh {
			for _, e := range byID {
				all = append(all, e)
			}
		}
		if err := c.archive.ReplaceEntities(all); err != nil {
			logger.Warn("Failed to archive refreshed entities", zap.Error(err))
		}
	}

	logger.Info("Refresh completed",
		zap.String("batch_id", result.BatchID),
		zap.Int("processed", result.Processed),
		zap.Int("rejected", result.Rejected),
	)

	return result, nil
}

// Remove drops an entity from the catalog, archive and index.
func (c *Coordinator) Remove(ctx context.Context, contentType models.ContentType, id string) error {
	if !contentType.Valid() {
		return &ValidationError{Field: "content_type", Reason: fmt.Sprintf("unknown content type %q", contentType)}
	}

	c.mu.Lock()
	delete(c.entities[contentType], id)
	c.mu.Unlock()

	if c.archive != nil {
		if err := c.archive.DeleteEntity(string(contentType), id); err != nil {
			logger.Warn("Failed to delete archived entity", zap.String("entity_id", id), zap.Error(err))
		}
	}

	collection := contentType.Collection()
	version, err := c.store.Delete(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", id, err)
	}

	metrics.EntitiesIndexed.WithLabelValues(collection).Set(float64(c.store.Count(collection)))
	metrics.IndexVersion.Set(float64(version))

	return nil
}

// RebuildFromArchive restores the catalog and index from the entity archive.
// All index state is reconstructible, so this is the whole restart story.
func (c *Coordinator) RebuildFromArchive(ctx context.Context) error {
	if c.archive == nil {
		return nil
	}

	entities, err := c.archive.ListEntities()
	if err != nil {
		return fmt.Errorf("failed to list archived entities: %w", err)
	}
	if len(entities) == 0 {
		return nil
	}

	fresh := newCatalog()
	for _, e := range entities {
		fresh[e.Type][e.ID] = e
	}

	for _, contentType := range []models.ContentType{models.ContentTypeMuseum, models.ContentTypeExcursion, models.ContentTypeDestination} {
		byID := fresh[contentType]
		list := make([]*models.CanonicalEntity, 0, len(byID))
		for _, e := range byID {
			list = append(list, e)
		}

		vecs := make([][]float32, len(list))
		for i, e := range list {
			vec, err := c.embedder.Embed(ctx, e.EmbeddingText())
			if err != nil {
				return fmt.Errorf("failed to embed archived entity %s: %w", e.ID, err)
			}
			vecs[i] = vec
		}

		collection := contentType.Collection()
		if _, err := c.store.ReplaceAll(ctx, collection, list, vecs); err != nil {
			return fmt.Errorf("failed to rebuild collection %s: %w", collection, err)
		}
		metrics.EntitiesIndexed.WithLabelValues(collection).Set(float64(len(list)))
	}

	c.mu.Lock()
	c.entities = fresh
	c.mu.Unlock()

	logger.Info("Index rebuilt from archive", zap.Int("entities", len(entities)))

	return nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// entityID uses the crawler-provided id when present, otherwise derives a
// stable slug from type and name so re-crawls of the same entity converge.
func entityID(fields map[string]any, contentType models.ContentType, name string) string {
	if id := stringField(fields, "id"); id != "" {
		return id
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	return fmt.Sprintf("%s_%s", contentType, slug)
}
