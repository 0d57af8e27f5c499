package kb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/cache"
	"github.com/tour-agent/backend/internal/embeddings"
	"github.com/tour-agent/backend/internal/metrics"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/vector"
	"github.com/tour-agent/backend/pkg/config"
	"github.com/tour-agent/backend/pkg/logger"
)

const defaultK = 5

// KnowledgeBase orchestrates query embedding, multi-collection search,
// confidence scoring and result caching.
type KnowledgeBase struct {
	store    vector.Store
	embedder embeddings.Embedder
	cache    cache.QueryCache
	cfg      config.ScoringConfig
	scorer   *scorer
}

func New(store vector.Store, embedder embeddings.Embedder, queryCache cache.QueryCache, cfg config.ScoringConfig) *KnowledgeBase {
	return &KnowledgeBase{
		store:    store,
		embedder: embedder,
		cache:    queryCache,
		cfg:      cfg,
		scorer:   newScorer(cfg),
	}
}

// Query answers one retrieval request. Low-confidence results are flagged,
// never dropped; embedding failures propagate to the caller untouched.
func (kb *KnowledgeBase) Query(ctx context.Context, text string, filters models.QueryFilters, k int) (*models.QueryResponse, error) {
	start := time.Now()
	queryID := uuid.New().String()

	if k <= 0 {
		k = defaultK
	}

	normalized := normalizeQuery(text)
	key := cacheKey(normalized, filters, k)
	version := kb.store.Version()

	if resp, ok := kb.cache.Get(ctx, key, version); ok {
		metrics.CacheHits.Inc()
		metrics.QueryTotal.WithLabelValues("cache_hit").Inc()
		metrics.QueryDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())

		hit := *resp
		hit.CacheHit = true
		hit.LatencyMS = int(time.Since(start).Milliseconds())
		logger.Debug("Query served from cache",
			zap.String("query_id", queryID),
			zap.Uint64("index_version", version),
		)
		return &hit, nil
	}
	metrics.CacheMisses.Inc()

	embedStart := time.Now()
	queryVec, err := kb.embedder.Embed(ctx, normalized)
	metrics.EmbeddingDuration.Observe(time.Since(embedStart).Seconds())
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	collections := models.Collections
	if filters.ContentType.Valid() {
		collections = []string{filters.ContentType.Collection()}
	}

	// oversample so re-ranking by confidence has room to reorder
	kPrime := k * kb.cfg.Oversample
	if kPrime < 10 {
		kPrime = 10
	}

	var hits []vector.Hit
	for _, collection := range collections {
		collectionHits, _, err := kb.store.Search(ctx, collection, queryVec, kPrime)
		if err != nil {
			metrics.QueryTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("search failed in collection %s: %w", collection, err)
		}
		hits = append(hits, collectionHits...)
	}

	if filters.Category != "" {
		filtered := hits[:0]
		for _, h := range hits {
			if strings.EqualFold(h.Entity.Metadata.Category, filters.Category) {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	results := make([]models.ScoredResult, 0, len(hits))
	for _, h := range hits {
		confidence := kb.scorer.confidence(h.Similarity, h.Entity)
		results = append(results, models.ScoredResult{
			EntityID:       h.EntityID,
			Similarity:     h.Similarity,
			Confidence:     confidence,
			BelowThreshold: confidence < kb.cfg.MinConfidence,
			Entity:         h.Entity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		ri := results[i].Entity.SourceInfo.Reliability.Rank()
		rj := results[j].Entity.SourceInfo.Reliability.Rank()
		if ri != rj {
			return ri > rj
		}
		return results[i].EntityID < results[j].EntityID
	})

	if len(results) > k {
		results = results[:k]
	}

	var aggregate float64
	for i := range results {
		results[i].Rank = i + 1
		if results[i].Confidence > aggregate {
			aggregate = results[i].Confidence
		}
	}

	resp := &models.QueryResponse{
		ID:           queryID,
		Query:        text,
		Results:      results,
		Confidence:   aggregate,
		IndexVersion: version,
		LatencyMS:    int(time.Since(start).Milliseconds()),
	}

	kb.cache.Set(ctx, key, resp)

	metrics.QueryTotal.WithLabelValues("ok").Inc()
	metrics.QueryDuration.WithLabelValues("miss").Observe(time.Since(start).Seconds())
	metrics.ConfidenceScore.Observe(aggregate)

	logger.Info("Query processed",
		zap.String("query_id", queryID),
		zap.Int("results", len(results)),
		zap.Float64("confidence", aggregate),
		zap.Uint64("index_version", version),
		zap.Int("latency_ms", resp.LatencyMS),
	)

	return resp, nil
}

var queryWhitespaceRe = regexp.MustCompile(`\s+`)

// domain term normalization carried over from the crawl-era preprocessing;
// keeps Spanish queries close to the indexed English phrasing.
var queryReplacements = []struct{ old, new string }{
	{"museo", "museum"},
	{"galería", "gallery"},
	{"galeria", "gallery"},
	{"exposición", "exhibition"},
	{"exposicion", "exhibition"},
	{"excursión", "excursion"},
	{"excursion", "excursion"},
	{"visita guiada", "guided tour"},
	{"recorrido", "tour"},
}

func normalizeQuery(text string) string {
	out := strings.ToLower(strings.TrimSpace(text))
	out = queryWhitespaceRe.ReplaceAllString(out, " ")
	for _, r := range queryReplacements {
		out = strings.ReplaceAll(out, r.old, r.new)
	}
	return out
}

// cacheKey digests the normalized query plus filters and k; md5 because the
// key only needs to be short and well distributed, not collision proof.
func cacheKey(normalized string, filters models.QueryFilters, k int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", normalized, filters.ContentType, strings.ToLower(filters.Category), k)))
	return hex.EncodeToString(sum[:])
}
