package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourism_kb_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"cache"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourism_kb_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourism_kb_confidence_score",
			Help:    "Aggregate confidence per query response",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tourism_kb_cache_hits_total",
			Help: "Total query cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tourism_kb_cache_misses_total",
			Help: "Total query cache misses",
		},
	)

	RecordsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourism_kb_records_ingested_total",
			Help: "Raw records processed by ingestion",
		},
		[]string{"content_type", "status"},
	)

	EntitiesIndexed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tourism_kb_entities_indexed",
			Help: "Entities currently indexed per collection",
		},
		[]string{"collection"},
	)

	IndexVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourism_kb_index_version",
			Help: "Current index version",
		},
	)

	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourism_kb_embedding_duration_seconds",
			Help:    "Embedding call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RecordsIngested)
	prometheus.MustRegister(EntitiesIndexed)
	prometheus.MustRegister(IndexVersion)
	prometheus.MustRegister(EmbeddingDuration)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
