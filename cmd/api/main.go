package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/api/handlers"
	"github.com/tour-agent/backend/internal/cache"
	redisCache "github.com/tour-agent/backend/internal/cache/redis"
	"github.com/tour-agent/backend/internal/embeddings"
	"github.com/tour-agent/backend/internal/ingestion"
	"github.com/tour-agent/backend/internal/kb"
	"github.com/tour-agent/backend/internal/metrics"
	"github.com/tour-agent/backend/internal/registry"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/internal/storage/sqlite"
	"github.com/tour-agent/backend/internal/vector"
	"github.com/tour-agent/backend/internal/vector/memory"
	"github.com/tour-agent/backend/internal/vector/milvus"
	"github.com/tour-agent/backend/pkg/config"
	appLogger "github.com/tour-agent/backend/pkg/logger"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Tourism Knowledge API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	sourceRegistry, err := registry.New(cfg.Sources)
	if err != nil {
		appLogger.Fatal("Failed to build source registry", zap.Error(err))
	}

	var store vector.Store
	switch cfg.Vector.Backend {
	case "milvus":
		milvusClient, err := milvus.NewClient(
			cfg.Milvus.Endpoint,
			cfg.Milvus.APIKey,
			cfg.Milvus.CollectionPrefix,
			cfg.Embedding.Dimension,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.EnsureCollections(context.Background()); err != nil {
			appLogger.Fatal("Failed to create collections", zap.Error(err))
		}
		store = milvusClient
	default:
		store = memory.NewStore(cfg.Embedding.Dimension)
	}

	embedder := embeddings.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimension,
		cfg.EmbeddingTimeout(),
	)

	coordinator := ingestion.NewCoordinator(sourceRegistry, store, embedder, sqliteClient)
	if err := coordinator.RebuildFromArchive(context.Background()); err != nil {
		appLogger.Warn("Failed to rebuild index from archive", zap.Error(err))
	}

	var queryCache cache.QueryCache
	switch cfg.Cache.Backend {
	case "redis":
		redisClient, err := redisCache.NewCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.CacheTTL(),
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis cache", zap.Error(err))
		}
		defer redisClient.Close()
		queryCache = redisClient
	default:
		queryCache = cache.NewMemoryCache(cfg.CacheTTL())
	}

	knowledgeBase := kb.New(store, embedder, queryCache, cfg.Scoring)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	queryHandler := handlers.NewQueryHandler(knowledgeBase)
	ingestHandler := handlers.NewIngestHandler(coordinator)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)

	api.Post("/records", ingestHandler.HandleRecords)
	api.Post("/refresh", ingestHandler.HandleRefresh)
	api.Delete("/entities/:content_type/:id", ingestHandler.HandleDelete)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		indexed := 0
		for _, collection := range models.Collections {
			indexed += store.Count(collection)
		}
		return c.JSON(fiber.Map{
			"status":        "ready",
			"index_version": store.Version(),
			"entities":      indexed,
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
