package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Scoring   ScoringConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Vector    VectorConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Sources   []SourceConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type EmbeddingConfig struct {
	APIKey     string
	Model      string
	Dimension  int
	TimeoutSec int
}

// ScoringConfig holds the confidence blend. Weights must sum to 1; the
// upstream data never pinned these numbers, so they stay configurable.
type ScoringConfig struct {
	SimilarityWeight    float64
	ReliabilityWeight   float64
	CompletenessWeight  float64
	RecencyWeight       float64
	RecencyHalfLifeDays float64
	MinConfidence       float64
	Oversample          int
}

type CacheConfig struct {
	Backend string
	TTLSec  int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type VectorConfig struct {
	Backend string
}

type MilvusConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
}

type SQLiteConfig struct {
	Path string
}

type SourceConfig struct {
	ID          string
	Domain      string
	Reliability string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSec) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tour-agent")

	viper.SetEnvPrefix("TOUR_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	sum := c.Scoring.SimilarityWeight + c.Scoring.ReliabilityWeight +
		c.Scoring.CompletenessWeight + c.Scoring.RecencyWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("scoring weights must sum to 1, got %.3f", sum)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Scoring.RecencyHalfLifeDays <= 0 {
		return fmt.Errorf("recency half-life must be positive, got %.1f", c.Scoring.RecencyHalfLifeDays)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 1536)
	viper.SetDefault("embedding.timeoutSec", 10)

	viper.SetDefault("scoring.similarityWeight", 0.5)
	viper.SetDefault("scoring.reliabilityWeight", 0.2)
	viper.SetDefault("scoring.completenessWeight", 0.15)
	viper.SetDefault("scoring.recencyWeight", 0.15)
	viper.SetDefault("scoring.recencyHalfLifeDays", 30)
	viper.SetDefault("scoring.minConfidence", 0.45)
	viper.SetDefault("scoring.oversample", 3)

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.ttlSec", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("vector.backend", "memory")
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionPrefix", "tourism")

	viper.SetDefault("sqlite.path", "./data/tourism.db")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
