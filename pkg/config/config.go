package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for catalog-enricher.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Metadata store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Optional shared cache; empty host disables it
	Redis RedisConfig `yaml:"redis"`

	// Source warehouse harvested by the collector
	Warehouse WarehouseConfig `yaml:"warehouse"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Graph     GraphConfig     `yaml:"graph"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Detector   DetectorConfig   `yaml:"detector"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"catalog_enricher"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis connection used for shared caches.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarehouseConfig describes the SQL warehouse that tables are collected from.
type WarehouseConfig struct {
	// Type selects the collector: postgres or mssql.
	Type string `yaml:"type" env:"WAREHOUSE_TYPE" env-default:"postgres"`
	// URL is the driver connection string. Secret - env only.
	URL string `yaml:"-" env:"WAREHOUSE_URL"`
	// StatsBatchSize bounds the number of columns per statistics query.
	StatsBatchSize int `yaml:"stats_batch_size" env:"WAREHOUSE_STATS_BATCH_SIZE" env-default:"15"`
	// StatsConcurrency bounds parallel statistics queries for one table.
	StatsConcurrency int `yaml:"stats_concurrency" env:"WAREHOUSE_STATS_CONCURRENCY" env-default:"2"`
	// SampleLimit is the number of random rows sampled per table.
	SampleLimit int `yaml:"sample_limit" env:"WAREHOUSE_SAMPLE_LIMIT" env-default:"1000"`
	// QueryTimeout bounds every single warehouse query.
	QueryTimeout time.Duration `yaml:"query_timeout" env:"WAREHOUSE_QUERY_TIMEOUT" env-default:"5m"`
}

// LLMConfig holds the chat-completion providers used for naming and relationship inference.
type LLMConfig struct {
	// Provider selects the primary client: openai or anthropic.
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL  string `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	AnthropicModel  string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-3-5-haiku-latest"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	// Local is an OpenAI-compatible endpoint serving a small seq2seq model.
	// It is the last model-backed naming stage before the rule-based floor.
	Local LocalModelConfig `yaml:"local"`

	Temperature    float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"60s"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"LLM_MAX_CONCURRENT" env-default:"4"`
}

// LocalModelConfig holds the locally hosted naming model endpoint.
type LocalModelConfig struct {
	BaseURL string `yaml:"base_url" env:"LOCAL_LLM_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"LOCAL_LLM_MODEL" env-default:"google/flan-t5-base"`
}

// IsAvailable returns true if the local model is configured.
func (c *LocalModelConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// EmbeddingConfig holds the embedder chain configuration.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""` // Falls back to llm.base_url
	Model     string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey    string `yaml:"-" env:"EMBEDDING_API_KEY"` // Falls back to LLM_API_KEY
	Dimension int    `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"1536"`
	// LocalModelDir points at a sentence-transformer ONNX export used when
	// the remote embedder fails. Empty disables the local fallback.
	LocalModelDir string `yaml:"local_model_dir" env:"EMBEDDING_LOCAL_MODEL_DIR" env-default:""`
	CacheSize     int    `yaml:"cache_size" env:"EMBEDDING_CACHE_SIZE" env-default:"4096"`
}

// GraphConfig holds the graph store configuration.
type GraphConfig struct {
	Dir string `yaml:"dir" env:"GRAPH_DIR" env-default:"data/graph"`
	// Dimension is the fixed vector width of the store; embeddings are zero-padded to it.
	Dimension int `yaml:"dimension" env:"GRAPH_DIMENSION" env-default:"2048"`
}

// GeocoderConfig holds the reverse-geocoding lookup used by content-based admin detection.
type GeocoderConfig struct {
	Enabled   bool          `yaml:"enabled" env:"GEOCODER_ENABLED" env-default:"true"`
	URL       string        `yaml:"url" env:"GEOCODER_URL" env-default:"https://nominatim.openstreetmap.org"`
	UserAgent string        `yaml:"user_agent" env:"GEOCODER_USER_AGENT" env-default:"catalog-enricher"`
	Timeout   time.Duration `yaml:"timeout" env:"GEOCODER_TIMEOUT" env-default:"3s"`
	// Delay is the minimum spacing between two geocoder calls.
	Delay    time.Duration `yaml:"delay" env:"GEOCODER_DELAY" env-default:"100ms"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"GEOCODER_CACHE_TTL" env-default:"720h"`
}

// PipelineConfig holds orchestrator, sweep and inference settings.
type PipelineConfig struct {
	MaxRetries          int           `yaml:"max_retries" env:"PIPELINE_MAX_RETRIES" env-default:"3"`
	StaleAfter          time.Duration `yaml:"stale_after" env:"PIPELINE_STALE_AFTER" env-default:"30m"`
	MaxConcurrentTables int           `yaml:"max_concurrent_tables" env:"PIPELINE_MAX_CONCURRENT_TABLES" env-default:"4"`
	// RelationshipBatchSize is the number of source columns sent per inference call.
	RelationshipBatchSize int     `yaml:"relationship_batch_size" env:"PIPELINE_RELATIONSHIP_BATCH_SIZE" env-default:"20"`
	ConfidenceThreshold   float64 `yaml:"confidence_threshold" env:"PIPELINE_CONFIDENCE_THRESHOLD" env-default:"0.6"`
	// AutoTrigger enqueues relationship detection and graph import after enrichment completes.
	AutoTrigger bool `yaml:"auto_trigger" env:"PIPELINE_AUTO_TRIGGER" env-default:"true"`
}

// ClassifierConfig holds the column classifier thresholds.
type ClassifierConfig struct {
	UniquenessThreshold        float64 `yaml:"uniqueness_threshold" env-default:"0.8"`
	IdentifierCardinality      int64   `yaml:"identifier_cardinality" env-default:"1000"`
	ForeignKeyCardinality      int64   `yaml:"foreign_key_cardinality" env-default:"100"`
	LowCardinalityThreshold    int64   `yaml:"low_cardinality_threshold" env-default:"20"`
	DetailCardinalityThreshold int64   `yaml:"detail_cardinality_threshold" env-default:"100"`
}

// DetectorConfig holds the geographic detector sample thresholds.
type DetectorConfig struct {
	GeometryRatio       float64 `yaml:"geometry_ratio" env-default:"0.3"`
	CountryRatio        float64 `yaml:"country_ratio" env-default:"0.5"`
	CoordinateRatio     float64 `yaml:"coordinate_ratio" env-default:"0.95"`
	AdminMinMatches     float64 `yaml:"admin_min_matches" env-default:"5"`
	AdminMinCardinality int64   `yaml:"admin_min_cardinality" env-default:"10"`
	AdminMaxCardinality int64   `yaml:"admin_max_cardinality" env-default:"200000"`
}

// Load reads configuration from path (usually config.yaml) with environment
// variable overrides. A missing file is not an error: defaults and the
// environment are used instead.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.applyFallbacks()
	cfg.resolveDockerHosts()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyFallbacks fills optional settings that default to other settings.
func (c *Config) applyFallbacks() {
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.LLM.BaseURL
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.APIKey
	}
}

// Validate checks value ranges that cleanenv cannot express.
func (c *Config) Validate() error {
	switch c.Warehouse.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("warehouse.type must be postgres or mssql, got %q", c.Warehouse.Type)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be at least 1")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be within [0, 1]")
	}
	if c.Pipeline.RelationshipBatchSize < 1 {
		return fmt.Errorf("pipeline.relationship_batch_size must be positive")
	}
	if c.Graph.Dimension < c.Embedding.Dimension {
		return fmt.Errorf("graph.dimension (%d) must not be smaller than embedding.dimension (%d)",
			c.Graph.Dimension, c.Embedding.Dimension)
	}
	if c.Warehouse.StatsBatchSize < 1 {
		return fmt.Errorf("warehouse.stats_batch_size must be positive")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
