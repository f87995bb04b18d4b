package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

// Section filter modes.
const (
	SectionFilterLLM       = "llm"
	SectionFilterHeuristic = "heuristic"
	SectionFilterNone      = "none"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"bookscroll"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"bookscroll"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Empty address keeps progress in process memory.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker   bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	EnableEmbedderWorker bool   `envconfig:"ENABLE_EMBEDDER_WORKER" default:"false"`
	IngestMaxInFlight    int    `envconfig:"INGEST_MAX_IN_FLIGHT" default:"2"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`
	GeminiExtractionModel string `envconfig:"GEMINI_EXTRACTION_MODEL" default:"gemini-2.0-flash"`
	GeminiClassifierModel string `envconfig:"GEMINI_CLASSIFIER_MODEL" default:"gemini-2.0-flash-lite"`
	GeminiEmbeddingModel  string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	ProviderTimeoutSecs   int    `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"60"`

	// Pipeline
	SentenceMinWords      int    `envconfig:"SENTENCE_MIN_WORDS" default:"5"`
	ChunkWindow           int    `envconfig:"CHUNK_WINDOW" default:"20"`
	ExtractionConcurrency int    `envconfig:"EXTRACTION_CONCURRENCY" default:"15"`
	EmbeddingConcurrency  int    `envconfig:"EMBEDDING_CONCURRENCY" default:"15"`
	SectionFilter         string `envconfig:"SECTION_FILTER" default:"llm"`
	ProgressRetentionSecs int    `envconfig:"PROGRESS_RETENTION_SECONDS" default:"3600"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"BOOKSCROLL_UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars might be set in the shell, so a missing .env is fine
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.SentenceMinWords < 1 {
		return fmt.Errorf("%w: SENTENCE_MIN_WORDS must be positive", ErrInvalidValue)
	}
	if c.ChunkWindow < 1 {
		return fmt.Errorf("%w: CHUNK_WINDOW must be positive", ErrInvalidValue)
	}
	if c.ExtractionConcurrency < 1 {
		return fmt.Errorf("%w: EXTRACTION_CONCURRENCY must be positive", ErrInvalidValue)
	}
	if c.EmbeddingConcurrency < 1 {
		return fmt.Errorf("%w: EMBEDDING_CONCURRENCY must be positive", ErrInvalidValue)
	}
	switch c.SectionFilter {
	case SectionFilterLLM, SectionFilterHeuristic, SectionFilterNone:
	default:
		return fmt.Errorf("%w: SECTION_FILTER %q", ErrInvalidValue, c.SectionFilter)
	}
	return nil
}
