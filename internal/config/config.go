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
	ErrInvalidChunking = errors.New("invalid chunking configuration")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"chunkforge"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"chunkforge"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"52428800"` // 50MB, extracted text can be large

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableResultWorker   bool   `envconfig:"ENABLE_RESULT_WORKER" default:"true"`
	EnableEmbedderWorker bool   `envconfig:"ENABLE_EMBEDDER_WORKER" default:"true"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`

	// Chunking
	ChunkWindowSize   int     `envconfig:"CHUNK_WINDOW_SIZE" default:"500"`
	ChunkOverlap      int     `envconfig:"CHUNK_OVERLAP" default:"100"`
	TokenizerEncoding string  `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`
	CitationThreshold float64 `envconfig:"CITATION_THRESHOLD" default:"0.1"`

	// Server
	ServerPort        int   `envconfig:"SERVER_PORT" default:"8081"`
	MaxExtractionSize int64 `envconfig:"MAX_EXTRACTION_SIZE_MB" default:"50"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, so a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
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
	if c.ChunkWindowSize <= 0 {
		return fmt.Errorf("%w: CHUNK_WINDOW_SIZE must be > 0", ErrInvalidChunking)
	}
	if c.ChunkOverlap <= 0 || c.ChunkOverlap >= c.ChunkWindowSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be > 0 and < CHUNK_WINDOW_SIZE", ErrInvalidChunking)
	}
	if c.CitationThreshold < 0 || c.CitationThreshold >= 1 {
		return fmt.Errorf("%w: CITATION_THRESHOLD must be in [0, 1)", ErrInvalidChunking)
	}
	return nil
}
