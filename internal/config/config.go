package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"seen"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"seen"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Cloudflare
	CFAccountID       string `envconfig:"CF_ACCOUNT_ID"`
	CFAPIToken        string `envconfig:"CF_API_TOKEN"`
	CFAPIBaseURL      string `envconfig:"CF_API_BASE_URL" default:"https://api.cloudflare.com/client/v4"`
	CFRequestsPerSec  int    `envconfig:"CF_REQUESTS_PER_SECOND" default:"20"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"@cf/baai/bge-base-en-v1.5"`
	VectorizeIndex    string `envconfig:"VECTORIZE_INDEX" default:"seen-index"`
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"workersai"`

	// Gemini
	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel  string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004"`
	GeminiGenerationModel string `envconfig:"GEMINI_GENERATION_MODEL" default:"gemini-2.0-flash"`
	GeminiRequestsPerSec  int    `envconfig:"GEMINI_REQUESTS_PER_SECOND" default:"10"`
	ContentProcessor      string `envconfig:"CONTENT_PROCESSOR" default:"extract"`

	RemoteIndex    string `envconfig:"REMOTE_INDEX" default:"vectorize"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Indexing
	VectorDim         int    `envconfig:"VECTOR_DIM" default:"768"`
	IndexBackends     string `envconfig:"INDEX_BACKENDS" default:"remote,local"`
	SearchBackend     string `envconfig:"SEARCH_BACKEND" default:"remote"`
	SearchTopK        int    `envconfig:"SEARCH_TOP_K" default:"20"`
	SnapshotKey       string `envconfig:"SNAPSHOT_KEY" default:"index/vector_lite.bin"`
	LocalIndexMetric  string `envconfig:"LOCAL_INDEX_METRIC" default:"cosine"`
	RebuildBatchSize  int    `envconfig:"REBUILD_BATCH_SIZE" default:"20"`
	RebuildMaxBatches int    `envconfig:"REBUILD_MAX_BATCHES" default:"15"`

	// Blob storage
	BlobBackend       string `envconfig:"BLOB_BACKEND" default:"local"`
	BlobDir           string `envconfig:"BLOB_DIR" default:"data/blobs"`
	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3Region          string `envconfig:"S3_REGION" default:"auto"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Prefix          string `envconfig:"S3_PREFIX"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableWorker bool `envconfig:"ENABLE_WORKER" default:"true"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
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
	if c.VectorDim <= 0 {
		return fmt.Errorf("%w: VECTOR_DIM must be positive", ErrInvalidValue)
	}
	if c.RebuildBatchSize <= 0 || c.RebuildMaxBatches <= 0 {
		return fmt.Errorf("%w: REBUILD_BATCH_SIZE and REBUILD_MAX_BATCHES must be positive", ErrInvalidValue)
	}

	switch c.EmbeddingProvider {
	case "workersai":
		if c.CFAccountID == "" {
			return fmt.Errorf("%w: CF_ACCOUNT_ID", ErrMissingRequired)
		}
	case "gemini":
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalidValue, c.EmbeddingProvider)
	}

	switch c.RemoteIndex {
	case "vectorize":
		if c.CFAccountID == "" {
			return fmt.Errorf("%w: CF_ACCOUNT_ID", ErrMissingRequired)
		}
	case "weaviate":
	default:
		return fmt.Errorf("%w: REMOTE_INDEX %q", ErrInvalidValue, c.RemoteIndex)
	}

	switch c.BlobBackend {
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
		}
	case "local", "badger":
		if c.BlobDir == "" {
			return fmt.Errorf("%w: BLOB_DIR", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: BLOB_BACKEND %q", ErrInvalidValue, c.BlobBackend)
	}

	for _, b := range c.Backends() {
		if b != "remote" && b != "local" {
			return fmt.Errorf("%w: INDEX_BACKENDS entry %q", ErrInvalidValue, b)
		}
	}
	if len(c.Backends()) == 0 {
		return fmt.Errorf("%w: INDEX_BACKENDS", ErrMissingRequired)
	}
	if c.SearchBackend != "remote" && c.SearchBackend != "local" {
		return fmt.Errorf("%w: SEARCH_BACKEND %q", ErrInvalidValue, c.SearchBackend)
	}
	switch strings.ToLower(c.LocalIndexMetric) {
	case "cosine", "dot", "euclidean":
	default:
		return fmt.Errorf("%w: LOCAL_INDEX_METRIC %q", ErrInvalidValue, c.LocalIndexMetric)
	}
	return nil
}

// Backends returns the trimmed, non-empty entries of INDEX_BACKENDS.
func (c *Config) Backends() []string {
	var out []string
	for _, part := range strings.Split(c.IndexBackends, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
