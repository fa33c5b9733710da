// Package config loads runtime configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names for embedding and LLM backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerPort      string
	PublicURL       string // externally reachable base URL, used for crawler webhooks
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	// Item store backend: "surrealdb" or "memory"
	StoreBackend string

	// SurrealDB connection (content items + vector chunks)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Relational store for structured uploads
	TablesDialect string // "sqlite" or "postgres"
	TablesDSN     string

	// Object storage for map artifacts
	MinioEndpoint  string
	MinioBucket    string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Embedding
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Summarization
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Crawler
	ApifyBaseURL  string
	ApifyToken    string
	ApifyActor    string
	CrawlTimeout  time.Duration
	CrawlMaxPages int
	CrawlMaxDepth int
	PendingDir    string // badger directory for in-flight crawl runs

	// Pipeline
	TenantsFile string
	PoolSize    int
	BatchSize   int
	MaxMapBytes int64

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is applied first when present;
// variables already set in the environment take precedence.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServerPort:      getEnv("CONTEXTBASE_PORT", "8484"),
		PublicURL:       getEnv("CONTEXTBASE_PUBLIC_URL", "http://localhost:8484"),
		CORSOrigins:     getList("CONTEXTBASE_CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: getDuration("CONTEXTBASE_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxUploadBytes:  int64(getInt("CONTEXTBASE_MAX_UPLOAD_BYTES", 50<<20)),

		StoreBackend: getEnv("CONTEXTBASE_STORE", "surrealdb"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "contextbase"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "items"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		TablesDialect: getEnv("CONTEXTBASE_TABLES_DIALECT", "sqlite"),
		TablesDSN:     getEnv("CONTEXTBASE_TABLES_DSN", "/tmp/contextbase-tables.db"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioBucket:    getEnv("MINIO_BUCKET", "contextbase"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:    getBool("MINIO_USE_SSL", false),

		EmbedProvider:  getEnv("CONTEXTBASE_EMBED_PROVIDER", ProviderOllama),
		EmbedModel:     getEnv("CONTEXTBASE_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getInt("CONTEXTBASE_EMBED_DIMENSION", 384),

		LLMProvider:     getEnv("CONTEXTBASE_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("CONTEXTBASE_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		ApifyBaseURL:  getEnv("APIFY_BASE_URL", "https://api.apify.com"),
		ApifyToken:    getEnv("APIFY_TOKEN", ""),
		ApifyActor:    getEnv("APIFY_ACTOR", "apify~website-content-crawler"),
		CrawlTimeout:  getDuration("CONTEXTBASE_CRAWL_TIMEOUT", 120*time.Second),
		CrawlMaxPages: getInt("CONTEXTBASE_CRAWL_MAX_PAGES", 20),
		CrawlMaxDepth: getInt("CONTEXTBASE_CRAWL_MAX_DEPTH", 3),
		PendingDir:    getEnv("CONTEXTBASE_PENDING_DIR", "/tmp/contextbase-pending"),

		TenantsFile: getEnv("CONTEXTBASE_TENANTS_FILE", "tenants.yaml"),
		PoolSize:    getInt("CONTEXTBASE_POOL_SIZE", 8),
		BatchSize:   getInt("CONTEXTBASE_BATCH_SIZE", 1000),
		MaxMapBytes: int64(getInt("CONTEXTBASE_MAX_MAP_BYTES", 1<<20)),

		LogFile:  getEnv("CONTEXTBASE_LOG_FILE", "/tmp/contextbase.log"),
		LogLevel: parseLogLevel(getEnv("CONTEXTBASE_LOG_LEVEL", "INFO")),
	}
}

// WebhookURL is the crawler callback target derived from PublicURL.
func (c Config) WebhookURL() string {
	return strings.TrimSuffix(c.PublicURL, "/") + "/api/v1/webhooks/crawler"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return d
}

func getList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
