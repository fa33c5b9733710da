package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONTEXTBASE_PORT", "")
	t.Setenv("CONTEXTBASE_CRAWL_TIMEOUT", "")
	t.Setenv("CONTEXTBASE_BATCH_SIZE", "")

	cfg := Load()

	assert.Equal(t, "8484", cfg.ServerPort)
	assert.Equal(t, 120*time.Second, cfg.CrawlTimeout)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 20, cfg.CrawlMaxPages)
	assert.Equal(t, 3, cfg.CrawlMaxDepth)
	assert.Equal(t, int64(1<<20), cfg.MaxMapBytes)
	assert.Equal(t, "apify~website-content-crawler", cfg.ApifyActor)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONTEXTBASE_PORT", "9999")
	t.Setenv("CONTEXTBASE_CRAWL_TIMEOUT", "30s")
	t.Setenv("CONTEXTBASE_POOL_SIZE", "2")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("CONTEXTBASE_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CONTEXTBASE_PUBLIC_URL", "https://ingest.example/")

	cfg := Load()

	assert.Equal(t, "9999", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.CrawlTimeout)
	assert.Equal(t, 2, cfg.PoolSize)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "https://ingest.example/api/v1/webhooks/crawler", cfg.WebhookURL())
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("CONTEXTBASE_BATCH_SIZE", "lots")
	t.Setenv("CONTEXTBASE_CRAWL_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 120*time.Second, cfg.CrawlTimeout)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("item ready", "item_id", "abc")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "item ready")
	assert.NotContains(t, stderr.String(), "hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &line))
	assert.Equal(t, "item ready", line["msg"])
	assert.Equal(t, "abc", line["item_id"])
}
