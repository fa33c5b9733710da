// Package main provides the contextbase ingestion server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/contextbase/internal/artifacts"
	"github.com/raphaelgruber/contextbase/internal/config"
	"github.com/raphaelgruber/contextbase/internal/crawler"
	"github.com/raphaelgruber/contextbase/internal/db"
	"github.com/raphaelgruber/contextbase/internal/llm"
	"github.com/raphaelgruber/contextbase/internal/mapgen"
	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/quota"
	"github.com/raphaelgruber/contextbase/internal/registry"
	"github.com/raphaelgruber/contextbase/internal/server"
	"github.com/raphaelgruber/contextbase/internal/service"
	"github.com/raphaelgruber/contextbase/internal/tables"
)

const version = "0.1.0"

// itemStore is what the registry and the orchestrator need from the
// primary store: item records plus the tenant vector collections.
type itemStore interface {
	registry.Store
	registry.VectorCollection
	service.VectorWriter
}

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	// Dual output: stderr text + file JSON
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *wipeDB || os.Getenv("CONTEXTBASE_WIPE_DB") == "true"); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	logger.Info("contextbase-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"store", cfg.StoreBackend,
		"embed_model", cfg.EmbedModel,
		"llm_model", cfg.LLMModel,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Item store + vectors
	var store itemStore
	switch cfg.StoreBackend {
	case "memory":
		store = registry.NewMemoryStore()
	default:
		dbClient, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer func() {
			logger.Info("closing database connection")
			_ = dbClient.Close(context.Background())
		}()
		if wipe {
			if err := dbClient.WipeData(ctx); err != nil {
				return fmt.Errorf("wipe database: %w", err)
			}
		}
		if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		store = dbClient
	}

	// Relational tables
	tableStore, err := tables.Open(cfg.TablesDialect, cfg.TablesDSN, cfg.BatchSize, logger)
	if err != nil {
		return fmt.Errorf("open table store: %w", err)
	}
	defer func() { _ = tableStore.Close() }()

	// Models
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	logger.Info("models initialized", "embedder", embedder.Model(), "llm", model.Model())

	collector := metrics.NewCollector()
	hub := notify.NewHub(256, collector, logger)
	defer hub.Close()

	deps := service.Deps{
		Vectors:    store,
		Tables:     tableStore,
		Embedder:   embedder,
		Summarizer: model,
		Notifier:   hub,
		Metrics:    collector,
	}

	// Map artifacts are optional
	var artifactStore registry.ArtifactStore
	if cfg.MinioEndpoint != "" {
		arts, err := artifacts.New(ctx,
			artifacts.WithEndpoint(cfg.MinioEndpoint),
			artifacts.WithBucket(cfg.MinioBucket),
			artifacts.WithAccessKey(cfg.MinioAccessKey),
			artifacts.WithSecretKey(cfg.MinioSecretKey),
			artifacts.WithSSL(cfg.MinioUseSSL),
			artifacts.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}
		artifactStore = arts
		deps.Artifacts = arts
		deps.Maps = mapgen.New(embedder, arts, logger)
	} else {
		logger.Warn("MINIO_ENDPOINT not set, maps disabled")
	}

	reg := registry.New(store, store, tableStore, artifactStore, logger)
	deps.Registry = reg

	dir, err := quota.NewFileDirectory(cfg.TenantsFile)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	deps.Guard = quota.NewGuard(dir, store, logger)

	// Crawling is optional
	if cfg.ApifyToken != "" {
		deps.Crawler = crawler.NewClient(cfg.ApifyBaseURL, cfg.ApifyToken, cfg.ApifyActor,
			crawler.WithRunTimeout(cfg.CrawlTimeout),
			crawler.WithLogger(logger),
		)
		pending, err := crawler.OpenPendingStore(cfg.PendingDir, logger)
		if err != nil {
			return fmt.Errorf("open pending crawl store: %w", err)
		}
		defer func() { _ = pending.Close() }()
		deps.Pending = pending
	} else {
		logger.Warn("APIFY_TOKEN not set, website crawling disabled")
	}

	orchestrator, err := service.New(deps,
		service.WithPoolSize(cfg.PoolSize),
		service.WithBatchSize(cfg.BatchSize),
		service.WithCrawl(cfg.CrawlTimeout, cfg.CrawlMaxPages, cfg.CrawlMaxDepth, cfg.WebhookURL()),
		service.WithMaxMapBytes(cfg.MaxMapBytes),
		service.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	if err := orchestrator.Recover(ctx); err != nil {
		logger.Warn("recovery of interrupted items failed", "error", err)
	}
	cancel()

	srv := server.New(orchestrator, hub, collector,
		server.WithLogger(logger),
		server.WithCORSOrigins(cfg.CORSOrigins),
		server.WithMaxUpload(cfg.MaxUploadBytes),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // long for uploads; streams reset their own deadlines
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api/v1", cfg.ServerPort))
		logger.Info("progress stream available", "url", fmt.Sprintf("ws://localhost:%s/ws?room=<room>", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Progress streams never finish on their own.
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := orchestrator.Close(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
