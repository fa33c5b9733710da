// Package server exposes the ingestion pipeline over HTTP and streams
// progress events over websockets.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/service"
)

// Ingestor is the pipeline surface the handlers drive.
type Ingestor interface {
	SubmitFile(ctx context.Context, up service.FileUpload) (*models.ContentItem, error)
	SubmitCrawl(ctx context.Context, req service.CrawlRequest) (*models.ContentItem, error)
	SubmitRecording(ctx context.Context, req service.RecordingRequest) (*models.ContentItem, error)
	SubmitSnapshot(ctx context.Context, req service.SnapshotRequest) (*models.ContentItem, error)
	HandleCrawlerEvent(ctx context.Context, ev notify.CrawlerEvent) error

	Get(ctx context.Context, tenantID, itemID string) (*models.ContentItem, error)
	List(ctx context.Context, tenantID string) ([]models.ContentItem, error)
	Delete(ctx context.Context, tenantID, itemID string) error

	CreateMap(ctx context.Context, tenantID, itemID string) (service.JobInfo, error)
	DeleteMap(ctx context.Context, tenantID, itemID string) error
	MapImage(ctx context.Context, tenantID, itemID string) ([]byte, error)

	Jobs(tenantID string) []service.JobInfo
}

// Subscriber hands out room subscriptions for the progress stream.
type Subscriber interface {
	Subscribe(room string) *notify.Subscription
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	ingest    Ingestor
	events    Subscriber
	metrics   *metrics.Collector
	validate  *validator.Validate
	origins   []string
	maxUpload int64
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins sets the origins allowed to call the API. Default is any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithMaxUpload caps multipart upload size. Default is 50 MiB.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New creates a server. collector may be nil, which disables /metrics and
// /stats.
func New(ingest Ingestor, events Subscriber, collector *metrics.Collector, opts ...Option) *Server {
	s := &Server{
		ingest:    ingest,
		events:    events,
		metrics:   collector,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		origins:   []string{"*"},
		maxUpload: 50 << 20,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		LoggingMiddleware(s.logger),
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
		r.Get("/stats", s.handleStats)
	}
	r.Get("/ws", s.handleStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/crawler", s.handleCrawlerWebhook)
		r.Get("/jobs", s.handleJobs)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/files", s.handleUpload)
			r.Post("/websites", s.handleCrawl)
			r.Post("/recordings", s.handleRecording)
			r.Post("/snapshots", s.handleSnapshot)

			r.Get("/items", s.handleListItems)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetItem)
				r.Delete("/", s.handleDeleteItem)
				r.Post("/map", s.handleCreateMap)
				r.Get("/map", s.handleMapImage)
				r.Delete("/map", s.handleDeleteMap)
			})
		})
	})
	return r
}
