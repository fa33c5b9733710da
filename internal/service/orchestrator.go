// Package service admits content for ingestion and runs the ingestion
// pipeline: extraction, indexing, summarization and map generation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/raphaelgruber/contextbase/internal/crawler"
	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// Sentinel errors for admission. Use errors.Is() to check for these.
var (
	ErrIndexingFailed = errors.New("indexing failed")
	ErrInvalidURL     = errors.New("invalid url")
	ErrMapExists      = errors.New("map already exists")
	ErrMapNotAllowed  = errors.New("map not allowed for this item")
	ErrFileTooLarge   = errors.New("file too large")
	ErrQueueFull      = errors.New("ingestion queue is full")
	ErrInvalidWebhook = errors.New("invalid webhook")
)

// Admitter authorizes tenant feature use.
type Admitter interface {
	Authorize(ctx context.Context, tenantID string, feature models.Feature) (*models.QuotaSnapshot, error)
	AuthorizeEntitlement(ctx context.Context, tenantID string, feature models.Feature) (*models.QuotaSnapshot, error)
}

// VectorWriter stores embedded units.
type VectorWriter interface {
	PutChunks(ctx context.Context, tenantID string, entries []models.VectorEntry) error
}

// TableStore holds structured items.
type TableStore interface {
	CreateOrReplaceTable(ctx context.Context, name string, frame *models.Frame) error
	ReadRows(ctx context.Context, name string, limit int) (*models.Frame, error)
}

// Embedder embeds batches of text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer writes markdown summaries.
type Summarizer interface {
	SummarizeDocuments(ctx context.Context, texts []string) (string, error)
	SummarizeTable(ctx context.Context, frame *models.Frame) (string, error)
}

// Crawler starts external crawls and reads their results.
type Crawler interface {
	StartRun(ctx context.Context, req crawler.RunRequest, webhookURL string) (*crawler.Run, error)
	DatasetItems(ctx context.Context, datasetID string) ([]crawler.Page, error)
}

// PendingRuns persists crawl runs that jobs are waiting on.
type PendingRuns interface {
	Put(p crawler.Pending) error
	Delete(runID string) error
	List() ([]crawler.Pending, error)
}

// Publisher delivers progress events to a room.
type Publisher interface {
	Publish(room string, ev models.ProgressEvent) int
}

// MapGenerator renders and stores item maps.
type MapGenerator interface {
	Generate(ctx context.Context, tenantID string, item *models.ContentItem, frame *models.Frame) (string, error)
}

// ArtifactStore reads stored artifacts and removes ones no item claims.
type ArtifactStore interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Recorder receives pipeline timings and outcomes.
type Recorder interface {
	Time(op string) func()
	RecordOutcome(kind, outcome string)
}

// Deps are the orchestrator's collaborators. Crawler, Pending, Maps and
// Artifacts may be nil, which disables the features needing them.
type Deps struct {
	Registry   *registry.Registry
	Guard      Admitter
	Vectors    VectorWriter
	Tables     TableStore
	Embedder   Embedder
	Summarizer Summarizer
	Crawler    Crawler
	Correlator *crawler.Correlator
	Pending    PendingRuns
	Notifier   Publisher
	Maps       MapGenerator
	Artifacts  ArtifactStore
	Metrics    Recorder
}

// Orchestrator admits content and drives ingestion jobs on a bounded pool.
type Orchestrator struct {
	Deps

	pool    *ants.Pool
	jobs    *JobManager
	gates   *gateSet
	mapping sync.Map // item ids with a map job in flight
	wg      sync.WaitGroup

	batchSize    int
	crawlTimeout time.Duration
	crawlPages   int
	crawlDepth   int
	webhookURL   string
	maxMapBytes  int64
	mapRows      int
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithPoolSize sets how many jobs run concurrently. Default is 8.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		if o.pool != nil {
			o.pool.Release()
		}
		pool, err := ants.NewPool(size, ants.WithNonblocking(true))
		if err != nil {
			return err
		}
		o.pool = pool
		return nil
	}
}

// WithBatchSize sets the embedding batch size. Default is 1000.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) error {
		if n > 0 {
			o.batchSize = n
		}
		return nil
	}
}

// WithCrawl sets the crawl budget, page and depth limits and the webhook
// target the crawler reports to.
func WithCrawl(timeout time.Duration, maxPages, maxDepth int, webhookURL string) Option {
	return func(o *Orchestrator) error {
		if timeout > 0 {
			o.crawlTimeout = timeout
		}
		if maxPages > 0 {
			o.crawlPages = maxPages
		}
		if maxDepth > 0 {
			o.crawlDepth = maxDepth
		}
		o.webhookURL = webhookURL
		return nil
	}
}

// WithMaxMapBytes caps the size of items maps can be built for.
func WithMaxMapBytes(n int64) Option {
	return func(o *Orchestrator) error {
		if n > 0 {
			o.maxMapBytes = n
		}
		return nil
	}
}

// WithJobRetention sets how many finished jobs stay listed.
func WithJobRetention(n int) Option {
	return func(o *Orchestrator) error {
		o.jobs = NewJobManager(n, o.logger)
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("guard is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if deps.Correlator == nil {
		deps.Correlator = crawler.NewCorrelator()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}

	o := &Orchestrator{
		Deps:         deps,
		gates:        newGateSet(),
		batchSize:    1000,
		crawlTimeout: 120 * time.Second,
		crawlPages:   20,
		crawlDepth:   3,
		maxMapBytes:  1 << 20,
		mapRows:      1000,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			if o.pool != nil {
				o.pool.Release()
			}
			return nil, err
		}
	}
	if o.pool == nil {
		if err := WithPoolSize(8)(o); err != nil {
			return nil, err
		}
	}
	if o.jobs == nil {
		o.jobs = NewJobManager(0, o.logger)
	}
	return o, nil
}

// Jobs lists tracked jobs for tenantID, or all jobs when empty.
func (o *Orchestrator) Jobs(tenantID string) []JobInfo {
	return o.jobs.ListJobs(tenantID)
}

// Wait blocks until every dispatched job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close waits for running jobs and releases the pool.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown with jobs still running", "running", o.pool.Running())
	}
	o.pool.Release()
	return ctx.Err()
}

// dispatch runs fn on the pool, detached from the caller. Panics become
// job failures via onPanic.
func (o *Orchestrator) dispatch(job *Job, fn func(ctx context.Context), onPanic func(ctx context.Context, err error)) error {
	o.wg.Add(1)
	err := o.pool.Submit(func() {
		defer o.wg.Done()
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				onPanic(ctx, fmt.Errorf("internal panic: %v", r))
			}
		}()
		fn(ctx)
	})
	if err != nil {
		o.wg.Done()
		o.jobs.Remove(job.ID)
		if errors.Is(err, ants.ErrPoolOverload) {
			return ErrQueueFull
		}
		return fmt.Errorf("dispatch job: %w", err)
	}
	return nil
}
