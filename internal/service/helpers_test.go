package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/artifacts"
	"github.com/raphaelgruber/contextbase/internal/crawler"
	"github.com/raphaelgruber/contextbase/internal/mapgen"
	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/quota"
	"github.com/raphaelgruber/contextbase/internal/registry"
	"github.com/raphaelgruber/contextbase/internal/tables"
)

const tenant = "acme"

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = []float32{float32(len(s)), float32(i), float32(i * i)}
	}
	return out, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeDocuments(_ context.Context, texts []string) (string, error) {
	return fmt.Sprintf("# Summary\n\n%d passages", len(texts)), nil
}

func (fakeSummarizer) SummarizeTable(_ context.Context, frame *models.Frame) (string, error) {
	return fmt.Sprintf("# Table\n\n%d columns", len(frame.Columns)), nil
}

type fakeTables struct {
	mu        sync.Mutex
	tables    map[string]*models.Frame
	dropped   []string
	createErr error
}

func newFakeTables() *fakeTables {
	return &fakeTables{tables: make(map[string]*models.Frame)}
}

func (f *fakeTables) CreateOrReplaceTable(_ context.Context, name string, frame *models.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.tables[name] = frame
	return nil
}

func (f *fakeTables) DropTable(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, name)
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeTables) ReadRows(_ context.Context, name string, limit int) (*models.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tables.ErrTableNotFound, name)
	}
	return frame.Head(limit), nil
}

func (f *fakeTables) table(name string) *models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[name]
}

type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: make(map[string][]byte)}
}

func (f *fakeArtifacts) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeArtifacts) Get(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, ref)
	}
	return data, nil
}

func (f *fakeArtifacts) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, ref)
	return nil
}

func (f *fakeArtifacts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeCrawler names runs after the item they crawl, so tests can resolve
// them without racing the job.
type fakeCrawler struct {
	mu      sync.Mutex
	pages   []crawler.Page
	started []crawler.RunRequest
	onStart func(req crawler.RunRequest, run *crawler.Run)
}

func runIDFor(itemID string) string { return "run-" + itemID }

func (f *fakeCrawler) StartRun(_ context.Context, req crawler.RunRequest, _ string) (*crawler.Run, error) {
	run := &crawler.Run{ID: runIDFor(req.ItemID), DatasetID: "ds-" + req.ItemID}
	f.mu.Lock()
	f.started = append(f.started, req)
	onStart := f.onStart
	f.mu.Unlock()
	if onStart != nil {
		go onStart(req, run)
	}
	return run, nil
}

func (f *fakeCrawler) DatasetItems(_ context.Context, _ string) ([]crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages, nil
}

func (f *fakeCrawler) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type harness struct {
	o        *Orchestrator
	reg      *registry.Registry
	store    *registry.MemoryStore
	tables   *fakeTables
	arts     *fakeArtifacts
	embedder *fakeEmbedder
	crawler  *fakeCrawler
	hub      *notify.Hub
	sub      *notify.Subscription
}

func defaultTenants() quota.StaticDirectory {
	return quota.StaticDirectory{
		tenant: {
			ID:     tenant,
			Active: true,
			Features: map[models.Feature]int{
				models.FeatureUploadFiles:  10,
				models.FeatureCrawlWebsite: 10,
			},
		},
	}
}

func newHarness(t *testing.T, dir quota.StaticDirectory, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, dir, nil, opts...)
}

// newHarnessWith lets wrap replace the item store the registry sees while
// the harness keeps the underlying memory store for inspection.
func newHarnessWith(t *testing.T, dir quota.StaticDirectory, wrap func(*registry.MemoryStore) registry.Store, opts ...Option) *harness {
	t.Helper()
	if dir == nil {
		dir = defaultTenants()
	}

	h := &harness{
		store:    registry.NewMemoryStore(),
		tables:   newFakeTables(),
		arts:     newFakeArtifacts(),
		embedder: &fakeEmbedder{},
		crawler: &fakeCrawler{pages: []crawler.Page{
			{URL: "https://example.com/about", Text: "We build ingestion pipelines."},
			{URL: "https://example.com/pricing", Text: "Plans start at ten euros."},
		}},
	}
	var store registry.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	h.reg = registry.New(store, h.store, h.tables, h.arts, nil)
	h.hub = notify.NewHub(256, nil, nil)
	h.sub = h.hub.Subscribe(tenant)
	t.Cleanup(h.sub.Close)

	o, err := New(Deps{
		Registry:   h.reg,
		Guard:      quota.NewGuard(dir, h.reg, nil),
		Vectors:    h.store,
		Tables:     h.tables,
		Embedder:   h.embedder,
		Summarizer: fakeSummarizer{},
		Crawler:    h.crawler,
		Notifier:   h.hub,
		Maps:       mapgen.New(h.embedder, h.arts, nil),
		Artifacts:  h.arts,
		Metrics:    metrics.NewCollector(),
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	h.o = o
	return h
}

// resolveCrawls answers every started run with eventType.
func (h *harness) resolveCrawls(t *testing.T, eventType string) {
	t.Helper()
	h.crawler.mu.Lock()
	h.crawler.onStart = func(req crawler.RunRequest, run *crawler.Run) {
		err := h.o.HandleCrawlerEvent(context.Background(), notify.CrawlerEvent{
			EventType: eventType,
			Room:      req.Room,
			ItemID:    req.ItemID,
			TenantID:  req.TenantID,
			RunID:     run.ID,
		})
		assert.NoError(t, err)
	}
	h.crawler.mu.Unlock()
}

// events drains what the subscription has buffered, grouped by item.
func (h *harness) events() map[string][]models.ProgressEvent {
	out := make(map[string][]models.ProgressEvent)
	for {
		select {
		case ev := <-h.sub.Events():
			out[ev.ItemID] = append(out[ev.ItemID], ev)
		default:
			return out
		}
	}
}

func (g *gateSet) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func progressOf(events []models.ProgressEvent) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.Progress
	}
	return out
}

// assertOrdered checks that each item's events never decrease and that
// nothing follows a terminal event.
func assertOrdered(t *testing.T, byItem map[string][]models.ProgressEvent) {
	t.Helper()
	for id, events := range byItem {
		for i, ev := range events {
			if ev.Terminal() {
				assert.Equal(t, len(events)-1, i, "events after terminal for %s: %v", id, progressOf(events))
				continue
			}
			if i > 0 {
				assert.GreaterOrEqual(t, ev.Progress, events[i-1].Progress, "progress decreased for %s: %v", id, progressOf(events))
			}
		}
	}
}

func (h *harness) item(t *testing.T, id string) *models.ContentItem {
	t.Helper()
	item, err := h.reg.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (h *harness) chunks(t *testing.T, id string) int {
	t.Helper()
	n, err := h.store.CountChunks(context.Background(), tenant, id)
	require.NoError(t, err)
	return n
}
