package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/parser"
	"github.com/raphaelgruber/contextbase/internal/parser/parsertest"
	"github.com/raphaelgruber/contextbase/internal/quota"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

const citiesCSV = "City,Population\nVienna,1900000\nGraz,290000\n"

func TestSubmitFileIndexesDocument(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	item, err := h.o.SubmitFile(ctx, FileUpload{
		TenantID: tenant,
		Filename: "notes.md",
		Data:     []byte("# Notes\n\nThe pipeline indexes documents.\n\nIt also summarizes them."),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProgressQueued, item.Progress)
	h.o.Wait()

	got := h.item(t, item.ID)
	assert.True(t, got.Ready())
	assert.False(t, got.Structured)
	assert.NotEmpty(t, got.Summary)
	assert.Positive(t, h.chunks(t, item.ID))
	assert.Empty(t, h.tables.tables)

	events := h.events()
	assert.Equal(t, []int{0, 50, 70, 100}, progressOf(events[item.ID]))
	assert.Equal(t, "File upload finished", events[item.ID][3].Message)
	assert.True(t, events[item.ID][0].IsFile)
	assertOrdered(t, events)

	jobs := h.o.Jobs(tenant)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobStatusCompleted, jobs[0].Status)
	assert.Equal(t, StageReady, jobs[0].Stage)
}

func TestSubmitFileTwoPagePDF(t *testing.T) {
	h := newHarness(t, nil)

	item, err := h.o.SubmitFile(context.Background(), FileUpload{
		TenantID: tenant,
		Filename: "report.pdf",
		Data:     parsertest.PDF("Quarterly revenue grew.", "Costs stayed flat."),
	})
	require.NoError(t, err)
	h.o.Wait()

	got := h.item(t, item.ID)
	assert.True(t, got.Ready())
	assert.NotEmpty(t, got.Summary)
	assert.Equal(t, 2, h.chunks(t, item.ID))

	events := h.events()
	assert.Equal(t, []int{0, 30, 50, 70, 100}, progressOf(events[item.ID]))
}

func TestSubmitFileTabular(t *testing.T) {
	h := newHarness(t, nil)

	item, err := h.o.SubmitFile(context.Background(), FileUpload{TenantID: tenant, Filename: "Cities.csv", Data: []byte(citiesCSV)})
	require.NoError(t, err)
	h.o.Wait()

	got := h.item(t, item.ID)
	assert.True(t, got.Ready())
	assert.True(t, got.Structured)
	assert.True(t, got.AllowMap)
	assert.Equal(t, models.QualifiedTableName(tenant, "Cities.csv"), got.TableName)
	assert.Contains(t, got.ContextString, "City, Population")
	assert.Zero(t, h.chunks(t, item.ID))

	frame := h.tables.table(got.TableName)
	require.NotNil(t, frame)
	assert.Len(t, frame.Rows, 2)

	assert.Equal(t, []int{0, 30, 50, 70, 100}, progressOf(h.events()[item.ID]))
}

func TestTabularReuploadReplaces(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "cities.csv", Data: []byte(citiesCSV)})
	require.NoError(t, err)
	h.o.Wait()
	h.events()

	// Same table name, different spelling.
	second, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "Cities.CSV", Data: []byte("City,Population\nLinz,210000\n")})
	require.NoError(t, err)
	h.o.Wait()

	assert.Equal(t, first.ID, second.ID)
	items, err := h.o.List(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Ready())

	frame := h.tables.table(items[0].TableName)
	require.NotNil(t, frame)
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, "Linz", frame.Rows[0][0])

	events := h.events()
	assert.Equal(t, []int{0, 30, 50, 70, 100}, progressOf(events[second.ID]))
	assertOrdered(t, events)
}

func TestReuploadWhileInFlight(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	item, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "cities.csv", Data: []byte(citiesCSV)})
	require.NoError(t, err)
	h.o.Wait()

	_, err = h.reg.Reopen(ctx, item.ID, 1)
	require.NoError(t, err)

	_, err = h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "cities.csv", Data: []byte(citiesCSV)})
	assert.ErrorIs(t, err, registry.ErrItemInFlight)
}

func TestSubmitFileFailureRollsBack(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
		setup    func(h *harness)
	}{
		{
			name:     "embedding error",
			filename: "notes.txt",
			data:     "text that will not embed",
			setup:    func(h *harness) { h.embedder.err = errors.New("provider down") },
		},
		{
			name:     "table error",
			filename: "cities.csv",
			data:     citiesCSV,
			setup:    func(h *harness) { h.tables.createErr = errors.New("disk full") },
		},
		{
			name:     "extraction error",
			filename: "broken.pdf",
			data:     "%PDF-garbage",
			setup:    func(*harness) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(h)
			ctx := context.Background()

			item, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: tt.filename, Data: []byte(tt.data)})
			require.NoError(t, err)
			h.o.Wait()

			_, err = h.reg.Get(ctx, item.ID)
			assert.ErrorIs(t, err, registry.ErrNotFound)
			assert.Zero(t, h.store.TenantChunks(tenant))
			assert.Empty(t, h.tables.tables)

			events := h.events()[item.ID]
			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, models.ProgressFailed, last.Progress)
			assert.True(t, strings.HasPrefix(last.Message, "Document upload failed. Error: "), last.Message)
			assertOrdered(t, map[string][]models.ProgressEvent{item.ID: events})

			jobs := h.o.Jobs(tenant)
			require.Len(t, jobs, 1)
			assert.Equal(t, JobStatusFailed, jobs[0].Status)
		})
	}
}

func TestSubmitFileAdmission(t *testing.T) {
	limited := quota.StaticDirectory{
		tenant: {ID: tenant, Active: true, Features: map[models.Feature]int{models.FeatureUploadFiles: 1}},
		"idle": {ID: "idle", Active: false, Features: map[models.Feature]int{models.FeatureUploadFiles: 5}},
	}
	h := newHarness(t, limited)
	ctx := context.Background()

	_, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "slides.pptx", Data: []byte("x")})
	assert.ErrorIs(t, err, parser.ErrUnsupportedFormat)

	_, err = h.o.SubmitFile(ctx, FileUpload{TenantID: "idle", Filename: "a.md", Data: []byte("text")})
	assert.ErrorIs(t, err, quota.ErrAdmissionDenied)
	assert.EqualError(t, err, quota.MsgInactive)

	_, err = h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "a.md", Data: []byte("first file")})
	require.NoError(t, err)
	h.o.Wait()

	_, err = h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "b.md", Data: []byte("second file")})
	assert.ErrorIs(t, err, quota.ErrAdmissionDenied)
	assert.EqualError(t, err, "You have reached the upload files limit")

	items, err := h.o.List(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSubmitFileQueueFull(t *testing.T) {
	h := newHarness(t, nil, WithPoolSize(1))
	ctx := context.Background()
	gate := make(chan struct{})
	h.embedder.gate = gate

	_, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "a.md", Data: []byte("first")})
	require.NoError(t, err)

	_, err = h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "b.md", Data: []byte("second")})
	assert.ErrorIs(t, err, ErrQueueFull)

	items, err := h.o.List(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.md", items[0].Source)

	close(gate)
	h.o.Wait()
}

func TestDeleteItem(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	gate := make(chan struct{})
	h.embedder.gate = gate

	item, err := h.o.SubmitFile(ctx, FileUpload{TenantID: tenant, Filename: "a.md", Data: []byte("some text")})
	require.NoError(t, err)

	err = h.o.Delete(ctx, tenant, item.ID)
	assert.ErrorIs(t, err, registry.ErrItemInFlight)

	close(gate)
	h.o.Wait()

	err = h.o.Delete(ctx, "someone-else", item.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, h.o.Delete(ctx, tenant, item.ID))
	_, err = h.o.Get(ctx, tenant, item.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, h.chunks(t, item.ID))
}

func TestTableContext(t *testing.T) {
	got := TableContext([]string{"city", "population"}, "Cities 2024.csv")
	assert.Equal(t, "This table gives information regarding: city, population from the document: "+models.FormatTableName("Cities 2024.csv"), got)
}
