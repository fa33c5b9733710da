package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/client"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/server"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestUploadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/files", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		writeJSON(w, http.StatusAccepted, models.ContentItem{
			ID:       "item-1",
			TenantID: r.PathValue("tenant"),
			Source:   header.Filename,
			Length:   int64(len(data)),
			Summary:  r.FormValue("room"),
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# notes"), 0o600))

	c := client.New(ts.URL)
	item, err := c.UploadFile(context.Background(), "acme", path, "user-7")
	require.NoError(t, err)
	assert.Equal(t, "acme", item.TenantID)
	assert.Equal(t, "notes.md", item.Source)
	assert.EqualValues(t, 7, item.Length)
	assert.Equal(t, "user-7", item.Summary)
}

func TestAPIErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tenants/acme/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "content item not found"})
	})
	mux.HandleFunc("POST /api/v1/tenants/acme/websites", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "You have reached the crawl website limit"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := client.New(ts.URL)
	ctx := context.Background()

	_, err := c.GetItem(ctx, "acme", "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)

	_, err = c.Crawl(ctx, "acme", "https://example.com", "")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "You have reached the crawl website limit", apiErr.Message)
	assert.NotErrorIs(t, err, client.ErrNotFound)
}

func TestListJobsAndGetJob(t *testing.T) {
	var tenant string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		tenant = r.URL.Query().Get("tenant")
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []client.Job{
			{ID: "a1", Type: "file", Status: "completed"},
			{ID: "b2", Type: "crawl", Status: "running"},
		}})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := client.New(ts.URL)
	ctx := context.Background()

	jobs, err := c.ListJobs(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, "acme", tenant)

	job, err := c.GetJob(ctx, "b2")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "crawl", job.Type)

	job, err = c.GetJob(ctx, "zz")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMapImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tenants/acme/items/item-1/map", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	got, err := client.New(ts.URL).MapImage(context.Background(), "acme", "item-1")
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestWatch(t *testing.T) {
	hub := notify.NewHub(16, nil, nil)
	defer hub.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(server.New(nil, hub, nil, server.WithLogger(logger)).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for hub.Subscribers("acme") == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		hub.Publish("acme", models.ProgressEvent{ItemID: "item-1", Progress: 50})
		hub.Publish("acme", models.ProgressEvent{ItemID: "item-1", Progress: 100})
	}()

	var got []int
	err := client.New(ts.URL).Watch(ctx, "acme", func(ev models.ProgressEvent) error {
		got = append(got, ev.Progress)
		if ev.Terminal() {
			return client.ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, got)
}
