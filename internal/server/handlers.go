package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/service"
)

type crawlBody struct {
	URL  string `json:"url" validate:"required,url"`
	Room string `json:"room"`
}

type recordingBody struct {
	URL      string `json:"url" validate:"required,url"`
	Payload  string `json:"payload"`
	Response string `json:"response" validate:"required"`
	Room     string `json:"room"`
}

type snapshotBody struct {
	URL  string `json:"url" validate:"required,url"`
	HTML string `json:"html" validate:"required"`
	Room string `json:"room"`
}

type itemsResponse struct {
	Items []models.ContentItem `json:"items"`
}

type jobsResponse struct {
	Jobs []service.JobInfo `json:"jobs"`
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return s.validate.Struct(v)
}

func tenantParam(r *http.Request) string { return chi.URLParam(r, "tenant") }

func itemParam(r *http.Request) string { return chi.URLParam(r, "id") }

func accepted(w http.ResponseWriter, r *http.Request, item *models.ContentItem) {
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, item)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, fmt.Errorf("%w: limit is %d bytes", service.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: read upload: %w", errBadRequest, err))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %w", errBadRequest, err))
		return
	}

	item, err := s.ingest.SubmitFile(r.Context(), service.FileUpload{
		TenantID: tenantParam(r),
		Filename: header.Filename,
		Data:     data,
		Room:     r.FormValue("room"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w, r, item)
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var body crawlBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.ingest.SubmitCrawl(r.Context(), service.CrawlRequest{TenantID: tenantParam(r), URL: body.URL, Room: body.Room})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w, r, item)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var body recordingBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.ingest.SubmitRecording(r.Context(), service.RecordingRequest{
		TenantID: tenantParam(r),
		URL:      body.URL,
		Payload:  body.Payload,
		Response: body.Response,
		Room:     body.Room,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w, r, item)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var body snapshotBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.ingest.SubmitSnapshot(r.Context(), service.SnapshotRequest{
		TenantID: tenantParam(r),
		URL:      body.URL,
		HTML:     body.HTML,
		Room:     body.Room,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w, r, item)
}

func (s *Server) handleCrawlerWebhook(w http.ResponseWriter, r *http.Request) {
	var ev notify.CrawlerEvent
	if err := s.decode(r, &ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ingest.HandleCrawlerEvent(r.Context(), ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.ingest.List(r.Context(), tenantParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.ContentItem{}
	}
	render.JSON(w, r, itemsResponse{Items: items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.ingest.Get(r.Context(), tenantParam(r), itemParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.Delete(r.Context(), tenantParam(r), itemParam(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingest.CreateMap(r.Context(), tenantParam(r), itemParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

func (s *Server) handleMapImage(w http.ResponseWriter, r *http.Request) {
	png, err := s.ingest.MapImage(r.Context(), tenantParam(r), itemParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.DeleteMap(r.Context(), tenantParam(r), itemParam(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.ingest.Jobs(r.URL.Query().Get("tenant"))
	if jobs == nil {
		jobs = []service.JobInfo{}
	}
	render.JSON(w, r, jobsResponse{Jobs: jobs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.metrics.Snapshot())
}
