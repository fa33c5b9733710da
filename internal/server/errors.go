package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/contextbase/internal/artifacts"
	"github.com/raphaelgruber/contextbase/internal/crawler"
	"github.com/raphaelgruber/contextbase/internal/parser"
	"github.com/raphaelgruber/contextbase/internal/quota"
	"github.com/raphaelgruber/contextbase/internal/registry"
	"github.com/raphaelgruber/contextbase/internal/service"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, quota.ErrAdmissionDenied):
		return http.StatusForbidden
	case errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, service.ErrInvalidWebhook),
		errors.Is(err, service.ErrMapNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, artifacts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrItemInFlight),
		errors.Is(err, registry.ErrNotReady),
		errors.Is(err, service.ErrMapExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, crawler.ErrCrawlFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its mapped status. Internal errors are logged
// and hidden from the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request error", "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}
