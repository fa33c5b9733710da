// Package client provides an HTTP client for the contextbase server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// ErrNotFound is matched by API errors carrying a 404.
var ErrNotFound = errors.New("not found")

// Client talks to the contextbase REST API and progress stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses CONTEXTBASE_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via CONTEXTBASE_CLIENT_TIMEOUT (default 2m, uploads can be large).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CONTEXTBASE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("CONTEXTBASE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Job mirrors the server's job view.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	TenantID    string     `json:"tenantId"`
	ItemID      string     `json:"itemId"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (c *Client) tenantPath(tenant string, parts ...string) string {
	p := "/api/v1/tenants/" + url.PathEscape(tenant)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// do sends a request and decodes a JSON response into result when non-nil.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	switch out := result.(type) {
	case *[]byte:
		*out = data
		return nil
	default:
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), out)
}

// UploadFile sends a local file for ingestion.
func (c *Client) UploadFile(ctx context.Context, tenant, path, room string) (*models.ContentItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c.Upload(ctx, tenant, filepath.Base(path), data, room)
}

// Upload sends in-memory file content for ingestion.
func (c *Client) Upload(ctx context.Context, tenant, filename string, data []byte, room string) (*models.ContentItem, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if room != "" {
		if err := mw.WriteField("room", room); err != nil {
			return nil, fmt.Errorf("write room: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	var item models.ContentItem
	if err := c.do(ctx, http.MethodPost, c.tenantPath(tenant, "files"), mw.FormDataContentType(), &buf, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Crawl starts a website crawl.
func (c *Client) Crawl(ctx context.Context, tenant, siteURL, room string) (*models.ContentItem, error) {
	var item models.ContentItem
	in := map[string]string{"url": siteURL, "room": room}
	if err := c.postJSON(ctx, c.tenantPath(tenant, "websites"), in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Record submits a recorded API exchange for a page.
func (c *Client) Record(ctx context.Context, tenant, pageURL, payload, response, room string) (*models.ContentItem, error) {
	var item models.ContentItem
	in := map[string]string{"url": pageURL, "payload": payload, "response": response, "room": room}
	if err := c.postJSON(ctx, c.tenantPath(tenant, "recordings"), in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Snapshot submits a captured page DOM.
func (c *Client) Snapshot(ctx context.Context, tenant, pageURL, html, room string) (*models.ContentItem, error) {
	var item models.ContentItem
	in := map[string]string{"url": pageURL, "html": html, "room": room}
	if err := c.postJSON(ctx, c.tenantPath(tenant, "snapshots"), in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns the tenant's content items.
func (c *Client) ListItems(ctx context.Context, tenant string) ([]models.ContentItem, error) {
	var resp struct {
		Items []models.ContentItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, c.tenantPath(tenant, "items"), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetItem returns one item. A missing item yields an error matching ErrNotFound.
func (c *Client) GetItem(ctx context.Context, tenant, id string) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := c.do(ctx, http.MethodGet, c.tenantPath(tenant, "items", id), "", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes an item and everything derived from it.
func (c *Client) DeleteItem(ctx context.Context, tenant, id string) error {
	return c.do(ctx, http.MethodDelete, c.tenantPath(tenant, "items", id), "", nil, nil)
}

// CreateMap queues map generation for a tabular item.
func (c *Client) CreateMap(ctx context.Context, tenant, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, c.tenantPath(tenant, "items", id, "map"), "", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// MapImage downloads an item's map as PNG bytes.
func (c *Client) MapImage(ctx context.Context, tenant, id string) ([]byte, error) {
	var png []byte
	if err := c.do(ctx, http.MethodGet, c.tenantPath(tenant, "items", id, "map"), "", nil, &png); err != nil {
		return nil, err
	}
	return png, nil
}

// DeleteMap removes an item's map.
func (c *Client) DeleteMap(ctx context.Context, tenant, id string) error {
	return c.do(ctx, http.MethodDelete, c.tenantPath(tenant, "items", id, "map"), "", nil, nil)
}

// ListJobs returns recent jobs, optionally for one tenant.
func (c *Client) ListJobs(ctx context.Context, tenant string) ([]Job, error) {
	path := "/api/v1/jobs"
	if tenant != "" {
		path += "?tenant=" + url.QueryEscape(tenant)
	}
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob finds a job by id among the recent jobs. It returns nil when the
// job is unknown.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	jobs, err := c.ListJobs(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// Stream is an open progress subscription.
type Stream struct {
	conn *websocket.Conn
}

// OpenStream joins room's progress stream. Events published after it
// returns are delivered.
func (c *Client) OpenStream(ctx context.Context, room string) (*Stream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next progress event. It returns io.EOF when the
// server closes the stream.
func (s *Stream) Next() (models.ProgressEvent, error) {
	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return models.ProgressEvent{}, io.EOF
			}
			return models.ProgressEvent{}, fmt.Errorf("read event: %w", err)
		}
		if env.Event == models.EventContentItemUpload {
			return env.Data, nil
		}
	}
}

// Close ends the subscription. Pending Next calls return an error.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// Watch streams the progress events of room and calls onEvent for each one.
// It returns when ctx ends, the server closes the stream, or onEvent returns
// an error. Return ErrStop from onEvent to end without an error.
func (c *Client) Watch(ctx context.Context, room string, onEvent func(models.ProgressEvent) error) error {
	stream, err := c.OpenStream(ctx, room)
	if err != nil {
		return err
	}
	defer stream.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := onEvent(ev); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ErrStop ends a Watch without an error.
var ErrStop = errors.New("stop watching")
