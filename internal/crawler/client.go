// Package crawler starts external website crawls and correlates their
// webhook callbacks with the jobs waiting on them.
package crawler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrCrawlFailed covers rejected runs, failed runs and unreadable datasets.
	ErrCrawlFailed = errors.New("crawl failed")

	// ErrCrawlTimeout is returned when no terminal webhook arrives in time.
	ErrCrawlTimeout = errors.New("crawl timed out")
)

// Webhook event types the crawler is asked to report.
var webhookEvents = []string{
	"ACTOR.RUN.CREATED",
	"ACTOR.RUN.SUCCEEDED",
	"ACTOR.RUN.FAILED",
	"ACTOR.RUN.ABORTED",
	"ACTOR.RUN.TIMED_OUT",
	"ACTOR.BUILD.FAILED",
}

// RunRequest describes one crawl.
type RunRequest struct {
	StartURL string
	MaxPages int
	MaxDepth int

	// Echoed back in every webhook body.
	ItemID   string
	TenantID string
	Room     string
}

// Run identifies a started crawl.
type Run struct {
	ID        string
	DatasetID string
}

// Page is one crawled page from a run's dataset.
type Page struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Client talks to the Apify v2 REST API.
type Client struct {
	baseURL    string
	token      string
	actor      string
	timeout    time.Duration
	memoryMB   int
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRunTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for actor at baseURL.
func NewClient(baseURL, token, actor string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		actor:      actor,
		timeout:    120 * time.Second,
		memoryMB:   4096,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type webhookSpec struct {
	EventTypes      []string `json:"eventTypes"`
	RequestURL      string   `json:"requestUrl"`
	PayloadTemplate string   `json:"payloadTemplate"`
}

// payloadTemplate renders the webhook body. {{eventType}} and {{resource}}
// are substituted by the crawler; the run id is resource.id.
func payloadTemplate(req RunRequest) string {
	q := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return fmt.Sprintf(`{"eventType": {{eventType}}, "itemId": %s, "tenantId": %s, "room": %s, "resource": {{resource}}}`,
		q(req.ItemID), q(req.TenantID), q(req.Room))
}

// StartRun launches a crawl whose lifecycle events are posted to webhookURL.
func (c *Client) StartRun(ctx context.Context, req RunRequest, webhookURL string) (*Run, error) {
	hooks, err := json.Marshal([]webhookSpec{{
		EventTypes:      webhookEvents,
		RequestURL:      webhookURL,
		PayloadTemplate: payloadTemplate(req),
	}})
	if err != nil {
		return nil, fmt.Errorf("encode webhooks: %w", err)
	}

	input, err := json.Marshal(map[string]any{
		"startUrls":          []map[string]string{{"url": req.StartURL}},
		"maxCrawlPages":      req.MaxPages,
		"maxCrawlDepth":      req.MaxDepth,
		"initialConcurrency": 10,
	})
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	q := url.Values{}
	q.Set("token", c.token)
	q.Set("timeout", strconv.Itoa(int(c.timeout.Seconds())))
	q.Set("memory", strconv.Itoa(c.memoryMB))
	q.Set("webhooks", base64.StdEncoding.EncodeToString(hooks))
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs?%s", c.baseURL, url.PathEscape(c.actor), q.Encode())

	var out struct {
		Data struct {
			ID               string `json:"id"`
			DefaultDatasetID string `json:"defaultDatasetId"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, input, &out); err != nil {
		return nil, fmt.Errorf("%w: start run for %s: %w", ErrCrawlFailed, req.StartURL, err)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("%w: start run for %s: no run id", ErrCrawlFailed, req.StartURL)
	}

	c.logger.Info("crawl started", "url", req.StartURL, "run", out.Data.ID, "item", req.ItemID)
	return &Run{ID: out.Data.ID, DatasetID: out.Data.DefaultDatasetID}, nil
}

// DatasetItems returns the pages a run produced.
func (c *Client) DatasetItems(ctx context.Context, datasetID string) ([]Page, error) {
	q := url.Values{}
	q.Set("token", c.token)
	q.Set("clean", "true")
	q.Set("format", "json")
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?%s", c.baseURL, url.PathEscape(datasetID), q.Encode())

	var pages []Page
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &pages); err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrCrawlFailed, datasetID, err)
	}
	return pages, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
