package notify

import "github.com/raphaelgruber/contextbase/internal/models"

// Crawler webhook event types.
const (
	EventRunCreated   = "ACTOR.RUN.CREATED"
	EventRunSucceeded = "ACTOR.RUN.SUCCEEDED"
	EventRunTimedOut  = "ACTOR.RUN.TIMED_OUT"
	EventRunAborted   = "ACTOR.RUN.ABORTED"
	EventRunFailed    = "ACTOR.RUN.FAILED"
	EventBuildFailed  = "ACTOR.BUILD.FAILED"
)

// CrawlerEvent is the body the crawler posts to the webhook endpoint.
type CrawlerEvent struct {
	EventType string         `json:"eventType" validate:"required"`
	Room      string         `json:"room"`
	ItemID    string         `json:"itemId" validate:"required"`
	TenantID  string         `json:"tenantId"`
	RunID     string         `json:"runId"`
	Resource  map[string]any `json:"resource,omitempty"`
}

// Run returns the run id, falling back to resource.id.
func (e CrawlerEvent) Run() string {
	if e.RunID != "" {
		return e.RunID
	}
	if id, ok := e.Resource["id"].(string); ok {
		return id
	}
	return ""
}

// DatasetID returns resource.defaultDatasetId when present.
func (e CrawlerEvent) DatasetID() string {
	id, _ := e.Resource["defaultDatasetId"].(string)
	return id
}

// Outcome is the terminal result a webhook carries, if any.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

// Translation is a webhook event mapped onto pipeline progress.
type Translation struct {
	Progress int
	Message  string
	Outcome  Outcome
}

var translations = map[string]Translation{
	EventRunCreated:   {Progress: models.ProgressEarly, Message: "Run initiated", Outcome: OutcomeNone},
	EventRunSucceeded: {Progress: models.ProgressExtracted, Message: "Run finished", Outcome: OutcomeSucceeded},
	// A timed-out run still has a usable partial dataset.
	EventRunTimedOut: {Progress: models.ProgressExtracted, Message: "Run finished", Outcome: OutcomeSucceeded},
	EventRunAborted:  {Progress: models.ProgressExtracted, Message: "Run aborted", Outcome: OutcomeFailed},
	EventRunFailed:   {Progress: models.ProgressExtracted, Message: "Run failed", Outcome: OutcomeFailed},
	EventBuildFailed: {Progress: models.ProgressExtracted, Message: "Run failed", Outcome: OutcomeFailed},
}

// Translate maps a crawler event type. ok is false for unknown types.
func Translate(eventType string) (t Translation, ok bool) {
	t, ok = translations[eventType]
	return t, ok
}
