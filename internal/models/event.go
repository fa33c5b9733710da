package models

import "time"

// EventContentItemUpload is the wire name of progress events.
const EventContentItemUpload = "context_item_upload"

// ProgressEvent is an ephemeral progress notification for one content item.
// It is never persisted; subscribers that miss one reconcile against the
// item's stored progress.
type ProgressEvent struct {
	ItemID   string    `json:"itemId"`
	TenantID string    `json:"tenantId"`
	Source   string    `json:"source,omitempty"`
	Progress int       `json:"progress"`
	IsFile   bool      `json:"isFile"`
	Message  string    `json:"message,omitempty"`
	Room     string    `json:"room"`
	At       time.Time `json:"at"`
}

// Terminal reports whether no further events follow for the item.
func (e ProgressEvent) Terminal() bool {
	return e.Progress == ProgressReady || e.Progress == ProgressFailed
}

// Envelope wraps an event for websocket delivery.
type Envelope struct {
	Event string        `json:"event"`
	Data  ProgressEvent `json:"data"`
}
