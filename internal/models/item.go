// Package models defines data structures shared across the ingestion pipeline.
package models

import "time"

// Kind classifies the origin of a content item.
type Kind string

const (
	KindFile         Kind = "file"
	KindWebsiteRoot  Kind = "website_root"
	KindWebsitePage  Kind = "website_page"
	KindAPIRecording Kind = "api_recording"
	KindDOMSnapshot  Kind = "dom_snapshot"
)

// Progress checkpoints. Values in between are allowed but these are the
// ones the pipeline reports.
const (
	ProgressFailed    = -1
	ProgressQueued    = 0
	ProgressEarly     = 30
	ProgressExtracted = 50
	ProgressIndexed   = 70
	ProgressReady     = 100
)

// ContentItem is the durable record of one ingested unit of tenant knowledge.
type ContentItem struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Source   string   `json:"source"`
	Kind     Kind     `json:"kind"`
	IsParent bool     `json:"isParent"`
	IsFile   bool     `json:"isFile"`
	ParentID string   `json:"parentId,omitempty"`
	Children []string `json:"children"`
	URLs     []string `json:"urls,omitempty"`

	Structured    bool   `json:"structured"`
	TableName     string `json:"tableName,omitempty"`
	FileType      string `json:"fileType,omitempty"`
	Length        int64  `json:"length"`
	ContextString string `json:"contextString,omitempty"`

	Progress int    `json:"progress"`
	Summary  string `json:"summary"`

	AllowMap       bool   `json:"allowMap"`
	MapCreated     bool   `json:"mapCreated"`
	MapArtifactRef string `json:"mapArtifactRef,omitempty"`

	UploadedAt time.Time `json:"uploadedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Terminal reports whether the item has reached ready or failed.
func (c *ContentItem) Terminal() bool {
	return c.Progress == ProgressReady || c.Progress == ProgressFailed
}

// Ready reports whether ingestion completed successfully.
func (c *ContentItem) Ready() bool {
	return c.Progress == ProgressReady
}
