package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// itemRecord is the stored shape of a content item.
type itemRecord struct {
	ID            surrealmodels.RecordID `json:"id"`
	Tenant        string                 `json:"tenant"`
	Source        string                 `json:"source"`
	Kind          string                 `json:"kind"`
	IsParent      bool                   `json:"is_parent"`
	IsFile        bool                   `json:"is_file"`
	Parent        *string                `json:"parent,omitempty"`
	Children      []string               `json:"children"`
	URLs          []string               `json:"urls"`
	Structured    bool                   `json:"structured"`
	TableName     *string                `json:"table_name,omitempty"`
	FileType      *string                `json:"file_type,omitempty"`
	Length        int64                  `json:"length"`
	ContextString *string                `json:"context_string,omitempty"`
	Progress      int                    `json:"progress"`
	Summary       *string                `json:"summary,omitempty"`
	AllowMap      bool                   `json:"allow_map"`
	MapCreated    bool                   `json:"map_created"`
	MapArtifact   *string                `json:"map_artifact,omitempty"`
	UploadedAt    time.Time              `json:"uploaded_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (r *itemRecord) toModel() (*models.ContentItem, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	item := &models.ContentItem{
		ID:             id,
		TenantID:       r.Tenant,
		Source:         r.Source,
		Kind:           models.Kind(r.Kind),
		IsParent:       r.IsParent,
		IsFile:         r.IsFile,
		ParentID:       deref(r.Parent),
		Children:       r.Children,
		URLs:           r.URLs,
		Structured:     r.Structured,
		TableName:      deref(r.TableName),
		FileType:       deref(r.FileType),
		Length:         r.Length,
		ContextString:  deref(r.ContextString),
		Progress:       r.Progress,
		Summary:        deref(r.Summary),
		AllowMap:       r.AllowMap,
		MapCreated:     r.MapCreated,
		MapArtifactRef: deref(r.MapArtifact),
		UploadedAt:     r.UploadedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if item.Children == nil {
		item.Children = []string{}
	}
	return item, nil
}

func toModels(records []itemRecord) ([]models.ContentItem, error) {
	items := make([]models.ContentItem, 0, len(records))
	for i := range records {
		item, err := records[i].toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func itemRecordIDs(ids []string) []surrealmodels.RecordID {
	out := make([]surrealmodels.RecordID, len(ids))
	for i, id := range ids {
		out[i] = surrealmodels.NewRecordID(itemTable, id)
	}
	return out
}

// queryItems runs sql and converts the first statement's rows.
func (c *Client) queryItems(ctx context.Context, op, sql string, vars map[string]any) ([]models.ContentItem, error) {
	results, err := surrealdb.Query[[]itemRecord](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.ContentItem{}, nil
	}
	items, err := toModels((*results)[0].Result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

// queryItem is queryItems for statements that touch one record. It returns
// nil when no row matched.
func (c *Client) queryItem(ctx context.Context, op, sql string, vars map[string]any) (*models.ContentItem, error) {
	items, err := c.queryItems(ctx, op, sql, vars)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// CreateItem inserts a new content item with the given id.
func (c *Client) CreateItem(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	sql := `
		CREATE type::record("content_item", $id) SET
			tenant = $tenant,
			source = $source,
			kind = $kind,
			is_parent = $is_parent,
			is_file = $is_file,
			parent = $parent,
			children = [],
			urls = [],
			structured = $structured,
			table_name = $table_name,
			file_type = $file_type,
			length = $length,
			progress = $progress,
			allow_map = $allow_map,
			uploaded_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`
	created, err := c.queryItem(ctx, "create item", sql, map[string]any{
		"id":         item.ID,
		"tenant":     item.TenantID,
		"source":     item.Source,
		"kind":       string(item.Kind),
		"is_parent":  item.IsParent,
		"is_file":    item.IsFile,
		"parent":     optional(item.ParentID),
		"structured": item.Structured,
		"table_name": optional(item.TableName),
		"file_type":  optional(item.FileType),
		"length":     item.Length,
		"progress":   item.Progress,
		"allow_map":  item.AllowMap,
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("create item: no result returned")
	}
	return created, nil
}

// GetItem returns nil when the item does not exist.
func (c *Client) GetItem(ctx context.Context, id string) (*models.ContentItem, error) {
	return c.queryItem(ctx, "get item",
		`SELECT * FROM type::record("content_item", $id)`,
		map[string]any{"id": id})
}

// ListItems returns a tenant's top-level items, newest first.
func (c *Client) ListItems(ctx context.Context, tenantID string) ([]models.ContentItem, error) {
	return c.queryItems(ctx, "list items", `
		SELECT * FROM content_item
		WHERE tenant = $tenant AND parent = NONE
		ORDER BY uploaded_at DESC
	`, map[string]any{"tenant": tenantID})
}

// ListInFlight returns every item whose progress is neither ready nor failed.
func (c *Client) ListInFlight(ctx context.Context) ([]models.ContentItem, error) {
	return c.queryItems(ctx, "list in-flight items", `
		SELECT * FROM content_item WHERE progress >= 0 AND progress < 100
	`, nil)
}

// FindBySource returns the tenant's item of one of kinds with the given
// source, or nil.
func (c *Client) FindBySource(ctx context.Context, tenantID, source string, kinds []models.Kind) (*models.ContentItem, error) {
	return c.queryItem(ctx, "find by source", `
		SELECT * FROM content_item
		WHERE tenant = $tenant AND source = $source AND kind IN $kinds AND parent = NONE
		LIMIT 1
	`, map[string]any{"tenant": tenantID, "source": source, "kinds": kindStrings(kinds)})
}

// FindChild returns the child of parentID whose source is url, or nil.
func (c *Client) FindChild(ctx context.Context, parentID, url string) (*models.ContentItem, error) {
	return c.queryItem(ctx, "find child", `
		SELECT * FROM content_item WHERE parent = $parent AND source = $source LIMIT 1
	`, map[string]any{"parent": parentID, "source": url})
}

// CountByKinds counts a tenant's items of the given kinds.
func (c *Client) CountByKinds(ctx context.Context, tenantID string, kinds []models.Kind) (int, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, `
		SELECT count() AS c FROM content_item WHERE tenant = $tenant AND kind IN $kinds GROUP ALL
	`, map[string]any{"tenant": tenantID, "kinds": kindStrings(kinds)})
	if err != nil {
		return 0, fmt.Errorf("count items: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

func kindStrings(kinds []models.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// UpdateProgress raises an in-flight item's progress. It returns false when
// the item is terminal, missing, or already past progress.
func (c *Client) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	item, err := c.queryItem(ctx, "update progress", `
		UPDATE type::record("content_item", $id)
		SET progress = $progress, updated_at = time::now()
		WHERE progress >= 0 AND progress < 100 AND progress <= $progress
		RETURN AFTER
	`, map[string]any{"id": id, "progress": progress})
	return item != nil, err
}

// CompleteItem moves an in-flight item to ready.
func (c *Client) CompleteItem(ctx context.Context, id, summary, contextString string) (bool, error) {
	item, err := c.queryItem(ctx, "complete item", `
		UPDATE type::record("content_item", $id)
		SET progress = 100, summary = $summary, context_string = $context, updated_at = time::now()
		WHERE progress >= 0 AND progress < 100
		RETURN AFTER
	`, map[string]any{"id": id, "summary": summary, "context": optional(contextString)})
	return item != nil, err
}

// FailItem moves an in-flight item to failed.
func (c *Client) FailItem(ctx context.Context, id string) (bool, error) {
	item, err := c.queryItem(ctx, "fail item", `
		UPDATE type::record("content_item", $id)
		SET progress = -1, updated_at = time::now()
		WHERE progress >= 0 AND progress < 100
		RETURN AFTER
	`, map[string]any{"id": id})
	return item != nil, err
}

// ReopenItem resets a ready item to progress 0 so it can be re-ingested.
// It returns nil when the item is not ready.
func (c *Client) ReopenItem(ctx context.Context, id string, length int64) (*models.ContentItem, error) {
	return c.queryItem(ctx, "reopen item", `
		UPDATE type::record("content_item", $id)
		SET progress = 0, length = $length, summary = NONE, context_string = NONE,
			map_created = false, map_artifact = NONE, updated_at = time::now()
		WHERE progress = 100
		RETURN AFTER
	`, map[string]any{"id": id, "length": length})
}

// AttachChild records childID and its url on the parent. It returns
// ErrNotFound when the parent no longer exists.
func (c *Client) AttachChild(ctx context.Context, parentID, childID, url string) error {
	parent, err := c.queryItem(ctx, "attach child", `
		UPDATE type::record("content_item", $id)
		SET is_parent = true, children += $child, urls += $url, updated_at = time::now()
		RETURN AFTER
	`, map[string]any{"id": parentID, "child": childID, "url": url})
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("attach child: parent %s: %w", parentID, ErrNotFound)
	}
	return nil
}

// DetachChild removes childID and its url from the parent.
func (c *Client) DetachChild(ctx context.Context, parentID, childID, url string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("content_item", $id)
		SET children -= $child, urls -= $url, updated_at = time::now()
	`, map[string]any{"id": parentID, "child": childID, "url": url})
	if err != nil {
		return fmt.Errorf("detach child: %w", wrapQueryError(err))
	}
	return nil
}

// SetMapArtifact stores ref on a ready item without a map.
func (c *Client) SetMapArtifact(ctx context.Context, id, ref string) (bool, error) {
	item, err := c.queryItem(ctx, "set map artifact", `
		UPDATE type::record("content_item", $id)
		SET map_created = true, map_artifact = $ref, updated_at = time::now()
		WHERE progress = 100 AND map_created = false
		RETURN AFTER
	`, map[string]any{"id": id, "ref": ref})
	return item != nil, err
}

func (c *Client) ClearMapArtifact(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("content_item", $id)
		SET map_created = false, map_artifact = NONE, updated_at = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("clear map artifact: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteItems removes items by id and returns how many existed.
func (c *Client) DeleteItems(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	results, err := surrealdb.Query[[]itemRecord](ctx, c.db,
		`DELETE content_item WHERE id IN $ids RETURN BEFORE`,
		map[string]any{"ids": itemRecordIDs(ids)})
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
