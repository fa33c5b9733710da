package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// PutChunks stores embedded units in the tenant's vector collection.
func (c *Client) PutChunks(ctx context.Context, tenantID string, entries []models.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(entries))
	for i, e := range entries {
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		rows[i] = map[string]any{
			"tenant":    tenantID,
			"item":      e.ItemID,
			"content":   e.Content,
			"position":  e.Position,
			"metadata":  metadata,
			"embedding": e.Embedding,
		}
	}

	if _, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO chunk $rows RETURN NONE`,
		map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("put chunks: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteChunks removes every chunk the given items own within the tenant.
func (c *Client) DeleteChunks(ctx context.Context, tenantID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := surrealdb.Query[any](ctx, c.db,
		`DELETE chunk WHERE tenant = $tenant AND item IN $items RETURN NONE`,
		map[string]any{"tenant": tenantID, "items": itemIDs}); err != nil {
		return fmt.Errorf("delete chunks: %w", wrapQueryError(err))
	}
	return nil
}

// CountChunks counts the chunks an item owns.
func (c *Client) CountChunks(ctx context.Context, tenantID, itemID string) (int, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db,
		`SELECT count() AS c FROM chunk WHERE tenant = $tenant AND item = $item GROUP ALL`,
		map[string]any{"tenant": tenantID, "item": itemID})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
