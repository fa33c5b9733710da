package service

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// Get returns one of the tenant's items.
func (o *Orchestrator) Get(ctx context.Context, tenantID, itemID string) (*models.ContentItem, error) {
	return o.owned(ctx, tenantID, itemID)
}

// List returns the tenant's top-level items.
func (o *Orchestrator) List(ctx context.Context, tenantID string) ([]models.ContentItem, error) {
	return o.Registry.List(ctx, tenantID)
}

// Delete removes a ready item with its children and artifacts. Items still
// being ingested cannot be deleted.
func (o *Orchestrator) Delete(ctx context.Context, tenantID, itemID string) error {
	item, err := o.owned(ctx, tenantID, itemID)
	if err != nil {
		return err
	}
	if !item.Ready() {
		return fmt.Errorf("delete %s at %d%%: %w", itemID, item.Progress, registry.ErrItemInFlight)
	}
	if err := o.Registry.Delete(ctx, itemID); err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	o.logger.Info("item deleted", "item", itemID, "tenant", tenantID, "source", item.Source)
	return nil
}
