// Package registry owns the lifecycle of content items: placeholders,
// monotonic progress, terminal transitions and cascading deletion across
// the vector, table and artifact stores.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// Sentinel errors for registry operations. Use errors.Is() to check for these.
var (
	ErrNotFound     = errors.New("content item not found")
	ErrItemInFlight = errors.New("content item is still being ingested")
	ErrNotReady     = errors.New("content item is not ready")
)

// cascadeLimit bounds concurrent child deletions.
const cascadeLimit = 4

// Store persists content item records.
type Store interface {
	CreateItem(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error)
	GetItem(ctx context.Context, id string) (*models.ContentItem, error)
	ListItems(ctx context.Context, tenantID string) ([]models.ContentItem, error)
	ListInFlight(ctx context.Context) ([]models.ContentItem, error)
	FindBySource(ctx context.Context, tenantID, source string, kinds []models.Kind) (*models.ContentItem, error)
	FindChild(ctx context.Context, parentID, url string) (*models.ContentItem, error)
	CountByKinds(ctx context.Context, tenantID string, kinds []models.Kind) (int, error)
	UpdateProgress(ctx context.Context, id string, progress int) (bool, error)
	CompleteItem(ctx context.Context, id, summary, contextString string) (bool, error)
	FailItem(ctx context.Context, id string) (bool, error)
	ReopenItem(ctx context.Context, id string, length int64) (*models.ContentItem, error)
	// AttachChild fails when the parent no longer exists.
	AttachChild(ctx context.Context, parentID, childID, url string) error
	DetachChild(ctx context.Context, parentID, childID, url string) error
	SetMapArtifact(ctx context.Context, id, ref string) (bool, error)
	ClearMapArtifact(ctx context.Context, id string) error
	DeleteItems(ctx context.Context, ids ...string) (int, error)
}

// VectorCollection removes the vector entries owned by items.
type VectorCollection interface {
	DeleteChunks(ctx context.Context, tenantID string, itemIDs []string) error
}

// TableStore drops relational tables of structured items.
type TableStore interface {
	DropTable(ctx context.Context, name string) error
}

// ArtifactStore removes stored map artifacts.
type ArtifactStore interface {
	Delete(ctx context.Context, ref string) error
}

// Placeholder describes a new item before ingestion starts.
type Placeholder struct {
	TenantID   string
	Source     string
	Kind       models.Kind
	IsFile     bool
	ParentID   string
	Structured bool
	TableName  string
	FileType   string
	Length     int64
	AllowMap   bool
}

// Registry coordinates the item store with the stores holding item data.
type Registry struct {
	store     Store
	vectors   VectorCollection
	tables    TableStore
	artifacts ArtifactStore
	logger    *slog.Logger
}

// New creates a registry. tables and artifacts may be nil when the
// deployment has no structured path or map storage.
func New(store Store, vectors VectorCollection, tables TableStore, artifacts ArtifactStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		vectors:   vectors,
		tables:    tables,
		artifacts: artifacts,
		logger:    logger,
	}
}

// CreatePlaceholder inserts a new item at progress 0. Children are attached
// to their parent.
func (r *Registry) CreatePlaceholder(ctx context.Context, p Placeholder) (*models.ContentItem, error) {
	item, err := r.store.CreateItem(ctx, &models.ContentItem{
		ID:         uuid.NewString(),
		TenantID:   p.TenantID,
		Source:     p.Source,
		Kind:       p.Kind,
		IsFile:     p.IsFile,
		ParentID:   p.ParentID,
		Structured: p.Structured,
		TableName:  p.TableName,
		FileType:   p.FileType,
		Length:     p.Length,
		AllowMap:   p.AllowMap,
		Progress:   models.ProgressQueued,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create placeholder: %w", err)
	}

	if p.ParentID != "" {
		if err := r.store.AttachChild(ctx, p.ParentID, item.ID, p.Source); err != nil {
			_, _ = r.store.DeleteItems(ctx, item.ID)
			return nil, fmt.Errorf("attach %s to %s: %w", item.ID, p.ParentID, err)
		}
	}
	return item, nil
}

// MarkProgress raises an in-flight item's progress. Decreases and updates
// to terminal items are dropped and reported as not applied.
func (r *Registry) MarkProgress(ctx context.Context, id string, progress int) (bool, error) {
	if progress < models.ProgressQueued || progress >= models.ProgressReady {
		return false, nil
	}
	applied, err := r.store.UpdateProgress(ctx, id, progress)
	if err != nil {
		return false, fmt.Errorf("mark progress: %w", err)
	}
	if !applied {
		r.logger.Debug("progress update dropped", "item", id, "progress", progress)
	}
	return applied, nil
}

// MarkReady completes an in-flight item. It is a no-op on terminal items.
func (r *Registry) MarkReady(ctx context.Context, id, summary, contextString string) (bool, error) {
	applied, err := r.store.CompleteItem(ctx, id, summary, contextString)
	if err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}
	return applied, nil
}

// MarkFailed moves the item to failed and then removes it together with
// everything it owns.
func (r *Registry) MarkFailed(ctx context.Context, id, reason string) error {
	if _, err := r.store.FailItem(ctx, id); err != nil {
		r.logger.Warn("failed to record failure", "item", id, "error", err)
	}
	r.logger.Info("ingestion failed", "item", id, "reason", reason)

	if err := r.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("roll back %s: %w", id, err)
	}
	return nil
}

// Delete removes the item, its children and all of their stored data.
// Cleanup of vectors, tables and artifacts is best effort; the records are
// always removed.
func (r *Registry) Delete(ctx context.Context, id string) error {
	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if item == nil {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	if err := r.deleteTree(ctx, item); err != nil {
		return err
	}

	if item.ParentID != "" {
		if err := r.store.DetachChild(ctx, item.ParentID, item.ID, item.Source); err != nil {
			r.logger.Warn("failed to detach child", "item", item.ID, "parent", item.ParentID, "error", err)
		}
	}
	return nil
}

func (r *Registry) deleteTree(ctx context.Context, item *models.ContentItem) error {
	if len(item.Children) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cascadeLimit)
		for _, childID := range item.Children {
			g.Go(func() error {
				child, err := r.store.GetItem(gctx, childID)
				if err != nil {
					return fmt.Errorf("load child %s: %w", childID, err)
				}
				if child == nil {
					return nil
				}
				return r.deleteTree(gctx, child)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	r.cleanup(ctx, item)

	if _, err := r.store.DeleteItems(ctx, item.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", item.ID, err)
	}
	r.logger.Debug("item deleted", "item", item.ID, "tenant", item.TenantID, "source", item.Source)
	return nil
}

// cleanup removes the data an item owns, logging instead of failing.
func (r *Registry) cleanup(ctx context.Context, item *models.ContentItem) {
	if item.Structured {
		if item.TableName != "" && r.tables != nil {
			if err := r.tables.DropTable(ctx, item.TableName); err != nil {
				r.logger.Warn("failed to drop table", "item", item.ID, "table", item.TableName, "error", err)
			}
		}
	} else if r.vectors != nil {
		if err := r.vectors.DeleteChunks(ctx, item.TenantID, []string{item.ID}); err != nil {
			r.logger.Warn("failed to delete vectors", "item", item.ID, "error", err)
		}
	}

	if item.MapArtifactRef != "" && r.artifacts != nil {
		if err := r.artifacts.Delete(ctx, item.MapArtifactRef); err != nil {
			r.logger.Warn("failed to delete map artifact", "item", item.ID, "ref", item.MapArtifactRef, "error", err)
		}
	}
}

// ReplaceRoot deletes the tenant's existing website root for rootURL, if
// any. It reports whether a root was replaced.
func (r *Registry) ReplaceRoot(ctx context.Context, tenantID, rootURL string) (bool, error) {
	existing, err := r.store.FindBySource(ctx, tenantID, rootURL, []models.Kind{models.KindWebsiteRoot})
	if err != nil {
		return false, fmt.Errorf("find root %s: %w", rootURL, err)
	}
	if existing == nil {
		return false, nil
	}
	if err := r.Delete(ctx, existing.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	r.logger.Info("website root replaced", "tenant", tenantID, "root", rootURL, "previous", existing.ID)
	return true, nil
}

// Get returns the item or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return item, nil
}

// List returns the tenant's top-level items.
func (r *Registry) List(ctx context.Context, tenantID string) ([]models.ContentItem, error) {
	items, err := r.store.ListItems(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// InFlight returns items that never reached a terminal state.
func (r *Registry) InFlight(ctx context.Context) ([]models.ContentItem, error) {
	items, err := r.store.ListInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("list in-flight items: %w", err)
	}
	return items, nil
}

// FindBySource returns the tenant's top-level item for source, or nil.
func (r *Registry) FindBySource(ctx context.Context, tenantID, source string, kinds ...models.Kind) (*models.ContentItem, error) {
	return r.store.FindBySource(ctx, tenantID, source, kinds)
}

// FindChild returns the parent's child for url, or nil.
func (r *Registry) FindChild(ctx context.Context, parentID, url string) (*models.ContentItem, error) {
	return r.store.FindChild(ctx, parentID, url)
}

// AttachChild links an existing item under parentID.
func (r *Registry) AttachChild(ctx context.Context, parentID, childID, url string) error {
	return r.store.AttachChild(ctx, parentID, childID, url)
}

// CountByKinds counts a tenant's items of the given kinds.
func (r *Registry) CountByKinds(ctx context.Context, tenantID string, kinds []models.Kind) (int, error) {
	return r.store.CountByKinds(ctx, tenantID, kinds)
}

// Reopen resets a ready item to progress 0 for re-ingestion. Vector
// entries and any map artifact are removed; tables are replaced by the
// next ingestion.
func (r *Registry) Reopen(ctx context.Context, id string, length int64) (*models.ContentItem, error) {
	before, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !before.Ready() {
		return nil, fmt.Errorf("reopen %s: %w", id, ErrItemInFlight)
	}

	item, err := r.store.ReopenItem(ctx, id, length)
	if err != nil {
		return nil, fmt.Errorf("reopen %s: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("reopen %s: %w", id, ErrItemInFlight)
	}

	if !item.Structured && r.vectors != nil {
		if err := r.vectors.DeleteChunks(ctx, item.TenantID, []string{item.ID}); err != nil {
			return nil, fmt.Errorf("reopen %s: clear vectors: %w", id, err)
		}
	}
	if before.MapArtifactRef != "" && r.artifacts != nil {
		if err := r.artifacts.Delete(ctx, before.MapArtifactRef); err != nil {
			r.logger.Warn("failed to delete map artifact", "item", id, "ref", before.MapArtifactRef, "error", err)
		}
	}
	return item, nil
}

// DiscardVectors removes vector entries owned by itemIDs, for jobs whose
// items were deleted underneath them.
func (r *Registry) DiscardVectors(ctx context.Context, tenantID string, itemIDs []string) error {
	if r.vectors == nil || len(itemIDs) == 0 {
		return nil
	}
	if err := r.vectors.DeleteChunks(ctx, tenantID, itemIDs); err != nil {
		return fmt.Errorf("discard vectors: %w", err)
	}
	return nil
}

// SetMapArtifact records ref on a ready item that has no map yet.
func (r *Registry) SetMapArtifact(ctx context.Context, id, ref string) error {
	applied, err := r.store.SetMapArtifact(ctx, id, ref)
	if err != nil {
		return fmt.Errorf("set map artifact: %w", err)
	}
	if !applied {
		return fmt.Errorf("set map artifact on %s: %w", id, ErrNotReady)
	}
	return nil
}

// ClearMapArtifact deletes the item's stored map and clears its reference.
func (r *Registry) ClearMapArtifact(ctx context.Context, id string) error {
	item, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.MapArtifactRef != "" && r.artifacts != nil {
		if err := r.artifacts.Delete(ctx, item.MapArtifactRef); err != nil {
			r.logger.Warn("failed to delete map artifact", "item", id, "ref", item.MapArtifactRef, "error", err)
		}
	}
	if err := r.store.ClearMapArtifact(ctx, id); err != nil {
		return fmt.Errorf("clear map artifact: %w", err)
	}
	return nil
}
