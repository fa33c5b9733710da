package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// MemoryStore keeps items and vector entries in process memory. It backs
// single-node development setups (CONTEXTBASE_STORE=memory) and tests.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*models.ContentItem
	vectors map[string][]models.VectorEntry // keyed by item id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*models.ContentItem),
		vectors: make(map[string][]models.VectorEntry),
	}
}

func clone(item *models.ContentItem) *models.ContentItem {
	c := *item
	c.Children = slices.Clone(item.Children)
	c.URLs = slices.Clone(item.URLs)
	if c.Children == nil {
		c.Children = []string{}
	}
	return &c
}

func inFlight(item *models.ContentItem) bool {
	return item.Progress >= 0 && item.Progress < models.ProgressReady
}

func (m *MemoryStore) CreateItem(_ context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; ok {
		return nil, fmt.Errorf("create item %s: already exists", item.ID)
	}
	stored := clone(item)
	now := time.Now().UTC()
	if stored.UploadedAt.IsZero() {
		stored.UploadedAt = now
	}
	stored.UpdatedAt = now
	m.items[item.ID] = stored
	return clone(stored), nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return clone(item), nil
}

func (m *MemoryStore) ListItems(_ context.Context, tenantID string) ([]models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ContentItem
	for _, item := range m.items {
		if item.TenantID == tenantID && item.ParentID == "" {
			out = append(out, *clone(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (m *MemoryStore) ListInFlight(_ context.Context) ([]models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ContentItem
	for _, item := range m.items {
		if inFlight(item) {
			out = append(out, *clone(item))
		}
	}
	return out, nil
}

func (m *MemoryStore) FindBySource(_ context.Context, tenantID, source string, kinds []models.Kind) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.TenantID == tenantID && item.Source == source && item.ParentID == "" && slices.Contains(kinds, item.Kind) {
			return clone(item), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindChild(_ context.Context, parentID, url string) (*models.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ParentID == parentID && item.Source == url {
			return clone(item), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CountByKinds(_ context.Context, tenantID string, kinds []models.Kind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, item := range m.items {
		if item.TenantID == tenantID && slices.Contains(kinds, item.Kind) {
			n++
		}
	}
	return n, nil
}

// update applies fn when cond holds and returns the updated copy, or nil.
func (m *MemoryStore) update(id string, cond func(*models.ContentItem) bool, fn func(*models.ContentItem)) *models.ContentItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !cond(item) {
		return nil
	}
	fn(item)
	item.UpdatedAt = time.Now().UTC()
	return clone(item)
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id string, progress int) (bool, error) {
	updated := m.update(id,
		func(it *models.ContentItem) bool { return inFlight(it) && it.Progress <= progress },
		func(it *models.ContentItem) { it.Progress = progress })
	return updated != nil, nil
}

func (m *MemoryStore) CompleteItem(_ context.Context, id, summary, contextString string) (bool, error) {
	updated := m.update(id, inFlight, func(it *models.ContentItem) {
		it.Progress = models.ProgressReady
		it.Summary = summary
		it.ContextString = contextString
	})
	return updated != nil, nil
}

func (m *MemoryStore) FailItem(_ context.Context, id string) (bool, error) {
	updated := m.update(id, inFlight, func(it *models.ContentItem) {
		it.Progress = models.ProgressFailed
	})
	return updated != nil, nil
}

func (m *MemoryStore) ReopenItem(_ context.Context, id string, length int64) (*models.ContentItem, error) {
	return m.update(id,
		func(it *models.ContentItem) bool { return it.Progress == models.ProgressReady },
		func(it *models.ContentItem) {
			it.Progress = models.ProgressQueued
			it.Length = length
			it.Summary = ""
			it.ContextString = ""
			it.MapCreated = false
			it.MapArtifactRef = ""
		}), nil
}

func (m *MemoryStore) AttachChild(_ context.Context, parentID, childID, url string) error {
	updated := m.update(parentID,
		func(*models.ContentItem) bool { return true },
		func(it *models.ContentItem) {
			it.IsParent = true
			it.Children = append(it.Children, childID)
			it.URLs = append(it.URLs, url)
		})
	if updated == nil {
		return fmt.Errorf("attach child: parent %s: %w", parentID, ErrNotFound)
	}
	return nil
}

func (m *MemoryStore) DetachChild(_ context.Context, parentID, childID, url string) error {
	m.update(parentID,
		func(*models.ContentItem) bool { return true },
		func(it *models.ContentItem) {
			it.Children = slices.DeleteFunc(it.Children, func(c string) bool { return c == childID })
			it.URLs = slices.DeleteFunc(it.URLs, func(u string) bool { return u == url })
		})
	return nil
}

func (m *MemoryStore) SetMapArtifact(_ context.Context, id, ref string) (bool, error) {
	updated := m.update(id,
		func(it *models.ContentItem) bool { return it.Progress == models.ProgressReady && !it.MapCreated },
		func(it *models.ContentItem) {
			it.MapCreated = true
			it.MapArtifactRef = ref
		})
	return updated != nil, nil
}

func (m *MemoryStore) ClearMapArtifact(_ context.Context, id string) error {
	m.update(id,
		func(*models.ContentItem) bool { return true },
		func(it *models.ContentItem) {
			it.MapCreated = false
			it.MapArtifactRef = ""
		})
	return nil
}

func (m *MemoryStore) DeleteItems(_ context.Context, ids ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := m.items[id]; ok {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// PutChunks stores vector entries under their owning item.
func (m *MemoryStore) PutChunks(_ context.Context, tenantID string, entries []models.VectorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		e.TenantID = tenantID
		m.vectors[e.ItemID] = append(m.vectors[e.ItemID], e)
	}
	return nil
}

func (m *MemoryStore) DeleteChunks(_ context.Context, tenantID string, itemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range itemIDs {
		m.vectors[id] = slices.DeleteFunc(m.vectors[id], func(e models.VectorEntry) bool {
			return e.TenantID == tenantID
		})
		if len(m.vectors[id]) == 0 {
			delete(m.vectors, id)
		}
	}
	return nil
}

func (m *MemoryStore) CountChunks(_ context.Context, tenantID, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.vectors[itemID] {
		if e.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// TenantChunks counts every vector entry stored for tenantID.
func (m *MemoryStore) TenantChunks(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, entries := range m.vectors {
		for _, e := range entries {
			if e.TenantID == tenantID {
				n++
			}
		}
	}
	return n
}
