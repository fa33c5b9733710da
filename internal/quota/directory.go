package quota

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// TenantDirectory resolves tenant entitlements.
type TenantDirectory interface {
	Tenant(ctx context.Context, id string) (*models.Tenant, error)
}

type directoryFile struct {
	Tenants []models.Tenant `yaml:"tenants"`
}

// FileDirectory reads tenants from a YAML file and reloads it whenever the
// file's modification time changes.
type FileDirectory struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	tenants map[string]models.Tenant
}

// NewFileDirectory loads the tenants file at path.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Tenant returns a copy of the tenant record, or ErrUnknownTenant.
func (d *FileDirectory) Tenant(_ context.Context, id string) (*models.Tenant, error) {
	if err := d.refresh(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	features := make(map[models.Feature]int, len(t.Features))
	for k, v := range t.Features {
		features[k] = v
	}
	t.Features = features
	return &t, nil
}

func (d *FileDirectory) refresh() error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("stat tenants file: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tenants != nil && info.ModTime().Equal(d.modTime) {
		return nil
	}

	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read tenants file: %w", err)
	}
	var f directoryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse tenants file: %w", err)
	}

	tenants := make(map[string]models.Tenant, len(f.Tenants))
	for _, t := range f.Tenants {
		if t.ID == "" {
			return fmt.Errorf("parse tenants file: tenant without id")
		}
		tenants[t.ID] = t
	}
	d.tenants = tenants
	d.modTime = info.ModTime()
	return nil
}

// StaticDirectory is an in-memory directory, mainly for tests.
type StaticDirectory map[string]models.Tenant

func (s StaticDirectory) Tenant(_ context.Context, id string) (*models.Tenant, error) {
	t, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return &t, nil
}
