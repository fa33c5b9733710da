// Package quota decides whether a tenant may start a new ingestion.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/contextbase/internal/models"
)

var (
	// ErrAdmissionDenied is matched by every *DeniedError.
	ErrAdmissionDenied = errors.New("admission denied")

	ErrUnknownTenant = errors.New("unknown tenant")
)

// Denial reasons, returned verbatim to API callers.
const (
	MsgInactive   = "Plug is not active"
	MsgNoFeature  = "This plug doesn't have that feature"
	msgLimitFmt   = "You have reached the %s limit"
	msgUnknownFmt = "Unknown plug %s"
)

// DeniedError carries the user-facing reason for a refused admission.
type DeniedError struct {
	Feature models.Feature
	Reason  string
}

func (e *DeniedError) Error() string { return e.Reason }

func (e *DeniedError) Is(target error) bool { return target == ErrAdmissionDenied }

// UsageCounter counts a tenant's items of the given kinds.
type UsageCounter interface {
	CountByKinds(ctx context.Context, tenantID string, kinds []models.Kind) (int, error)
}

// Guard authorizes admissions against the tenant directory and current usage.
type Guard struct {
	dir    TenantDirectory
	usage  UsageCounter
	logger *slog.Logger
}

func NewGuard(dir TenantDirectory, usage UsageCounter, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{dir: dir, usage: usage, logger: logger}
}

// Snapshot reads the tenant's entitlements and current usage.
func (g *Guard) Snapshot(ctx context.Context, tenantID string) (*models.QuotaSnapshot, error) {
	t, err := g.dir.Tenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			return nil, &DeniedError{Reason: fmt.Sprintf(msgUnknownFmt, tenantID)}
		}
		return nil, err
	}

	snap := &models.QuotaSnapshot{
		TenantID:        t.ID,
		Active:          t.Active,
		AutoCreateMap:   t.AutoCreateMap,
		EnabledFeatures: make(map[models.Feature]bool, len(t.Features)),
		Limits:          make(map[models.Feature]int, len(t.Features)),
		Usage:           make(map[models.Feature]int, len(t.Features)),
	}
	for f, limit := range t.Features {
		snap.EnabledFeatures[f] = true
		snap.Limits[f] = limit

		kinds, ok := models.UsageKinds[f]
		if !ok {
			continue
		}
		n, err := g.usage.CountByKinds(ctx, tenantID, kinds)
		if err != nil {
			return nil, fmt.Errorf("count usage for %q: %w", f, err)
		}
		snap.Usage[f] = n
	}
	return snap, nil
}

// Authorize returns the fresh snapshot when the tenant may use feature, or a
// *DeniedError explaining why not.
func (g *Guard) Authorize(ctx context.Context, tenantID string, feature models.Feature) (*models.QuotaSnapshot, error) {
	snap, err := g.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := Check(snap, feature); err != nil {
		g.logger.Info("admission denied", "tenant", tenantID, "feature", feature, "reason", err.Error())
		return nil, err
	}
	return snap, nil
}

// AuthorizeEntitlement is Authorize without the usage limit, for requests
// that extend an existing item instead of creating a counted one.
func (g *Guard) AuthorizeEntitlement(ctx context.Context, tenantID string, feature models.Feature) (*models.QuotaSnapshot, error) {
	snap, err := g.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := CheckEntitlement(snap, feature); err != nil {
		g.logger.Info("admission denied", "tenant", tenantID, "feature", feature, "reason", err.Error())
		return nil, err
	}
	return snap, nil
}

// CheckEntitlement applies, in order: tenant active, feature enabled.
func CheckEntitlement(snap *models.QuotaSnapshot, feature models.Feature) error {
	if !snap.Active {
		return &DeniedError{Feature: feature, Reason: MsgInactive}
	}
	if !snap.EnabledFeatures[feature] {
		return &DeniedError{Feature: feature, Reason: MsgNoFeature}
	}
	return nil
}

// Check applies, in order: tenant active, feature enabled, usage below limit.
func Check(snap *models.QuotaSnapshot, feature models.Feature) error {
	if err := CheckEntitlement(snap, feature); err != nil {
		return err
	}
	limit := snap.Limits[feature]
	if limit != models.Unbounded && snap.Usage[feature] >= limit {
		return &DeniedError{Feature: feature, Reason: fmt.Sprintf(msgLimitFmt, feature)}
	}
	return nil
}
