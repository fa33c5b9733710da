package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/models"
)

type fakeUsage map[models.Kind]int

func (f fakeUsage) CountByKinds(_ context.Context, _ string, kinds []models.Kind) (int, error) {
	n := 0
	for _, k := range kinds {
		n += f[k]
	}
	return n, nil
}

func TestCheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		snap    models.QuotaSnapshot
		feature models.Feature
		want    string
	}{
		{
			name:    "inactive wins over everything",
			snap:    models.QuotaSnapshot{Active: false},
			feature: models.FeatureUploadFiles,
			want:    MsgInactive,
		},
		{
			name:    "feature not enabled",
			snap:    models.QuotaSnapshot{Active: true, EnabledFeatures: map[models.Feature]bool{}},
			feature: models.FeatureCrawlWebsite,
			want:    MsgNoFeature,
		},
		{
			name: "limit reached",
			snap: models.QuotaSnapshot{
				Active:          true,
				EnabledFeatures: map[models.Feature]bool{models.FeatureCrawlWebsite: true},
				Limits:          map[models.Feature]int{models.FeatureCrawlWebsite: 3},
				Usage:           map[models.Feature]int{models.FeatureCrawlWebsite: 3},
			},
			feature: models.FeatureCrawlWebsite,
			want:    "You have reached the crawl website limit",
		},
		{
			name: "below limit",
			snap: models.QuotaSnapshot{
				Active:          true,
				EnabledFeatures: map[models.Feature]bool{models.FeatureUploadFiles: true},
				Limits:          map[models.Feature]int{models.FeatureUploadFiles: 3},
				Usage:           map[models.Feature]int{models.FeatureUploadFiles: 2},
			},
			feature: models.FeatureUploadFiles,
		},
		{
			name: "unbounded",
			snap: models.QuotaSnapshot{
				Active:          true,
				EnabledFeatures: map[models.Feature]bool{models.FeatureUploadFiles: true},
				Limits:          map[models.Feature]int{models.FeatureUploadFiles: models.Unbounded},
				Usage:           map[models.Feature]int{models.FeatureUploadFiles: 10000},
			},
			feature: models.FeatureUploadFiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(&tt.snap, tt.feature)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAdmissionDenied))
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestGuardAuthorize(t *testing.T) {
	dir := StaticDirectory{
		"acme": {
			ID:     "acme",
			Active: true,
			Features: map[models.Feature]int{
				models.FeatureUploadFiles:  5,
				models.FeatureCrawlWebsite: 1,
			},
		},
	}
	usage := fakeUsage{models.KindFile: 2, models.KindWebsiteRoot: 1, models.KindWebsitePage: 40}
	g := NewGuard(dir, usage, nil)
	ctx := context.Background()

	snap, err := g.Authorize(ctx, "acme", models.FeatureUploadFiles)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Usage[models.FeatureUploadFiles])
	assert.Equal(t, 1, snap.Usage[models.FeatureCrawlWebsite], "pages do not count against crawls")

	_, err = g.Authorize(ctx, "acme", models.FeatureCrawlWebsite)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, models.FeatureCrawlWebsite, denied.Feature)

	_, err = g.Authorize(ctx, "nobody", models.FeatureUploadFiles)
	assert.ErrorIs(t, err, ErrAdmissionDenied)

	_, err = g.AuthorizeEntitlement(ctx, "acme", models.FeatureCrawlWebsite)
	assert.NoError(t, err, "entitlement ignores the limit")
}

func TestAuthorizeEntitlementDenied(t *testing.T) {
	dir := StaticDirectory{
		"idle": {ID: "idle", Active: false, Features: map[models.Feature]int{models.FeatureCrawlWebsite: -1}},
		"docs": {ID: "docs", Active: true, Features: map[models.Feature]int{models.FeatureUploadFiles: -1}},
	}
	g := NewGuard(dir, fakeUsage{}, nil)
	ctx := context.Background()

	_, err := g.AuthorizeEntitlement(ctx, "idle", models.FeatureCrawlWebsite)
	require.Error(t, err)
	assert.Equal(t, MsgInactive, err.Error())

	_, err = g.AuthorizeEntitlement(ctx, "docs", models.FeatureCrawlWebsite)
	require.Error(t, err)
	assert.Equal(t, MsgNoFeature, err.Error())
}

func TestFileDirectoryReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	write := func(content string, mod time.Time) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	base := time.Now().Add(-time.Hour)
	write(`tenants:
  - id: acme
    active: true
    autoCreateMap: true
    features:
      upload files: 10
      crawl website: -1
`, base)

	dir, err := NewFileDirectory(path)
	require.NoError(t, err)

	tenant, err := dir.Tenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, tenant.AutoCreateMap)
	assert.Equal(t, 10, tenant.Features[models.FeatureUploadFiles])
	assert.Equal(t, models.Unbounded, tenant.Features[models.FeatureCrawlWebsite])

	write(`tenants:
  - id: acme
    active: false
`, base.Add(time.Minute))

	tenant, err = dir.Tenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, tenant.Active)

	_, err = dir.Tenant(context.Background(), "other")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestFileDirectoryInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  - active: true\n"), 0o600))

	_, err := NewFileDirectory(path)
	assert.Error(t, err)

	_, err = NewFileDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
