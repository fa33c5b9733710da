package models

// Feature names a metered tenant capability.
type Feature string

const (
	FeatureUploadFiles  Feature = "upload files"
	FeatureCrawlWebsite Feature = "crawl website"
)

// Unbounded is the limit value that disables the count check.
const Unbounded = -1

// Tenant is the entitlement record read from the tenant directory.
type Tenant struct {
	ID            string          `yaml:"id" json:"id"`
	Active        bool            `yaml:"active" json:"active"`
	AutoCreateMap bool            `yaml:"autoCreateMap" json:"autoCreateMap"`
	Features      map[Feature]int `yaml:"features" json:"features"`
}

// QuotaSnapshot is a read-only view of a tenant's entitlements and usage,
// taken at admission time.
type QuotaSnapshot struct {
	TenantID        string
	Active          bool
	AutoCreateMap   bool
	EnabledFeatures map[Feature]bool
	Limits          map[Feature]int
	Usage           map[Feature]int
}

// UsageKinds maps each feature to the item kinds that consume it.
var UsageKinds = map[Feature][]Kind{
	FeatureUploadFiles:  {KindFile},
	FeatureCrawlWebsite: {KindWebsiteRoot},
}
