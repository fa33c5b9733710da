package models

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var (
	tableNameStrip = regexp.MustCompile(`[^a-zA-Z0-9 ]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// FormatTableName turns an uploaded filename into a relational table name:
// extension dropped, non-alphanumerics removed, lowercased, whitespace runs
// collapsed to underscores.
func FormatTableName(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = tableNameStrip.ReplaceAllString(stem, "")
	stem = strings.ToLower(strings.TrimSpace(stem))
	stem = whitespaceRun.ReplaceAllString(stem, "_")
	if stem == "" {
		return "table"
	}
	return stem
}

// QualifiedTableName scopes a formatted table name to its tenant.
func QualifiedTableName(tenantID, filename string) string {
	return tenantID + "/" + FormatTableName(filename)
}
