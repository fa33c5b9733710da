// Package parser normalizes raw uploads, crawled pages, API recordings and
// DOM snapshots into content units or tabular frames.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors for extraction. Use errors.Is() to check for these.
var (
	// ErrUnsupportedFormat indicates the extension or kind has no adapter.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrExtractionFailed indicates an empty or corrupt payload.
	ErrExtractionFailed = errors.New("extraction failed")
)

// Format identifies the adapter used for an input.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
	FormatText        Format = "text"
	FormatWebPage     Format = "web_page"
	FormatRecording   Format = "api_recording"
	FormatDOM         Format = "dom_snapshot"
)

var extensionFormats = map[string]Format{
	".pdf":      FormatPDF,
	".csv":      FormatCSV,
	".xls":      FormatSpreadsheet,
	".xlsx":     FormatSpreadsheet,
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
}

// mapFileTypes are the file types a visualization may be generated for.
var mapFileTypes = map[string]bool{"csv": true, "xls": true, "xlsx": true}

// DetectFormat resolves the adapter for an uploaded filename.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// FileType returns the lowercase extension without the dot.
func FileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Tabular reports whether the format yields a frame instead of units.
func (f Format) Tabular() bool {
	return f == FormatCSV || f == FormatSpreadsheet
}

// AllowsMap reports whether a file type supports map generation.
func AllowsMap(fileType string) bool {
	return mapFileTypes[strings.ToLower(fileType)]
}

func extractionError(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExtractionFailed, source, err)
}
