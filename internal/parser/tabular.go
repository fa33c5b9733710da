package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// ReadCSV parses a CSV upload into a normalized frame. Quotes are read
// leniently and rows may have differing field counts.
func ReadCSV(data []byte) (*models.Frame, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return normalizeFrame(records)
}

// ReadSpreadsheet parses the first sheet of an xlsx/xls workbook.
func ReadSpreadsheet(data []byte) (*models.Frame, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return normalizeFrame(rows)
}

// normalizeFrame takes the first non-blank record as header, cleans header
// and cell values, drops blank rows and any "index" column, and pads or
// truncates every row to the header width.
func normalizeFrame(records [][]string) (*models.Frame, error) {
	start := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, errors.New("no header row")
	}

	header := records[start]
	keep := make([]int, 0, len(header))
	columns := make([]string, 0, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := cleanCell(h)
		if strings.EqualFold(name, "index") {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		keep = append(keep, i)
		columns = append(columns, name)
	}
	if len(columns) == 0 {
		return nil, errors.New("no usable columns")
	}

	frame := &models.Frame{Columns: columns}
	for _, rec := range records[start+1:] {
		if blankRecord(rec) {
			continue
		}
		row := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(rec) {
				row[j] = cleanCell(rec[idx])
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// cleanCell removes every double quote and any single quotes wrapping the
// value, then trims whitespace.
func cleanCell(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "'")
	return strings.TrimSpace(s)
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if cleanCell(v) != "" {
			return false
		}
	}
	return true
}
