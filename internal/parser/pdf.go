package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// ReadPDF extracts one unit per page with text. For documents of two or more
// pages, onProgress(30) fires once when page pages/2 is reached.
func ReadPDF(ctx context.Context, data []byte, onProgress ProgressFunc) (units []models.Unit, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty pdf")
	}

	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	half := pages / 2
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pages >= 2 && i-1 == half {
			onProgress(models.ProgressEarly)
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		units = append(units, models.Unit{
			Text:     text,
			Position: len(units),
			Metadata: map[string]any{"page": i},
		})
	}

	if len(units) == 0 {
		return nil, errors.New("pdf has no extractable text")
	}
	return units, nil
}
