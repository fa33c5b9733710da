package parser

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// ProgressFunc receives early progress checkpoints from long extractions.
type ProgressFunc func(progress int)

// Input is the raw material handed to an adapter.
type Input struct {
	Format Format
	Name   string // filename or URL
	Data   []byte // file bytes, page text, or DOM html

	// API recordings only.
	Payload  string
	Response string
}

// Result holds either document units or a tabular frame.
type Result struct {
	Units []models.Unit
	Frame *models.Frame
}

// Columns returns the frame's column names, or nil for document results.
func (r *Result) Columns() []string {
	if r.Frame == nil {
		return nil
	}
	return r.Frame.Columns
}

// Extract runs the adapter for in.Format. onProgress may be nil.
func Extract(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch in.Format {
	case FormatCSV:
		frame, err := ReadCSV(in.Data)
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Frame: frame}, nil

	case FormatSpreadsheet:
		frame, err := ReadSpreadsheet(in.Data)
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Frame: frame}, nil

	case FormatPDF:
		units, err := ReadPDF(ctx, in.Data, onProgress)
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Units: units}, nil

	case FormatText:
		units, err := ReadText(in.Data, DefaultChunkConfig())
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Units: units}, nil

	case FormatWebPage:
		unit, err := PageUnit(in.Name, string(in.Data))
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Units: []models.Unit{unit}}, nil

	case FormatRecording:
		return &Result{Units: []models.Unit{RecordingUnit(in.Name, in.Payload, in.Response)}}, nil

	case FormatDOM:
		units, err := ReadDOM(in.Name, in.Data)
		if err != nil {
			return nil, extractionError(in.Name, err)
		}
		return &Result{Units: units}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.Format)
}
