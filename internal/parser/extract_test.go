package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/parser/parsertest"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    Format
		wantErr bool
	}{
		{"pdf", "report.PDF", FormatPDF, false},
		{"csv", "sales.csv", FormatCSV, false},
		{"xls", "legacy.xls", FormatSpreadsheet, false},
		{"xlsx", "book.xlsx", FormatSpreadsheet, false},
		{"markdown", "notes.md", FormatText, false},
		{"text", "readme.txt", FormatText, false},
		{"docx", "letter.docx", "", true},
		{"no extension", "Makefile", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.file)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllowsMap(t *testing.T) {
	assert.True(t, AllowsMap("CSV"))
	assert.True(t, AllowsMap("xlsx"))
	assert.False(t, AllowsMap("pdf"))
	assert.Equal(t, "xlsx", FileType("Book.XLSX"))
}

func TestExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("csv yields frame", func(t *testing.T) {
		res, err := Extract(ctx, Input{Format: FormatCSV, Name: "a.csv", Data: []byte("x,y\n1,2\n")}, nil)
		require.NoError(t, err)
		require.NotNil(t, res.Frame)
		assert.Empty(t, res.Units)
		assert.Equal(t, []string{"x", "y"}, res.Columns())
	})

	t.Run("recording yields one unit", func(t *testing.T) {
		res, err := Extract(ctx, Input{Format: FormatRecording, Name: "https://a.io/x", Payload: "p", Response: "r"}, nil)
		require.NoError(t, err)
		require.Len(t, res.Units, 1)
		assert.Nil(t, res.Columns())
	})

	t.Run("pdf reports progress at half the pages", func(t *testing.T) {
		var reported []int
		res, err := Extract(ctx, Input{Format: FormatPDF, Name: "two.pdf", Data: parsertest.PDF("alpha page", "beta page")}, func(p int) {
			reported = append(reported, p)
		})
		require.NoError(t, err)
		require.Len(t, res.Units, 2)
		assert.Contains(t, res.Units[0].Text, "alpha")
		assert.Equal(t, 2, res.Units[1].Metadata["page"])
		assert.Equal(t, []int{30}, reported)
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		_, err := Extract(ctx, Input{Format: FormatPDF, Name: "bad.pdf", Data: []byte("%PDF-garbage")}, nil)
		assert.True(t, errors.Is(err, ErrExtractionFailed))
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := Extract(ctx, Input{Format: FormatText, Name: "e.md"}, nil)
		assert.True(t, errors.Is(err, ErrExtractionFailed))
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := Extract(ctx, Input{Format: "docx"}, nil)
		assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Extract(cctx, Input{Format: FormatCSV, Data: []byte("a\n1\n")}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
