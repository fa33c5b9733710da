// Package mapgen renders 2-D embedding maps of structured items.
package mapgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/raphaelgruber/contextbase/internal/models"
)

// ErrArtifactGenerationFailed wraps any failure while building a map.
var ErrArtifactGenerationFailed = errors.New("map generation failed")

const maxLabelRunes = 40

// Embedder turns records into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ArtifactStore persists rendered maps.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Generator builds and stores map artifacts.
type Generator struct {
	embedder  Embedder
	artifacts ArtifactStore
	logger    *slog.Logger
}

func New(embedder Embedder, artifacts ArtifactStore, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{embedder: embedder, artifacts: artifacts, logger: logger}
}

// ArtifactKey is the object key of an item's map.
func ArtifactKey(tenantID, itemID string) string {
	return fmt.Sprintf("maps/%s/%s.png", tenantID, itemID)
}

// Generate embeds the frame's representative records, projects them to two
// dimensions, renders a labelled scatter and stores it. It returns the
// artifact reference.
func (g *Generator) Generate(ctx context.Context, tenantID string, item *models.ContentItem, frame *models.Frame) (string, error) {
	records := RepresentativeRecords(frame)
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s has no values", ErrArtifactGenerationFailed, item.ID)
	}

	vectors, err := g.embedder.EmbedBatch(ctx, records)
	if err != nil {
		return "", fmt.Errorf("%w: embed records: %w", ErrArtifactGenerationFailed, err)
	}

	points, err := Project(vectors)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArtifactGenerationFailed, err)
	}

	png, err := Render(item.Source, records, points)
	if err != nil {
		return "", fmt.Errorf("%w: render: %w", ErrArtifactGenerationFailed, err)
	}

	ref, err := g.artifacts.Put(ctx, ArtifactKey(tenantID, item.ID), "image/png", png)
	if err != nil {
		return "", fmt.Errorf("%w: store: %w", ErrArtifactGenerationFailed, err)
	}

	g.logger.Info("map created", "item", item.ID, "tenant", tenantID, "points", len(points), "bytes", len(png))
	return ref, nil
}

// RepresentativeRecords returns, per column, the first non-empty value
// rendered as `"column" : value`. Columns without values are skipped.
func RepresentativeRecords(frame *models.Frame) []string {
	if frame == nil {
		return nil
	}
	var out []string
	for c, col := range frame.Columns {
		for _, row := range frame.Rows {
			if c < len(row) && strings.TrimSpace(row[c]) != "" {
				out = append(out, fmt.Sprintf("%q : %s", col, row[c]))
				break
			}
		}
	}
	return out
}

// Project reduces vectors to their first two principal components.
// Missing components are zero.
func Project(vectors [][]float32) (plotter.XYs, error) {
	n := len(vectors)
	if n == 0 {
		return nil, errors.New("no vectors to project")
	}
	d := len(vectors[0])
	if d == 0 {
		return nil, errors.New("empty vectors")
	}

	x := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), d)
		}
		for j, f := range v {
			x.Set(i, j, float64(f))
		}
	}

	// Center columns.
	for j := 0; j < d; j++ {
		var mean float64
		for i := 0; i < n; i++ {
			mean += x.At(i, j)
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}

	points := make(plotter.XYs, n)
	if n == 1 {
		return points, nil
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, errors.New("svd did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	_, k := v.Dims()
	if k > 2 {
		k = 2
	}
	var proj mat.Dense
	proj.Mul(x, v.Slice(0, d, 0, k))

	for i := 0; i < n; i++ {
		points[i].X = proj.At(i, 0)
		if k > 1 {
			points[i].Y = proj.At(i, 1)
		}
	}
	return points, nil
}

// Render draws a labelled scatter plot as PNG.
func Render(title string, labels []string, points plotter.XYs) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "PC1"
	p.Y.Label.Text = "PC2"

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return nil, err
	}
	p.Add(scatter)

	short := make([]string, len(labels))
	for i, l := range labels {
		short[i] = truncate(l, maxLabelRunes)
	}
	lbls, err := plotter.NewLabels(plotter.XYLabels{XYs: points, Labels: short})
	if err != nil {
		return nil, err
	}
	p.Add(lbls)

	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
