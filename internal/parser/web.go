package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/raphaelgruber/contextbase/internal/models"
)

const (
	domChunkSize    = 4096
	domChunkOverlap = 200
)

// PageUnit wraps one crawled page's text as a unit tagged with its url.
func PageUnit(url, text string) (models.Unit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Unit{}, errors.New("page has no text")
	}
	return models.Unit{Text: text, Metadata: map[string]any{"url": url}}, nil
}

// RecordingUnit renders a recorded API exchange as a single unit.
func RecordingUnit(url, payload, response string) models.Unit {
	return models.Unit{
		Text:     fmt.Sprintf("payload: %s; response: %s; url: %s", payload, response, url),
		Metadata: map[string]any{"url": url},
	}
}

// ReadDOM strips scripts and styles from captured html, then splits the
// visible text into overlapping windows, each suffixed with its url.
func ReadDOM(url string, html []byte) ([]models.Unit, error) {
	text, err := VisibleText(html)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, errors.New("snapshot has no visible text")
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(domChunkSize),
		textsplitter.WithChunkOverlap(domChunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	units := make([]models.Unit, 0, len(chunks))
	for _, c := range chunks {
		units = append(units, models.Unit{
			Text:     fmt.Sprintf("%s, from url: %s", c, url),
			Position: len(units),
			Metadata: map[string]any{"url": url},
		})
	}
	return units, nil
}

// VisibleText returns the whitespace-normalized body text of an html
// document with script, style and noscript nodes removed.
func VisibleText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}
