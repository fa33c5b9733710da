package parser

import (
	"strings"
	"unicode"
)

// TextChunk is one piece of a chunked document.
type TextChunk struct {
	Text        string
	HeadingPath string
}

// ChunkConfig controls how documents are split.
type ChunkConfig struct {
	Threshold int // documents at or below this length stay whole
	MinSize   int // smaller sections merge into the previous chunk
	MaxSize   int // larger sections split at paragraphs, then sentences
	Overlap   int // characters carried from the previous chunk
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold: 1500,
		MinSize:   200,
		MaxSize:   1000,
		Overlap:   100,
	}
}

// Chunk splits a parsed document by section, then by paragraph and sentence
// for oversized sections. Empty documents yield no chunks.
func Chunk(doc *TextDoc, cfg ChunkConfig) []TextChunk {
	body := strings.TrimSpace(doc.Body)
	if body == "" {
		return nil
	}
	if len(body) <= cfg.Threshold {
		return []TextChunk{{Text: body}}
	}

	var out []TextChunk
	for _, s := range doc.Sections {
		text := s.Text
		if s.Heading != "" {
			text = strings.TrimSpace(s.Heading + "\n\n" + s.Text)
		}
		if text == "" {
			continue
		}

		if len(text) <= cfg.MaxSize {
			if len(text) < cfg.MinSize && len(out) > 0 {
				out[len(out)-1].Text += "\n\n" + text
				continue
			}
			out = append(out, TextChunk{Text: text, HeadingPath: s.Path})
			continue
		}

		for _, piece := range splitParagraphs(text, cfg.MaxSize) {
			out = append(out, TextChunk{Text: piece, HeadingPath: s.Path})
		}
	}
	return withOverlap(out, cfg.Overlap)
}

// splitParagraphs packs paragraphs into pieces of at most max bytes, falling
// back to sentence packing for single oversized paragraphs.
func splitParagraphs(text string, max int) []string {
	var (
		out []string
		cur strings.Builder
	)
	emit := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > max {
			emit()
			out = append(out, packSentences(para, max)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > max {
			emit()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	emit()
	return out
}

func packSentences(text string, max int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, s := range sentences(text) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(s)+1 > max {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// sentences splits on terminal punctuation followed by whitespace. A single
// uppercase letter before the period ("J. Smith") does not end a sentence.
func sentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && i >= 1 && unicode.IsUpper(runes[i-1]) && (i == 1 || unicode.IsSpace(runes[i-2])) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func withOverlap(chunks []TextChunk, overlap int) []TextChunk {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]TextChunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		prev := chunks[i-1].Text
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		sp := strings.IndexByte(tail, ' ')
		if sp < 0 || sp == len(tail)-1 {
			continue
		}
		out[i].Text = tail[sp+1:] + " " + out[i].Text
	}
	return out
}
