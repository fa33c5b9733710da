package parser

import (
	"bufio"
	"errors"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/contextbase/internal/models"
)

var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// TextDoc is a markdown or plain-text document split by headings.
type TextDoc struct {
	Meta     map[string]any
	Title    string
	Body     string
	Sections []Section
}

// Section is the text under one heading. Path joins the enclosing headings
// with " > ".
type Section struct {
	Level   int
	Heading string
	Path    string
	Text    string
}

// ParseText splits a markdown document into its frontmatter and sections.
// Text before the first heading becomes a level-0 section with an empty path.
func ParseText(content string) *TextDoc {
	doc := &TextDoc{Meta: map[string]any{}}
	body := strings.ReplaceAll(content, "\r\n", "\n")

	if rest, ok := strings.CutPrefix(body, "---\n"); ok {
		if end := strings.Index(rest, "\n---"); end >= 0 {
			if err := yaml.Unmarshal([]byte(rest[:end]), &doc.Meta); err != nil {
				doc.Meta = map[string]any{}
			}
			body = strings.TrimPrefix(rest[end+len("\n---"):], "\n")
		}
	}

	doc.Body = body
	doc.Sections = splitSections(body)
	doc.Title = docTitle(doc.Meta, doc.Sections)
	return doc
}

func docTitle(meta map[string]any, sections []Section) string {
	if t, ok := meta["title"].(string); ok && t != "" {
		return t
	}
	for _, s := range sections {
		if s.Level == 1 {
			return s.Heading
		}
	}
	return ""
}

func splitSections(body string) []Section {
	var (
		sections []Section
		stack    []string // heading text by level-1
		cur      = Section{}
		buf      strings.Builder
		inFence  bool
	)

	flush := func() {
		cur.Text = strings.TrimSpace(buf.String())
		if cur.Text != "" || cur.Heading != "" {
			sections = append(sections, cur)
		}
		buf.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		m := headingLine.FindStringSubmatch(line)
		if m == nil || inFence {
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		flush()
		level := len(m[1])
		for len(stack) < level {
			stack = append(stack, "")
		}
		stack = append(stack[:level-1], m[2])
		path := make([]string, 0, level)
		for _, h := range stack {
			if h != "" {
				path = append(path, h)
			}
		}
		cur = Section{Level: level, Heading: m[2], Path: strings.Join(path, " > ")}
	}
	flush()
	return sections
}

// ReadText parses a markdown or plain-text upload and chunks it into units
// tagged with heading_path.
func ReadText(data []byte, cfg ChunkConfig) ([]models.Unit, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.New("empty document")
	}
	doc := ParseText(string(data))
	chunks := Chunk(doc, cfg)

	units := make([]models.Unit, 0, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{"position": i}
		if c.HeadingPath != "" {
			meta["heading_path"] = c.HeadingPath
		}
		if doc.Title != "" {
			meta["title"] = doc.Title
		}
		units = append(units, models.Unit{Text: c.Text, Position: i, Metadata: meta})
	}
	if len(units) == 0 {
		return nil, errors.New("no text content")
	}
	return units, nil
}
