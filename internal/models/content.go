package models

// Unit is an atomic piece of extracted text with its position metadata.
type Unit struct {
	Text     string         `json:"text"`
	Position int            `json:"position"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Frame is a normalized tabular value.
type Frame struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Head returns a frame holding at most n rows.
func (f *Frame) Head(n int) *Frame {
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// VectorEntry is one embedded unit stored in a tenant's vector collection.
type VectorEntry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	ItemID    string         `json:"itemId"`
	Content   string         `json:"content"`
	Position  int            `json:"position"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding"`
}
