package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/contextbase/internal/models"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

type fakeLLM struct {
	lastMessages []llms.MessageContent
	reply        string
	err          error
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.lastMessages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt)
}

func promptText(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestSummarizeDocuments(t *testing.T) {
	fake := &fakeLLM{reply: "  # Title\n## Sub\nbody  "}
	m := NewModelFrom(fake, "test")

	out, err := m.SummarizeDocuments(context.Background(), []string{"page one", "page two"})
	require.NoError(t, err)
	assert.Equal(t, "# Title\n## Sub\nbody", out)

	require.Len(t, fake.lastMessages, 2)
	assert.Equal(t, documentPrompt, promptText(fake.lastMessages[0]))
	assert.Equal(t, "page one\n\npage two", promptText(fake.lastMessages[1]))
}

func TestSummarizeTable(t *testing.T) {
	fake := &fakeLLM{reply: "table summary"}
	m := NewModelFrom(fake, "test")
	frame := &models.Frame{
		Columns: []string{"city", "pop"},
		Rows:    [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}},
	}

	out, err := m.SummarizeTable(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "table summary", out)

	prompt := promptText(fake.lastMessages[0])
	assert.Contains(t, prompt, "city, pop")
	assert.Contains(t, prompt, "c\t3")
	assert.NotContains(t, prompt, "d\t4", "only the first rows are sent")
}

func TestSummarizeFailures(t *testing.T) {
	m := NewModelFrom(&fakeLLM{err: errors.New("HTTP 401: bad key")}, "test")

	_, err := m.SummarizeDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrSummarizationFailed)
	assert.ErrorIs(t, err, ErrFatalAPI)

	_, err = m.SummarizeDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSummarizationFailed)
}
