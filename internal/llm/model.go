package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/contextbase/internal/config"
	"github.com/raphaelgruber/contextbase/internal/models"
)

var (
	// ErrFatalAPI marks provider errors that retrying will not fix:
	// exhausted credit, bad credentials, rate limits.
	ErrFatalAPI = errors.New("fatal provider error")

	ErrSummarizationFailed = errors.New("summarization failed")
)

const (
	documentPrompt = "Summarize these documents in under 300 words, must have 1 title and 1 subtitle, respond in markdown format"
	tablePrompt    = "Summarize this table in under 300 words, only the first 3 rows is given for reference but there are more rows: %s\n%s, must have 1 title and 1 subtitle, respond in markdown format"

	summaryRows = 3
)

// Model generates summaries with a langchaingo chat model.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates a model for cfg.LLMProvider.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)

	case config.ProviderBedrock:
		awsCfg, cerr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if cerr != nil {
			return nil, fmt.Errorf("load aws config: %w", cerr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.LLMProvider, err)
	}

	return NewModelFrom(model, cfg.LLMModel), nil
}

// NewModelFrom wraps an existing langchaingo model.
func NewModelFrom(model llms.Model, name string) *Model {
	return &Model{llm: model, modelName: name}
}

func (m *Model) Model() string { return m.modelName }

// GenerateWithSystem runs one system + user exchange.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices")
	}
	return resp.Choices[0].Content, nil
}

// SummarizeDocuments summarizes the given text units as markdown.
func (m *Model) SummarizeDocuments(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("%w: no documents", ErrSummarizationFailed)
	}
	out, err := m.GenerateWithSystem(ctx, documentPrompt, strings.Join(texts, "\n\n"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	return strings.TrimSpace(out), nil
}

// SummarizeTable summarizes a table from its columns and first rows.
func (m *Model) SummarizeTable(ctx context.Context, frame *models.Frame) (string, error) {
	prompt := fmt.Sprintf(tablePrompt, strings.Join(frame.Columns, ", "), renderRows(frame.Head(summaryRows)))
	out, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, wrapFatalError(err))
	}
	return strings.TrimSpace(out), nil
}

// renderRows prints a frame as tab-separated lines with a header.
func renderRows(f *models.Frame) string {
	var b strings.Builder
	b.WriteString(strings.Join(f.Columns, "\t"))
	for _, row := range f.Rows {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, "\t"))
	}
	return b.String()
}

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication failed",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and returns
// everything else unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
