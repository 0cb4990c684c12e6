package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
)

// Prompt is a single generation request.
type Prompt struct {
	System string
	User   string
	// Source is the text being rewritten; it sizes the output budget.
	Source string
}

// Model is one entry of a fallback chain.
type Model interface {
	Name() string
	Attempt(ctx context.Context, p Prompt) (models.GenerationResult, error)
}

var errEmptyCompletion = errors.New("empty completion")

const (
	minOutputTokens   = 256
	outputTokenMargin = 128
)

// OutputBudget estimates max output tokens for rewriting source. A rewrite
// is about as long as its input and a token never covers less than one rune.
// ceiling <= 0 means no provider cap.
func OutputBudget(source string, ceiling int) int {
	n := utf8.RuneCountInString(source) + outputTokenMargin
	if n < minOutputTokens {
		n = minOutputTokens
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n
}

// OpenAIModel calls an OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIModel creates a Model for model served by provider.
func NewOpenAIModel(provider config.ProviderConfig, model string, temperature float32, httpClient *http.Client) *OpenAIModel {
	cfg := openai.DefaultConfig(provider.APIKey)
	cfg.BaseURL = provider.URL
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   provider.MaxOutputTokens,
	}
}

// Name returns the model identifier.
func (m *OpenAIModel) Name() string { return m.model }

// Attempt runs one chat completion.
func (m *OpenAIModel) Attempt(ctx context.Context, p Prompt) (models.GenerationResult, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: m.temperature,
		// max_tokens is the field every compatible server understands.
		MaxTokens: OutputBudget(p.Source, m.maxTokens),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("chat completion %s: %w", m.model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return models.GenerationResult{}, fmt.Errorf("chat completion %s: %w", m.model, errEmptyCompletion)
	}
	return models.GenerationResult{
		Text:             resp.Choices[0].Message.Content,
		ModelUsed:        m.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}
