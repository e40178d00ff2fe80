// Package answer generates a reply to a question from retrieved context with an
// OpenAI-compatible chat completion API.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/models"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultTemperature = 0.7

	// DefaultSystemPrompt keeps the model to the supplied context.
	DefaultSystemPrompt = "You are a helpful assistant, only provide information provided in context, " +
		"if query is not readable or understandable, say you don't know about this query."
	// NoContextPrompt is sent when retrieval found nothing.
	NoContextPrompt = "No context found, you simply say you don't know"
)

// Generator answers a question given the retrieved hits.
type Generator interface {
	Generate(ctx context.Context, question string, hits models.RetrievalResult) (*Answer, error)
}

// Answer is a generated reply with the user prompt that produced it.
type Answer struct {
	Prompt string
	Text   string
}

// Config configures an OpenAIGenerator.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
	MaxRetries   int
}

// BuildPrompt renders the user message for question over hits, most similar first.
func BuildPrompt(question string, hits models.RetrievalResult) string {
	if len(hits) == 0 {
		return NoContextPrompt
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(hits.Context())
	if q := strings.TrimSpace(question); q != "" {
		b.WriteString("\n\nQuestion: ")
		b.WriteString(q)
	}
	return b.String()
}

// OpenAIGenerator calls a chat completion endpoint (Groq by default).
type OpenAIGenerator struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithLogger sets a logger for request debug output.
func WithLogger(l *zap.Logger) Option {
	return func(g *OpenAIGenerator) { g.logger = l }
}

// NewOpenAIGenerator returns a generator for cfg. Empty fields take the Groq defaults.
func NewOpenAIGenerator(cfg Config, opts ...Option) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("answer generator requires an API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	g := &OpenAIGenerator{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithMaxRetries(cfg.MaxRetries),
		),
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate sends the system prompt and the rendered context to the model.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, hits models.RetrievalResult) (*Answer, error) {
	prompt := BuildPrompt(question, hits)
	if g.logger != nil {
		g.logger.Debug("generating answer",
			zap.String("model", g.cfg.Model),
			zap.Int("hits", len(hits)),
			zap.Int("prompt_len", len(prompt)))
	}
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.cfg.SystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return &Answer{Prompt: prompt, Text: resp.Choices[0].Message.Content}, nil
}
