package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// ErrInvalidConfig indicates invalid generator configuration.
var ErrInvalidConfig = errors.New("llm: invalid configuration")

// Config holds configuration for the OpenAI-compatible generator.
type Config struct {
	// BaseURL is the chat-completions endpoint base URL. Works for both
	// the OpenAI API and OpenAI-compatible local servers.
	BaseURL string

	// Model is the chat model to use.
	Model string

	// APIKey authenticates against the provider.
	APIKey string
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - LLM_BASE_URL: Base URL (default: https://api.openai.com/v1)
//   - LLM_MODEL: Model name (default: gpt-4o-mini)
//   - OPENAI_API_KEY: API key
func ConfigFromEnv() Config {
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	return Config{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// OpenAIGenerator implements Generator on top of langchaingo's OpenAI client.
type OpenAIGenerator struct {
	model  llms.Model
	config Config
}

// NewOpenAIGenerator creates a generator with the given configuration.
func NewOpenAIGenerator(config Config) (*OpenAIGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local OpenAI-compatible servers
		// accept any value.
		apiKey = "placeholder"
	}

	client, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &OpenAIGenerator{model: client, config: config}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message, temperature float64) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages)+1)
	if systemPrompt != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range messages {
		role := schema.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	resp, err := g.model.GenerateContent(ctx, content, llms.WithTemperature(temperature))
	if err != nil {
		return "", classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Content, nil
}

// classifyError maps a provider error onto the package sentinels so that
// callers never have to inspect transport details themselves.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "status code: 401", "status code: 403", "unauthorized", "invalid api key", "permission"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case containsAny(msg, "status code: 429", "rate limit", "too many requests", "quota"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case containsAny(msg, "status code: 502", "status code: 503", "unavailable", "overloaded", "connection refused", "connection reset"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case containsAny(msg, "timeout", "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
