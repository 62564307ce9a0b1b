package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// Completer is a single-prompt text completion capability. Failures wrap
// models.ErrRateLimited, models.ErrServerError or models.ErrInvalidResponse
// when the cause is known.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAICompleter talks to any OpenAI-compatible chat endpoint.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter(baseURL, apiKey, model string) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", models.ErrInvalidResponse)
	}
	content := stripCodeFences(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", models.ErrInvalidResponse)
	}
	return content, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if class := classifyStatus(apiErr.HTTPStatusCode); class != nil {
			return fmt.Errorf("%w: %w", class, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if class := classifyStatus(reqErr.HTTPStatusCode); class != nil {
			return fmt.Errorf("%w: %w", class, err)
		}
	}
	return fmt.Errorf("LLM call: %w", err)
}

// classifyStatus maps an HTTP status to a capability error class, or nil
// when the status carries no class.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return models.ErrRateLimited
	case code >= 500:
		return models.ErrServerError
	default:
		return nil
	}
}

// stripCodeFences removes markdown code fences that some models wrap around output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (```text or ```)
		if i := strings.Index(s, "\n"); i != -1 {
			s = s[i+1:]
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
