// Package llm relays chat completions to an OpenAI-compatible provider
// (Groq by default) across a rotated pool of API keys.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/logger"
)

var (
	// ErrEmptyConversation is returned when a request carries no message
	// with content.
	ErrEmptyConversation = errors.New("at least one message with content is required")
	// ErrNotConfigured is returned by a nil Client.
	ErrNotConfigured = errors.New("chat provider not configured")
)

const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	requestTimeout     = 60 * time.Second
)

// Message is one chat turn. Role is system, user or assistant; anything
// else is sent as user.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request. Zero Temperature and MaxTokens use the
// defaults.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is the first choice of a completion.
type Response struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Client sends completions through keys.
type Client struct {
	client openai.Client
	model  string
	keys   *credentials.Rotator
	logger *zap.Logger
}

// New returns a Client for baseURL and model. The SDK's own retries are
// disabled; the rotator decides when to try another key.
func New(baseURL, model string, keys *credentials.Rotator, log *zap.Logger) *Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		keys:   keys,
		logger: logger.OrNop(log).Named("llm"),
	}
}

// Model is the configured chat model.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete returns the provider's reply to req. When every key is rate
// limited the error wraps credentials.ErrAllCredentialsExhausted.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.keys == nil {
		return nil, ErrNotConfigured
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}

	resp, err := credentials.Call(ctx, c.keys, func(ctx context.Context, key string) (*openai.ChatCompletion, error) {
		out, err := c.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
		if err != nil {
			return nil, classify(err)
		}
		return out, nil
	})
	if err != nil {
		c.logger.Error("chat completion failed", zap.String("model", c.model), zap.Error(err))
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: provider returned no choices")
	}

	choice := resp.Choices[0]
	return &Response{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", credentials.ErrRateLimited, err)
	}
	return err
}
