// Package llm talks to an OpenAI-compatible chat completion endpoint to generate
// questions and to ask for verification verdicts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/metrics"
)

const (
	DefaultModel       = "gpt-oss-120b"
	DefaultTemperature = 0.2
	defaultTimeout     = 60 * time.Second
)

// Client is a thin chat client that records usage for every call.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	usage       *UsageCollector
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the chat model name.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature used for generation.
func WithTemperature(t float32) ClientOption {
	return func(c *Client) { c.temperature = t }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUsage shares a usage collector with the client.
func WithUsage(u *UsageCollector) ClientOption {
	return func(c *Client) { c.usage = u }
}

// WithMetrics records call counts and tokens.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a chat client. baseURL may be empty for the public API.
func NewClient(apiKey, baseURL string, opts ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("LLM API key not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	c := &Client{
		client:      openai.NewClientWithConfig(cfg),
		model:       DefaultModel,
		temperature: DefaultTemperature,
		timeout:     defaultTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Usage returns the collector the client records into, possibly nil.
func (c *Client) Usage() *UsageCollector {
	return c.usage
}

// Chat sends a system and a user message and returns the first choice's content.
// operation labels the call in metrics and logs.
func (c *Client) Chat(ctx context.Context, operation, system, user string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// go-openai drops a zero temperature from the request body.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.LLMCall(operation, err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	c.usage.Record(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, elapsed)
	c.metrics.LLMTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.logger.Debug("chat completion",
		zap.String("operation", operation),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	if len(resp.Choices) == 0 {
		err := errors.New("chat completion returned no choices")
		c.metrics.LLMCall(operation, err)
		return "", err
	}
	c.metrics.LLMCall(operation, nil)
	return resp.Choices[0].Message.Content, nil
}
