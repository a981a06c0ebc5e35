// Package oracle talks to the OpenAI-compatible chat completion endpoint
// that produces analyses and chat answers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/ctolnik/office-insight/zapctx"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	// Operation labels metrics and spans ("analyze", "chat").
	Operation   string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("oracle: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("oracle: model is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: opts.Model, timeout: timeout}, nil
}

// Complete issues one chat completion and returns the first choice's text.
// An empty choice list yields an empty string, not an error. The call is
// bounded by the client timeout and by ctx.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("office-insight/oracle").Start(ctx, "oracle.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.operation", req.Operation),
		attribute.String("oracle.model", c.model),
		attribute.Int("oracle.max_tokens", req.MaxTokens),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.OracleDuration.WithLabelValues(req.Operation, "error").Observe(elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapctx.Warn(ctx, "Oracle completion failed",
			zap.String("operation", req.Operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	metrics.OracleDuration.WithLabelValues(req.Operation, "ok").Observe(elapsed.Seconds())

	zapctx.Debug(ctx, "Oracle completion finished",
		zap.String("operation", req.Operation),
		zap.Duration("elapsed", elapsed),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
