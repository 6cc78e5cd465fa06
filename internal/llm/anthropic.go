package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/config"
)

const (
	anthropicVersion = "2023-06-01"
	messagesPath     = "/v1/messages"
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 8 * time.Second
)

// APIError is a non-2xx reply from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("anthropic API returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("anthropic API returned %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type messagesRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client *resty.Client
	model  string
	logger *zap.Logger
}

// Option configures an AnthropicProvider.
type Option func(*AnthropicProvider)

// WithLogger sets a logger for request events.
func WithLogger(l *zap.Logger) Option {
	return func(p *AnthropicProvider) { p.logger = l }
}

// NewAnthropicProvider creates a provider from cfg. It returns ErrNoAPIKey when
// cfg.APIKey is empty.
func NewAnthropicProvider(cfg config.LLMConfig, opts ...Option) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	p := &AnthropicProvider{model: cfg.Model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	p.client = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(retryBaseDelay).
		SetRetryMaxWaitTime(retryMaxDelay).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetLogger(p.logger.Sugar()).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if resp != nil {
				fields = append(fields, zap.Int("status", resp.StatusCode()), zap.Int("attempt", resp.Request.Attempt))
			}
			p.logger.Warn("retrying anthropic request", fields...)
		})
	return p, nil
}

// shouldRetry retries transport errors, 429 and 5xx replies.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return (&APIError{StatusCode: resp.StatusCode()}).Retryable()
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one Messages API request, retrying on 429, 5xx and transport errors.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:       p.model,
			MaxTokens:   req.MaxTokens,
			System:      req.System,
			Messages:    req.Messages,
			Tools:       req.Tools,
			Temperature: req.Temperature,
		}).
		Post(messagesPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	data := resp.Body()
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(string(data))}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
			apiErr.Type, apiErr.Message = er.Error.Type, er.Error.Message
		}
		return nil, apiErr
	}

	var mr messagesResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("failed to decode anthropic response: %w", err)
	}
	p.logger.Debug("anthropic response",
		zap.String("id", mr.ID),
		zap.String("stop_reason", mr.StopReason),
		zap.Int("input_tokens", mr.Usage.InputTokens),
		zap.Int("output_tokens", mr.Usage.OutputTokens),
		zap.Int("attempts", resp.Request.Attempt),
		zap.Duration("elapsed", resp.Time()))
	return &Response{Content: mr.Content, StopReason: mr.StopReason}, nil
}
