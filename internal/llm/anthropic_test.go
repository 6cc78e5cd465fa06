package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lectern/internal/config"
)

func testConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        url,
		Model:          "claude-test",
		MaxTokens:      100,
		TimeoutSeconds: 5,
		MaxRetries:     2,
	}
}

func newFastProvider(t *testing.T, url string) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(testConfig(url))
	require.NoError(t, err)
	p.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return p
}

func TestNewAnthropicProvider_noKey(t *testing.T) {
	_, err := NewAnthropicProvider(config.LLMConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestAnthropicProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body.Model)
		assert.Equal(t, "be brief", body.System)
		require.Len(t, body.Messages, 1)
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "search_course_content", body.Tools[0].Name)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","stop_reason":"tool_use","content":[
			{"type":"text","text":"Let me look."},
			{"type":"tool_use","id":"toolu_1","name":"search_course_content","input":{"query":"mcp"}}]}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(testConfig(srv.URL))
	require.NoError(t, err)
	resp, err := p.Complete(context.Background(), &Request{
		System:    "be brief",
		Messages:  []Message{UserText("what is mcp?")},
		Tools:     []ToolDefinition{{Name: "search_course_content", InputSchema: map[string]interface{}{"type": "object"}}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, "Let me look.", resp.Text())
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.JSONEq(t, `{"query":"mcp"}`, string(calls[0].Input))
}

func TestAnthropicProvider_retriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"stop_reason":"end_turn","content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	p := newFastProvider(t, srv.URL)
	resp, err := p.Complete(context.Background(), &Request{Messages: []Message{UserText("hi")}, MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAnthropicProvider_retriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stop_reason":"end_turn","content":[{"type":"text","text":"done"}]}`))
	}))
	defer srv.Close()

	p := newFastProvider(t, srv.URL)
	resp, err := p.Complete(context.Background(), &Request{Messages: []Message{UserText("hi")}, MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnthropicProvider_retriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"internal"}}`))
	}))
	defer srv.Close()

	p := newFastProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), &Request{Messages: []Message{UserText("hi")}, MaxTokens: 10})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "api_error", apiErr.Type)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnthropicProvider_clientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	p := newFastProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), &Request{Messages: []Message{UserText("hi")}, MaxTokens: 10})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNew(t *testing.T) {
	p, err := New(config.LLMConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "extractive", p.Name())

	p, err = New(config.LLMConfig{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = New(config.LLMConfig{Provider: "anthropic"}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(config.LLMConfig{Provider: "gpt"}, nil)
	assert.Error(t, err)
}
