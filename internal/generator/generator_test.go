package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/llm"
)

// scriptedProvider replays responses and records requests.
type scriptedProvider struct {
	responses []*llm.Response
	requests  []*llm.Request
	err       error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

type fakeTools struct {
	calls []string
	fail  bool
}

func (f *fakeTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "search_course_content"}}
}

func (f *fakeTools) Execute(_ context.Context, name string, input json.RawMessage) (string, error) {
	f.calls = append(f.calls, name+":"+string(input))
	if f.fail {
		return "", errors.New("index offline")
	}
	return "[Go - Lesson 1]\nGoroutines are cheap.", nil
}

func toolUse(id string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{{
			Type: llm.BlockToolUse, ID: id, Name: "search_course_content", Input: json.RawMessage(`{"query":"goroutines"}`),
		}},
	}
}

func text(s string) *llm.Response {
	return &llm.Response{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: s}}}
}

func TestGenerate_directAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{text(" Paris. ")}}
	g := NewGenerator(p, config.LLMConfig{MaxToolRounds: 2})
	answer, err := g.Generate(context.Background(), "capital of France?", "", &fakeTools{})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", answer)
	require.Len(t, p.requests, 1)
	assert.Equal(t, SystemPrompt, p.requests[0].System)
	assert.Len(t, p.requests[0].Tools, 1)
	assert.Equal(t, 800, p.requests[0].MaxTokens)
}

func TestGenerate_toolRound(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{toolUse("t1"), text("They are cheap.")}}
	tools := &fakeTools{}
	g := NewGenerator(p, config.LLMConfig{MaxToolRounds: 2, MaxTokens: 100})
	answer, err := g.Generate(context.Background(), "goroutines?", "User: hi\nAssistant: hello", tools)
	require.NoError(t, err)
	assert.Equal(t, "They are cheap.", answer)
	assert.Equal(t, []string{`search_course_content:{"query":"goroutines"}`}, tools.calls)

	require.Len(t, p.requests, 2)
	assert.True(t, strings.HasSuffix(p.requests[0].System, "Previous conversation:\nUser: hi\nAssistant: hello"))
	second := p.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Equal(t, llm.BlockToolResult, second[2].Content[0].Type)
	assert.Equal(t, "t1", second[2].Content[0].ToolUseID)
	assert.False(t, second[2].Content[0].IsError)
}

func TestGenerate_roundLimit(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{toolUse("t1"), toolUse("t2"), toolUse("t3")}}
	tools := &fakeTools{}
	g := NewGenerator(p, config.LLMConfig{MaxToolRounds: 2})
	_, err := g.Generate(context.Background(), "q", "", tools)
	require.NoError(t, err)
	assert.Len(t, tools.calls, 2)
	require.Len(t, p.requests, 3)
	assert.Nil(t, p.requests[2].Tools, "final call must not offer tools")
}

func TestGenerate_toolErrorSentToModel(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{toolUse("t1"), text("Sorry.")}}
	g := NewGenerator(p, config.LLMConfig{MaxToolRounds: 1})
	answer, err := g.Generate(context.Background(), "q", "", &fakeTools{fail: true})
	require.NoError(t, err)
	assert.Equal(t, "Sorry.", answer)
	result := p.requests[1].Messages[2].Content[0]
	assert.True(t, result.IsError)
	assert.Equal(t, "index offline", result.Content)
}

func TestGenerate_providerError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("boom")}
	g := NewGenerator(p, config.LLMConfig{})
	_, err := g.Generate(context.Background(), "q", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestGenerate_extractiveEndToEnd(t *testing.T) {
	g := NewGenerator(llm.NewExtractiveProvider(), config.LLMConfig{MaxToolRounds: 2})
	tools := &fakeTools{}
	answer, err := g.Generate(context.Background(), "Are goroutines cheap?", "", tools)
	require.NoError(t, err)
	assert.Equal(t, "Goroutines are cheap.", answer)
	assert.Len(t, tools.calls, 1)
}
