// Package generator produces answers by letting the model call course tools for up to a
// fixed number of rounds.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/llm"
)

// SystemPrompt instructs the model how to use the course tools and shape its answers.
const SystemPrompt = `You are an AI assistant specialized in course materials and educational content with access to tools for course information.

Tool usage:
- Use search_course_content for questions about specific course content or detailed educational materials.
- Use get_course_outline for questions about a course outline, its structure or its list of lessons. Return the course title, course link and every lesson with its number and title.
- At most one search per query.
- Synthesize tool results into accurate, fact-based responses.
- If a tool yields no results, say so clearly without offering alternatives.

Response protocol:
- General knowledge questions: answer from existing knowledge without using tools.
- Course-specific questions: use a tool first, then answer.
- No meta-commentary: give direct answers only. Do not explain your reasoning or search process, and do not mention "based on the search results".

All responses must be:
1. Brief and concise
2. Educational
3. Clear and accessible
4. Supported by examples when they aid understanding

Provide only the direct answer to what was asked.`

// Tools executes tool calls requested by the model.
type Tools interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// Generator runs the tool-use loop against a provider.
type Generator struct {
	provider      llm.Provider
	maxTokens     int
	temperature   float64
	maxToolRounds int
	logger        *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets a logger for generation events.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator using cfg's token, temperature and round limits.
func NewGenerator(provider llm.Provider, cfg config.LLMConfig, opts ...Option) *Generator {
	g := &Generator{
		provider:      provider,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxToolRounds: cfg.MaxToolRounds,
		logger:        zap.NewNop(),
	}
	if g.maxTokens <= 0 {
		g.maxTokens = 800
	}
	if g.maxToolRounds < 0 {
		g.maxToolRounds = 0
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// BuildSystem appends the conversation history to the system prompt.
func BuildSystem(history string) string {
	if strings.TrimSpace(history) == "" {
		return SystemPrompt
	}
	return SystemPrompt + "\n\nPrevious conversation:\n" + history
}

// Generate answers query. While rounds remain and tools is non-nil the model may call tools;
// the call after the last round is made without tools so the model must answer. Tool
// failures are sent back to the model as error results.
func (g *Generator) Generate(ctx context.Context, query, history string, tools Tools) (string, error) {
	messages := []llm.Message{llm.UserText(query)}
	system := BuildSystem(history)

	for round := 0; ; round++ {
		req := &llm.Request{
			System:      system,
			Messages:    messages,
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		}
		if tools != nil && round < g.maxToolRounds {
			req.Tools = tools.Definitions()
		}
		resp, err := g.provider.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%s completion failed: %w", g.provider.Name(), err)
		}
		calls := resp.ToolCalls()
		if resp.StopReason != llm.StopToolUse || len(calls) == 0 || req.Tools == nil {
			return strings.TrimSpace(resp.Text()), nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		results := make([]llm.ContentBlock, 0, len(calls))
		for _, call := range calls {
			out, err := tools.Execute(ctx, call.Name, call.Input)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				g.logger.Debug("tool failed", zap.String("tool", call.Name), zap.Error(err))
				results = append(results, llm.ToolResult(call.ID, err.Error(), true))
				continue
			}
			g.logger.Debug("tool executed", zap.String("tool", call.Name), zap.Int("round", round+1), zap.Int("bytes", len(out)))
			results = append(results, llm.ToolResult(call.ID, out, false))
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: results})
	}
}
