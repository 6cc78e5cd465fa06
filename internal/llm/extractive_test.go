package llm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTools = []ToolDefinition{{Name: searchToolName}, {Name: outlineToolName}}

func TestExtractiveProvider_firstTurnSearches(t *testing.T) {
	p := NewExtractiveProvider()
	resp, err := p.Complete(context.Background(), &Request{
		Messages: []Message{UserText("What is retrieval augmented generation?")},
		Tools:    testTools,
	})
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, searchToolName, calls[0].Name)
	assert.True(t, strings.HasPrefix(calls[0].ID, "toolu_"))

	var input map[string]string
	require.NoError(t, json.Unmarshal(calls[0].Input, &input))
	assert.Equal(t, "What is retrieval augmented generation?", input["query"])
}

func TestExtractiveProvider_outlineQuestion(t *testing.T) {
	p := NewExtractiveProvider()
	resp, err := p.Complete(context.Background(), &Request{
		Messages: []Message{UserText("What is the outline of the MCP course?")},
		Tools:    testTools,
	})
	require.NoError(t, err)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, outlineToolName, calls[0].Name)
	assert.JSONEq(t, `{"course_name":"MCP"}`, string(calls[0].Input))
}

func TestExtractiveProvider_answersFromResults(t *testing.T) {
	p := NewExtractiveProvider()
	results := "[Intro to RAG - Lesson 1]\nLesson 1 content: Chunking splits documents. " +
		"Retrieval finds relevant chunks for a question. The weather is nice."
	msgs := []Message{
		UserText("How does retrieval find chunks?"),
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockToolUse, ID: "t1", Name: searchToolName, Input: json.RawMessage(`{}`)}}},
		{Role: RoleUser, Content: []ContentBlock{ToolResult("t1", results, false)}},
	}
	resp, err := p.Complete(context.Background(), &Request{Messages: msgs, Tools: testTools})
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Contains(t, resp.Text(), "Retrieval finds relevant chunks for a question.")
	assert.NotContains(t, resp.Text(), "weather")
	assert.NotContains(t, resp.Text(), "[Intro to RAG")
}

func TestExtractiveProvider_outlineMissFallsBackToSearch(t *testing.T) {
	p := NewExtractiveProvider()
	msgs := []Message{
		UserText("Show the lessons of Nonexistent"),
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockToolUse, ID: "t1", Name: outlineToolName, Input: json.RawMessage(`{}`)}}},
		{Role: RoleUser, Content: []ContentBlock{ToolResult("t1", "No course found", true)}},
	}
	resp, err := p.Complete(context.Background(), &Request{Messages: msgs, Tools: testTools})
	require.NoError(t, err)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, searchToolName, calls[0].Name)
}

func TestExtractiveProvider_noResults(t *testing.T) {
	p := NewExtractiveProvider()
	resp, err := p.Complete(context.Background(), &Request{Messages: []Message{UserText("hello")}})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, resp.Text())

	msgs := []Message{
		UserText("anything"),
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockToolUse, ID: "t1", Name: searchToolName, Input: json.RawMessage(`{}`)}}},
		{Role: RoleUser, Content: []ContentBlock{ToolResult("t1", "", false)}},
	}
	resp, err = p.Complete(context.Background(), &Request{Messages: msgs})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, resp.Text())
}

func TestCourseNameFrom(t *testing.T) {
	tests := []struct {
		q    string
		want string
	}{
		{"What is the outline of the MCP course?", "MCP"},
		{"List the lessons in Building RAG Chatbots", "Building RAG Chatbots"},
		{"syllabus", ""},
	}
	for _, tt := range tests {
		if got := courseNameFrom(tt.q); got != tt.want {
			t.Errorf("courseNameFrom(%q) = %q, want %q", tt.q, got, tt.want)
		}
	}
}
