package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/lectern/internal/llm"
	"github.com/hyperjump/lectern/internal/models"
)

// Tool names exposed to the model.
const (
	ToolSearchContent = "search_course_content"
	ToolCourseOutline = "get_course_outline"
)

// ErrUnknownTool is returned by ToolManager.Execute for an unregistered tool name.
var ErrUnknownTool = errors.New("unknown tool")

// ToolOutput is what a tool returns to the model. Sources is nil for tools that do not
// cite course content.
type ToolOutput struct {
	Text    string
	Sources []models.Source
}

// Tool is a function the model can call.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, input json.RawMessage) (*ToolOutput, error)
}

// CourseSearchTool searches course content.
type CourseSearchTool struct {
	searcher *Searcher
}

// NewCourseSearchTool returns the search_course_content tool.
func NewCourseSearchTool(s *Searcher) *CourseSearchTool {
	return &CourseSearchTool{searcher: s}
}

// Definition implements Tool.
func (t *CourseSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolSearchContent,
		Description: "Search course materials with smart course name matching and lesson filtering",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to search for in the course content",
				},
				"course_name": map[string]interface{}{
					"type":        "string",
					"description": "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": map[string]interface{}{
					"type":        "integer",
					"description": "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchInput struct {
	Query        string `json:"query"`
	CourseName   string `json:"course_name"`
	LessonNumber *int   `json:"lesson_number"`
}

// Execute implements Tool. An unknown course is reported in the output text, not as an error.
func (t *CourseSearchTool) Execute(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", ToolSearchContent, err)
	}
	res, err := t.searcher.Search(ctx, Request{Query: in.Query, CourseName: in.CourseName, LessonNumber: in.LessonNumber})
	if errors.Is(err, ErrCourseNotFound) {
		return &ToolOutput{Text: fmt.Sprintf("No course found matching '%s'", in.CourseName), Sources: []models.Source{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return &ToolOutput{Text: NoResultsMessage(in.CourseName, in.LessonNumber), Sources: []models.Source{}}, nil
	}
	text, sources := FormatResults(res.Hits)
	return &ToolOutput{Text: text, Sources: sources}, nil
}

// CourseOutlineTool returns a course outline.
type CourseOutlineTool struct {
	searcher *Searcher
}

// NewCourseOutlineTool returns the get_course_outline tool.
func NewCourseOutlineTool(s *Searcher) *CourseOutlineTool {
	return &CourseOutlineTool{searcher: s}
}

// Definition implements Tool.
func (t *CourseOutlineTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolCourseOutline,
		Description: "Get a course outline: title, course link, instructor and the numbered list of lessons",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"course_name": map[string]interface{}{
					"type":        "string",
					"description": "Course title (partial matches work)",
				},
			},
			"required": []string{"course_name"},
		},
	}
}

// Execute implements Tool.
func (t *CourseOutlineTool) Execute(ctx context.Context, input json.RawMessage) (*ToolOutput, error) {
	var in struct {
		CourseName string `json:"course_name"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", ToolCourseOutline, err)
	}
	course, err := t.searcher.Outline(ctx, in.CourseName)
	if err != nil {
		return nil, err
	}
	return &ToolOutput{Text: FormatOutline(course)}, nil
}

// ToolManager registers tools, executes them by name and remembers the sources of the
// last search. Use one manager per query so sources do not mix between conversations.
type ToolManager struct {
	mu      sync.Mutex
	tools   map[string]Tool
	sources []models.Source
}

// NewToolManager returns a manager holding tools.
func NewToolManager(tools ...Tool) *ToolManager {
	m := &ToolManager{tools: make(map[string]Tool)}
	for _, t := range tools {
		m.Register(t)
	}
	return m
}

// Register adds or replaces a tool.
func (m *ToolManager) Register(t Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[t.Definition().Name] = t
}

// Definitions returns the definitions of all registered tools sorted by name.
func (m *ToolManager) Definitions() []llm.ToolDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]llm.ToolDefinition, 0, len(m.tools))
	for _, t := range m.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool and returns its text.
func (m *ToolManager) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	m.mu.Lock()
	t, ok := m.tools[name]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}
	out, err := t.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	if out.Sources != nil {
		m.mu.Lock()
		m.sources = out.Sources
		m.mu.Unlock()
	}
	return out.Text, nil
}

// LastSources returns the sources of the last search.
func (m *ToolManager) LastSources() []models.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Source, len(m.sources))
	copy(out, m.sources)
	return out
}

// ResetSources forgets the sources of the last search.
func (m *ToolManager) ResetSources() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = nil
}
