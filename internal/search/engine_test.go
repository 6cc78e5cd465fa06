package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/ingest"
	"github.com/hyperjump/lectern/internal/keyword"
	"github.com/hyperjump/lectern/internal/storage"
	"github.com/hyperjump/lectern/internal/vector"
)

const computerUseCourse = `Course Title: Building Towards Computer Use with Anthropic
Course Link: https://example.com/computer-use
Course Instructor: Colt Steele

Lesson 0: Introduction
Lesson Link: https://example.com/computer-use/0
Welcome to the course. Computer use lets a model operate a desktop through screenshots.

Lesson 1: Prompt Caching
Lesson Link: https://example.com/computer-use/1
Prompt caching stores the prefix of a prompt. Cached prompts reduce latency and cost.
`

const mcpCourse = `Course Title: MCP: Build Rich-Context AI Apps with Anthropic
Course Link: https://example.com/mcp
Course Instructor: Elie Schoppik

Lesson 0: Introduction
Welcome. The Model Context Protocol standardizes how applications provide context to models.

Lesson 1: Servers and Clients
An MCP server exposes tools and resources. An MCP client connects to one server.
`

func newTestSearcher(t *testing.T) *Searcher {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewMemoryBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = kw.Close()
		_ = store.Close()
	})
	emb := embedding.NewHashEmbedder(128)
	chunks, _ := vector.NewMemoryIndex(128)
	catalog, _ := vector.NewMemoryIndex(128)

	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{"computer_use.txt": computerUseCourse, "mcp.txt": mcpCourse} {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	in := ingest.NewIngester(store, emb, chunks, catalog, kw, 800, 100)
	if n, _, err := in.IngestFolder(ctx, docs, true, false); err != nil || n != 2 {
		t.Fatalf("ingest: courses=%d err=%v", n, err)
	}

	cfg := config.SearchConfig{
		MaxResults:           5,
		TopKCandidates:       20,
		KeywordWeight:        0.4,
		SemanticWeight:       0.6,
		CourseMatchThreshold: 0.35,
	}
	return NewSearcher(store, emb, chunks, catalog, kw, cfg)
}

func TestSearcher_ResolveCourse(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		want string
	}{
		{"MCP: Build Rich-Context AI Apps with Anthropic", "MCP: Build Rich-Context AI Apps with Anthropic"},
		{"mcp: build rich-context ai apps with anthropic", "MCP: Build Rich-Context AI Apps with Anthropic"},
		{"MCP", "MCP: Build Rich-Context AI Apps with Anthropic"},
		{"computer use", "Building Towards Computer Use with Anthropic"},
		{"Bilding Towards Computer Use with Anthropik", "Building Towards Computer Use with Anthropic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := s.ResolveCourse(ctx, tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if c.Name != tt.want {
				t.Errorf("got %q, want %q", c.Name, tt.want)
			}
		})
	}

	if _, err := s.ResolveCourse(ctx, "zzzz"); !errors.Is(err, ErrCourseNotFound) {
		t.Errorf("expected ErrCourseNotFound, got %v", err)
	}
	if _, err := s.ResolveCourse(ctx, "  "); !errors.Is(err, ErrCourseNotFound) {
		t.Errorf("expected ErrCourseNotFound for blank name, got %v", err)
	}
}

func TestSearcher_Search(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()

	res, err := s.Search(ctx, Request{Query: "prompt caching latency"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Course != nil {
		t.Error("no course was requested")
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected hits")
	}
	top := res.Hits[0]
	if top.CourseTitle != "Building Towards Computer Use with Anthropic" || top.Chunk.LessonNumber != 1 {
		t.Errorf("unexpected top hit %q lesson %d", top.CourseTitle, top.Chunk.LessonNumber)
	}
	if top.LessonLink != "https://example.com/computer-use/1" {
		t.Errorf("lesson link = %q", top.LessonLink)
	}
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i-1].Score < res.Hits[i].Score {
			t.Error("hits should be sorted by score")
		}
	}
}

func TestSearcher_SearchFilters(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()

	res, err := s.Search(ctx, Request{Query: "introduction welcome", CourseName: "MCP"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Course == nil || res.Course.Name != "MCP: Build Rich-Context AI Apps with Anthropic" {
		t.Fatalf("course not resolved: %+v", res.Course)
	}
	for _, h := range res.Hits {
		if h.Chunk.CourseID != res.Course.ID {
			t.Errorf("hit from another course: %s", h.Chunk.ID)
		}
	}

	lesson := 1
	res, err = s.Search(ctx, Request{Query: "server client tools", CourseName: "MCP", LessonNumber: &lesson})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected hits in lesson 1")
	}
	for _, h := range res.Hits {
		if h.Chunk.LessonNumber != 1 || h.Chunk.CourseID != res.Course.ID {
			t.Errorf("hit outside course lesson 1: %s", h.Chunk.ID)
		}
	}

	res, err = s.Search(ctx, Request{Query: "prompt", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) > 1 {
		t.Errorf("limit 1 returned %d hits", len(res.Hits))
	}
}

func TestSearcher_SearchErrors(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()
	if _, err := s.Search(ctx, Request{Query: "  "}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := s.Search(ctx, Request{Query: "anything", CourseName: "zzzz"}); !errors.Is(err, ErrCourseNotFound) {
		t.Errorf("expected ErrCourseNotFound, got %v", err)
	}
}

func TestSearcher_Outline(t *testing.T) {
	s := newTestSearcher(t)
	c, err := s.Outline(context.Background(), "computer")
	if err != nil {
		t.Fatal(err)
	}
	if c.Instructor != "Colt Steele" || len(c.Lessons) != 2 {
		t.Errorf("unexpected outline: %+v", c)
	}
}
