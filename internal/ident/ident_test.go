package ident

import (
	"strings"
	"testing"
)

func TestCourseID(t *testing.T) {
	id1 := CourseID("Building Towards Computer Use with Anthropic")
	id2 := CourseID("  building towards   computer use with ANTHROPIC ")
	if id1 != id2 {
		t.Errorf("case/space variants should match: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, coursePrefix) {
		t.Errorf("ID should have prefix %q: got %q", coursePrefix, id1)
	}
	if CourseID("MCP") == CourseID("RAG") {
		t.Error("different titles should give different IDs")
	}
}

func TestLessonAndChunkID(t *testing.T) {
	cid := CourseID("Course")
	if got, want := LessonID(cid, 3), cid+"/lesson-3"; got != want {
		t.Errorf("LessonID = %q, want %q", got, want)
	}
	if got, want := ChunkID(cid, 3, 0), cid+"/lesson-3/chunk-0"; got != want {
		t.Errorf("ChunkID = %q, want %q", got, want)
	}
	if ChunkID(cid, 1, 2) == ChunkID(cid, 2, 1) {
		t.Error("chunk IDs must not collide across lessons")
	}
}
