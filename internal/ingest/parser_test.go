package ingest

import (
	"testing"

	"github.com/hyperjump/lectern/internal/ident"
)

const sampleCourse = `Course Title: Building Towards Computer Use with Anthropic
Course Link: https://www.deeplearning.ai/short-courses/building-towards-computer-use-with-anthropic/
Course Instructor: Colt Steele

A short course on the Anthropic API.

Lesson 0: Introduction
Lesson Link: https://learn.deeplearning.ai/courses/computer-use/lesson/a6k0z/introduction
Welcome to Building Toward Computer Use with Anthropic. Built in partnership with Anthropic.

Lesson 1: API Basics

You will make your first request.
Then you will stream responses.
`

func TestParseCourse(t *testing.T) {
	c := ParseCourse(sampleCourse, "/docs/course1_script.txt")

	if c.Name != "Building Towards Computer Use with Anthropic" {
		t.Errorf("Name = %q", c.Name)
	}
	if c.ID != ident.CourseID(c.Name) {
		t.Errorf("ID = %q", c.ID)
	}
	if c.Instructor != "Colt Steele" || c.Link == "" {
		t.Errorf("header: instructor=%q link=%q", c.Instructor, c.Link)
	}
	if c.Description != "A short course on the Anthropic API." {
		t.Errorf("Description = %q", c.Description)
	}
	if c.SourcePath != "/docs/course1_script.txt" {
		t.Errorf("SourcePath = %q", c.SourcePath)
	}
	if len(c.Lessons) != 2 {
		t.Fatalf("expected 2 lessons, got %d", len(c.Lessons))
	}

	l0 := c.Lessons[0]
	if l0.Number != 0 || l0.Title != "Introduction" || l0.ID != ident.LessonID(c.ID, 0) || l0.CourseID != c.ID {
		t.Errorf("lesson 0: %+v", l0)
	}
	if l0.Link != "https://learn.deeplearning.ai/courses/computer-use/lesson/a6k0z/introduction" {
		t.Errorf("lesson 0 link = %q", l0.Link)
	}
	if l0.Content != "Welcome to Building Toward Computer Use with Anthropic. Built in partnership with Anthropic." {
		t.Errorf("lesson 0 content = %q", l0.Content)
	}

	l1 := c.Lessons[1]
	if l1.Number != 1 || l1.Link != "" {
		t.Errorf("lesson 1: %+v", l1)
	}
	if l1.Content != "You will make your first request.\nThen you will stream responses." {
		t.Errorf("lesson 1 content = %q", l1.Content)
	}
	if l1.FilePath != "/docs/course1_script.txt" {
		t.Errorf("lesson FilePath = %q", l1.FilePath)
	}
}

func TestParseCourse_titleFallsBackToFileName(t *testing.T) {
	c := ParseCourse("Lesson 3: Only lesson\nSome text.", "/docs/Prompt Compression.md")
	if c.Name != "Prompt Compression" {
		t.Errorf("Name = %q", c.Name)
	}
	if len(c.Lessons) != 1 || c.Lessons[0].Number != 3 {
		t.Errorf("lessons: %+v", c.Lessons)
	}
	if c.Description != "" {
		t.Errorf("Description = %q", c.Description)
	}
}

func TestParseCourse_noLessonMarkers(t *testing.T) {
	c := ParseCourse("course title: Notes\n\nJust some notes. Nothing else.", "notes.txt")
	if c.Name != "Notes" {
		t.Errorf("case-insensitive header: Name = %q", c.Name)
	}
	if len(c.Lessons) != 1 {
		t.Fatalf("expected single lesson, got %d", len(c.Lessons))
	}
	l := c.Lessons[0]
	if l.Number != 0 || l.Title != "Notes" || l.Content != "Just some notes. Nothing else." {
		t.Errorf("lesson: %+v", l)
	}
}

func TestParseCourse_empty(t *testing.T) {
	c := ParseCourse("", "/docs/empty.txt")
	if c.Name != "empty" {
		t.Errorf("Name = %q", c.Name)
	}
	if c.Lessons == nil || len(c.Lessons) != 0 {
		t.Errorf("Lessons = %v", c.Lessons)
	}
}

func TestParseCourse_repeatedLessonNumberMerged(t *testing.T) {
	text := `Course Title: Dup Course

Lesson 1: First
First part.
Lesson 2: Middle
Middle part.
Lesson 1: Second
Lesson Link: https://example.com/l1
Second part.
`
	c := ParseCourse(text, "dup.txt")
	if len(c.Lessons) != 2 {
		t.Fatalf("expected 2 lessons, got %d: %+v", len(c.Lessons), c.Lessons)
	}
	l1 := c.Lessons[0]
	if l1.Number != 1 || l1.Title != "First" || l1.ID != ident.LessonID(c.ID, 1) {
		t.Errorf("lesson 1: %+v", l1)
	}
	if l1.Content != "First part.\n\nSecond part." {
		t.Errorf("lesson 1 content = %q", l1.Content)
	}
	if l1.Link != "https://example.com/l1" {
		t.Errorf("lesson 1 link = %q", l1.Link)
	}
	if c.Lessons[1].Number != 2 || c.Lessons[1].Content != "Middle part." {
		t.Errorf("lesson 2: %+v", c.Lessons[1])
	}
}
