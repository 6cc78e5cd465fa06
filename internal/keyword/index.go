// Package keyword provides full-text (BM25) search over course chunks.
package keyword

import "context"

// Document is the keyword-indexed view of one course chunk.
type Document struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	CourseTitle  string  `json:"course_title"`
	LessonTitle  string  `json:"lesson_title"`
	CourseID     string  `json:"course_id"`
	LessonNumber float64 `json:"lesson_number"`
}

// SearchOptions narrow and tune a keyword search. Nil means no filters and defaults.
type SearchOptions struct {
	// CourseID restricts hits to one course.
	CourseID string
	// LessonNumber restricts hits to one lesson.
	LessonNumber *int
	// TitleBoost multiplies matches in the course and lesson title fields. Values <= 0 mean 1.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits (default 1) for typo tolerance.
	FuzzyEnabled bool
	Fuzziness    int
}

// Index defines keyword search operations.
type Index interface {
	IndexDocuments(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error)
	DeleteCourse(ctx context.Context, courseID string) error
	Clear(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit; ID is the chunk ID.
type Result struct {
	ID    string
	Score float64
}
