// Package storage defines the persistence interface for courses, lessons and chunks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/lectern/internal/models"
)

// ErrNotFound is returned when a course, chunk or source record does not exist.
var ErrNotFound = errors.New("not found")

// SourceRecord remembers which course a file produced and the file state at ingest time.
type SourceRecord struct {
	Path     string
	CourseID string
	ModTime  int64
	Size     int64
}

// Storage defines course and chunk persistence operations.
type Storage interface {
	// Course operations. Lessons are stored and loaded with their course.
	CreateCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetCourseByTitle(ctx context.Context, title string) (*models.Course, error)
	ListCourses(ctx context.Context) ([]*models.Course, error)
	DeleteCourse(ctx context.Context, id string) error
	ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error)

	// Chunk operations
	CreateChunk(ctx context.Context, chunk *models.CourseChunk) error
	BatchCreateChunks(ctx context.Context, chunks []*models.CourseChunk) error
	GetChunk(ctx context.Context, id string) (*models.CourseChunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]*models.CourseChunk, error)
	GetChunksByCourseID(ctx context.Context, courseID string) ([]*models.CourseChunk, error)

	// Source file tracking
	PutSource(ctx context.Context, rec SourceRecord) error
	GetSource(ctx context.Context, path string) (*SourceRecord, error)

	// Stats
	CountCourses(ctx context.Context) (int64, error)
	CountLessons(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// Clear removes every course, lesson, chunk and source record.
	Clear(ctx context.Context) error

	Close() error
}
