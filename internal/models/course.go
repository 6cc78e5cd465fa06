// Package models defines course catalog records and the query request/response shapes.
package models

import "time"

// Course is a top-level grouping of lessons parsed from one course document.
type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Link        string    `json:"link,omitempty"`
	Instructor  string    `json:"instructor,omitempty"`
	SourcePath  string    `json:"source_path,omitempty"`
	Lessons     []Lesson  `json:"lessons"`
	CreatedAt   time.Time `json:"created_at"`
}

// Lesson is a content unit of a course. CourseID is a back-reference only; nothing
// checks that the course exists.
type Lesson struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
	Link     string `json:"link,omitempty"`
}

// CourseChunk is a retrieval fragment of lesson content.
type CourseChunk struct {
	ID           string                 `json:"id"`
	CourseID     string                 `json:"course_id"`
	LessonID     string                 `json:"lesson_id"`
	LessonNumber int                    `json:"lesson_number"`
	ChunkIndex   int                    `json:"chunk_index"`
	Content      string                 `json:"content"`
	Metadata     map[string]interface{} `json:"metadata"`
	Embedding    []float32              `json:"-"`
	CreatedAt    time.Time              `json:"created_at"`
}

// NewCourse returns a course with the given fields. Lessons is never nil, so a course
// built without lessons serializes as "lessons": [].
func NewCourse(id, name, description string, lessons ...Lesson) *Course {
	if lessons == nil {
		lessons = []Lesson{}
	}
	return &Course{
		ID:          id,
		Name:        name,
		Description: description,
		Lessons:     lessons,
	}
}

// NewLesson returns a lesson echoing the given fields.
func NewLesson(id, courseID, title, content, filePath string) *Lesson {
	return &Lesson{
		ID:       id,
		CourseID: courseID,
		Title:    title,
		Content:  content,
		FilePath: filePath,
	}
}

// NewCourseChunk returns a chunk echoing the given fields. The metadata map is kept as is.
func NewCourseChunk(id, courseID, lessonID, content string, metadata map[string]interface{}) *CourseChunk {
	return &CourseChunk{
		ID:       id,
		CourseID: courseID,
		LessonID: lessonID,
		Content:  content,
		Metadata: metadata,
	}
}

// Lesson returns the lesson with the given number, or nil.
func (c *Course) Lesson(number int) *Lesson {
	for i := range c.Lessons {
		if c.Lessons[i].Number == number {
			return &c.Lessons[i]
		}
	}
	return nil
}

// Summary returns the catalog entry for the course.
func (c *Course) Summary() CourseSummary {
	return CourseSummary{
		ID:          c.ID,
		Name:        c.Name,
		Instructor:  c.Instructor,
		Link:        c.Link,
		LessonCount: len(c.Lessons),
	}
}
