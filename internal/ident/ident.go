// Package ident derives stable identifiers for courses, lessons and chunks.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const coursePrefix = "course:"

// CourseID returns the ID for a course title. Titles that differ only in case or
// whitespace map to the same ID, so re-ingesting a course replaces it.
func CourseID(title string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	hash := sha256.Sum256([]byte(normalized))
	return coursePrefix + hex.EncodeToString(hash[:8])
}

// LessonID returns the ID of lesson number n within a course.
func LessonID(courseID string, n int) string {
	return fmt.Sprintf("%s/lesson-%d", courseID, n)
}

// ChunkID returns the ID of the index-th chunk of a lesson.
func ChunkID(courseID string, lessonNumber, index int) string {
	return fmt.Sprintf("%s/lesson-%d/chunk-%d", courseID, lessonNumber, index)
}
