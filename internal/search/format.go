package search

import (
	"fmt"
	"strings"

	"github.com/hyperjump/lectern/internal/models"
)

// NoResultsText is the tool output when a search finds nothing.
const NoResultsText = "No relevant content found."

// FormatResults renders hits as "[<course> - Lesson <n>]\n<content>" blocks for the model
// and returns one source per distinct course lesson, in hit order.
func FormatResults(hits []Hit) (string, []models.Source) {
	blocks := make([]string, 0, len(hits))
	sources := make([]models.Source, 0, len(hits))
	seen := make(map[string]bool)
	for _, h := range hits {
		title := h.CourseTitle
		if title == "" {
			title = "unknown"
		}
		label := fmt.Sprintf("%s - Lesson %d", title, h.Chunk.LessonNumber)
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", label, h.Chunk.Content))
		if !seen[label] {
			seen[label] = true
			sources = append(sources, models.Source{Label: label, Link: h.LessonLink})
		}
	}
	return strings.Join(blocks, "\n\n"), sources
}

// NoResultsMessage explains an empty search, naming the filters that were applied.
func NoResultsMessage(courseName string, lesson *int) string {
	var filters []string
	if courseName != "" {
		filters = append(filters, fmt.Sprintf("in course '%s'", courseName))
	}
	if lesson != nil {
		filters = append(filters, fmt.Sprintf("in lesson %d", *lesson))
	}
	if len(filters) == 0 {
		return NoResultsText
	}
	return strings.TrimSuffix(NoResultsText, ".") + " " + strings.Join(filters, " ") + "."
}

// FormatOutline renders a course title, link, instructor and lesson list.
func FormatOutline(c *models.Course) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course Title: %s\n", c.Name)
	if c.Link != "" {
		fmt.Fprintf(&b, "Course Link: %s\n", c.Link)
	}
	if c.Instructor != "" {
		fmt.Fprintf(&b, "Course Instructor: %s\n", c.Instructor)
	}
	fmt.Fprintf(&b, "Lessons (%d):", len(c.Lessons))
	for _, l := range c.Lessons {
		fmt.Fprintf(&b, "\n  Lesson %d: %s", l.Number, l.Title)
		if l.Link != "" {
			fmt.Fprintf(&b, " (%s)", l.Link)
		}
	}
	return b.String()
}
