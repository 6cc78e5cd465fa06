// Package ingest parses course documents, splits lessons into chunks and writes them to
// storage and the search indices.
package ingest

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/lectern/internal/ident"
	"github.com/hyperjump/lectern/internal/models"
)

var (
	courseTitleRe      = regexp.MustCompile(`(?i)^course\s+title\s*:\s*(.*)$`)
	courseLinkRe       = regexp.MustCompile(`(?i)^course\s+link\s*:\s*(.*)$`)
	courseInstructorRe = regexp.MustCompile(`(?i)^course\s+instructor\s*:\s*(.*)$`)
	lessonRe           = regexp.MustCompile(`(?i)^lesson\s+(\d+)\s*:\s*(.*)$`)
	lessonLinkRe       = regexp.MustCompile(`(?i)^lesson\s+link\s*:\s*(.*)$`)
)

// ParseCourse reads a course document:
//
//	Course Title: <title>
//	Course Link: <url>
//	Course Instructor: <name>
//
//	Lesson 0: Introduction
//	Lesson Link: <url>
//	<lesson text>
//
// Header lines are optional. Without a title the file name (minus extension) is used. Text
// between the header and the first lesson marker becomes the description. A document
// without lesson markers becomes a single lesson 0 named after the course. A repeated
// lesson number continues the earlier lesson: its text is appended there and the first
// title and link are kept.
func ParseCourse(text, sourcePath string) *models.Course {
	lines := strings.Split(text, "\n")

	var title, link, instructor string
	var preamble []string
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if lessonRe.MatchString(line) {
			break
		}
		switch {
		case title == "" && courseTitleRe.MatchString(line):
			title = strings.TrimSpace(courseTitleRe.FindStringSubmatch(line)[1])
		case link == "" && courseLinkRe.MatchString(line):
			link = strings.TrimSpace(courseLinkRe.FindStringSubmatch(line)[1])
		case instructor == "" && courseInstructorRe.MatchString(line):
			instructor = strings.TrimSpace(courseInstructorRe.FindStringSubmatch(line)[1])
		default:
			preamble = append(preamble, lines[i])
		}
	}
	if title == "" {
		base := filepath.Base(sourcePath)
		title = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	}

	courseID := ident.CourseID(title)
	course := models.NewCourse(courseID, title, collapse(strings.Join(preamble, "\n")))
	course.Link = link
	course.Instructor = instructor
	course.SourcePath = sourcePath

	var current *models.Lesson
	var body []string
	seen := make(map[int]int)
	finish := func() {
		if current == nil {
			return
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if idx, ok := seen[current.Number]; ok {
			prev := &course.Lessons[idx]
			switch {
			case prev.Content == "":
				prev.Content = content
			case content != "":
				prev.Content += "\n\n" + content
			}
			if prev.Link == "" {
				prev.Link = current.Link
			}
		} else {
			current.Content = content
			seen[current.Number] = len(course.Lessons)
			course.Lessons = append(course.Lessons, *current)
		}
		current, body = nil, nil
	}
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if m := lessonRe.FindStringSubmatch(line); m != nil {
			finish()
			n, _ := strconv.Atoi(m[1])
			current = models.NewLesson(ident.LessonID(courseID, n), courseID, strings.TrimSpace(m[2]), "", sourcePath)
			current.Number = n
			if j := nextNonBlank(lines, i+1); j >= 0 {
				if lm := lessonLinkRe.FindStringSubmatch(strings.TrimSpace(lines[j])); lm != nil {
					current.Link = strings.TrimSpace(lm[1])
					i = j
				}
			}
			continue
		}
		body = append(body, lines[i])
	}
	finish()

	if len(course.Lessons) == 0 && course.Description != "" {
		lesson := models.NewLesson(ident.LessonID(courseID, 0), courseID, title, course.Description, sourcePath)
		course.Lessons = append(course.Lessons, *lesson)
	}
	return course
}

func nextNonBlank(lines []string, from int) int {
	for j := from; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) != "" {
			return j
		}
	}
	return -1
}

// collapse joins all whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
