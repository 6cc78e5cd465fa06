package models

// CourseSummary is one entry of the course catalog.
type CourseSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Instructor  string `json:"instructor,omitempty"`
	Link        string `json:"link,omitempty"`
	LessonCount int    `json:"lesson_count"`
}

// CourseCatalog is the response of GET /api/courses.
type CourseCatalog struct {
	TotalCourses int             `json:"total_courses"`
	CourseTitles []string        `json:"course_titles"`
	Courses      []CourseSummary `json:"courses"`
}

// NewCourseCatalog builds a catalog from courses in the given order.
func NewCourseCatalog(courses []*Course) *CourseCatalog {
	cat := &CourseCatalog{
		TotalCourses: len(courses),
		CourseTitles: make([]string, 0, len(courses)),
		Courses:      make([]CourseSummary, 0, len(courses)),
	}
	for _, c := range courses {
		cat.CourseTitles = append(cat.CourseTitles, c.Name)
		cat.Courses = append(cat.Courses, c.Summary())
	}
	return cat
}
