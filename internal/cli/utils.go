// Package cli renders lectern command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/rag"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat parses a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// StatusReport is the body of GET /api/status.
type StatusReport struct {
	Version          string      `json:"version"`
	Status           *rag.Status `json:"status"`
	WatchDirectories []string    `json:"watch_directories,omitempty"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a query answer and its sources.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(resp.Answer))
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range resp.Sources {
			if src.Link != "" {
				fmt.Fprintf(w, "  - %s (%s)\n", src.Label, src.Link)
			} else {
				fmt.Fprintf(w, "  - %s\n", src.Label)
			}
		}
	}
	fmt.Fprintf(w, "\nsession: %s\n", resp.SessionID)
	return nil
}

// WriteCourses writes the course catalog.
func WriteCourses(w io.Writer, catalog *models.CourseCatalog, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, catalog)
	}
	fmt.Fprintf(w, "%d course(s)\n", catalog.TotalCourses)
	for _, c := range catalog.Courses {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%s\n", Truncate(c.Name, 72))
		fmt.Fprintf(w, "  id:       %s\n", c.ID)
		if c.Instructor != "" {
			fmt.Fprintf(w, "  by:       %s\n", c.Instructor)
		}
		if c.Link != "" {
			fmt.Fprintf(w, "  link:     %s\n", c.Link)
		}
		fmt.Fprintf(w, "  lessons:  %d\n", c.LessonCount)
	}
	return nil
}

// WriteCourse writes one course with its lesson list.
func WriteCourse(w io.Writer, course *models.Course, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, course)
	}
	fmt.Fprintf(w, "%s\n", course.Name)
	if course.Instructor != "" {
		fmt.Fprintf(w, "Instructor: %s\n", course.Instructor)
	}
	if course.Link != "" {
		fmt.Fprintf(w, "Link: %s\n", course.Link)
	}
	if course.Description != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(course.Description, 40))
	}
	fmt.Fprintln(w)
	for _, l := range course.Lessons {
		fmt.Fprintf(w, "  Lesson %d: %s\n", l.Number, l.Title)
	}
	return nil
}

// WriteStatus writes system status.
func WriteStatus(w io.Writer, report *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	st := report.Status
	if report.Version != "" {
		fmt.Fprintf(w, "version:             %s\n", report.Version)
	}
	if st != nil {
		fmt.Fprintf(w, "courses:             %d\n", st.Courses)
		fmt.Fprintf(w, "lessons:             %d\n", st.Lessons)
		fmt.Fprintf(w, "chunks:              %d\n", st.Chunks)
		fmt.Fprintf(w, "vector_index_size:   %d\n", st.VectorIndexSize)
		fmt.Fprintf(w, "catalog_index_size:  %d\n", st.CatalogIndexSize)
		fmt.Fprintf(w, "keyword_documents:   %d\n", st.KeywordDocuments)
		if st.DiskUsageBytes >= 0 {
			fmt.Fprintf(w, "disk_usage_bytes:    %d\n", st.DiskUsageBytes)
		}
		fmt.Fprintf(w, "provider:            %s\n", st.Provider)
		fmt.Fprintf(w, "embedding_provider:  %s\n", st.EmbeddingProvider)
		if st.EmbeddingCache != nil {
			fmt.Fprintf(w, "embedding_cache:     %d hits, %d misses\n", st.EmbeddingCache.Hits, st.EmbeddingCache.Misses)
		}
		if len(st.Config) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "# configuration")
			keys := make([]string, 0, len(st.Config))
			for k := range st.Config {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%-20s %v\n", k+":", st.Config[k])
			}
		}
	}
	if len(report.WatchDirectories) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# watched directories")
		for _, d := range report.WatchDirectories {
			fmt.Fprintln(w, d)
		}
	}
	return nil
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
