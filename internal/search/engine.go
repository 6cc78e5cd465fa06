package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/ident"
	"github.com/hyperjump/lectern/internal/ingest"
	"github.com/hyperjump/lectern/internal/keyword"
	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/storage"
	"github.com/hyperjump/lectern/internal/vector"
)

// ErrCourseNotFound is returned when a course name matches no stored course.
var ErrCourseNotFound = errors.New("no course found")

// ErrEmptyQuery is returned by Search when the query is blank.
var ErrEmptyQuery = errors.New("search query cannot be empty")

const titleBoost = 1.5

// Request is a course content search.
type Request struct {
	Query string
	// CourseName is resolved with ResolveCourse; partial and misspelled names work.
	CourseName string
	// LessonNumber restricts results to one lesson when set.
	LessonNumber *int
	// Limit defaults to search.max_results.
	Limit int
}

// Hit is one chunk returned by Search.
type Hit struct {
	Chunk         *models.CourseChunk
	CourseTitle   string
	LessonTitle   string
	LessonLink    string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// Results is the outcome of Search. Course is the resolved course, nil when the request
// named none.
type Results struct {
	Course *models.Course
	Hits   []Hit
}

// Searcher runs hybrid search over course chunks.
type Searcher struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	chunkIndex   vector.Index
	catalogIndex vector.Index
	keywordIndex keyword.Index
	config       config.SearchConfig
	logger       *zap.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets a logger for search events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// NewSearcher creates a searcher with the given dependencies.
func NewSearcher(
	store storage.Storage,
	embedder embedding.Embedder,
	chunkIndex, catalogIndex vector.Index,
	keywordIndex keyword.Index,
	cfg config.SearchConfig,
	opts ...Option,
) *Searcher {
	s := &Searcher{
		storage:      store,
		embedder:     embedder,
		chunkIndex:   chunkIndex,
		catalogIndex: catalogIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ResolveCourse finds the stored course best matching name. It tries an exact
// case-insensitive title, then a title containing name, then the closest title within
// a third of the name's length in edits, then the catalog index.
func (s *Searcher) ResolveCourse(ctx context.Context, name string) (*models.Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty course name", ErrCourseNotFound)
	}
	if c, err := s.storage.GetCourseByTitle(ctx, name); err == nil {
		return c, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	courses, err := s.storage.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	lower := strings.ToLower(name)

	var best *models.Course
	for _, c := range courses {
		if strings.Contains(strings.ToLower(c.Name), lower) {
			if best == nil || len(c.Name) < len(best.Name) {
				best = c
			}
		}
	}
	if best != nil {
		return best, nil
	}

	maxEdits := utf8.RuneCountInString(lower) / 3
	bestDist := maxEdits + 1
	for _, c := range courses {
		d := keyword.LevenshteinDistance(lower, strings.ToLower(c.Name))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if best != nil {
		return best, nil
	}

	if s.catalogIndex != nil && s.catalogIndex.Size() > 0 {
		v, err := s.embedder.Embed(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to embed course name: %w", err)
		}
		hits, err := s.catalogIndex.Search(ctx, v, 1, nil)
		if err != nil {
			return nil, fmt.Errorf("catalog search failed: %w", err)
		}
		if len(hits) > 0 && hits[0].Score >= s.config.CourseMatchThreshold {
			c, err := s.storage.GetCourse(ctx, hits[0].ID)
			if err == nil {
				return c, nil
			}
			s.logger.Warn("catalog index points at missing course", zap.String("course_id", hits[0].ID), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w matching %q", ErrCourseNotFound, name)
}

// Search resolves the requested course and runs vector and keyword search in parallel,
// filtered to that course and lesson, and returns the top fused chunks.
func (s *Searcher) Search(ctx context.Context, req Request) (*Results, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.MaxResults
	}
	if limit <= 0 {
		limit = 5
	}
	candidates := s.config.TopKCandidates
	if candidates < limit {
		candidates = limit
	}

	out := &Results{}
	courseID := ""
	if strings.TrimSpace(req.CourseName) != "" {
		course, err := s.ResolveCourse(ctx, req.CourseName)
		if err != nil {
			return nil, err
		}
		out.Course = course
		courseID = course.ID
	}

	var (
		keywordResults  []keyword.Result
		semanticResults []vector.Result
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if s.config.KeywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.keywordIndex.Search(ctx, query, candidates, &keyword.SearchOptions{
				CourseID:     courseID,
				LessonNumber: req.LessonNumber,
				TitleBoost:   titleBoost,
				FuzzyEnabled: s.config.FuzzyEnabled,
			})
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if s.config.SemanticWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryEmbedding, err := s.embedder.Embed(ctx, query)
			if err != nil {
				errChan <- fmt.Errorf("embedding failed: %w", err)
				return
			}
			results, err := s.chunkIndex.Search(ctx, queryEmbedding, candidates, chunkFilter(courseID, req.LessonNumber))
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults),
		s.config.KeywordWeight, s.config.SemanticWeight)
	top := make([]*FusedResult, 0, limit)
	for _, r := range fused {
		if r.Score <= 0 {
			break
		}
		top = append(top, r)
		if len(top) == limit {
			break
		}
	}
	if len(top) == 0 {
		return out, nil
	}

	ids := make([]string, len(top))
	for i, r := range top {
		ids[i] = r.ChunkID
	}
	chunks, err := s.storage.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	out.Hits = make([]Hit, 0, len(top))
	for _, r := range top {
		ch, ok := chunks[r.ChunkID]
		if !ok {
			s.logger.Debug("index hit without stored chunk", zap.String("chunk_id", r.ChunkID))
			continue
		}
		out.Hits = append(out.Hits, Hit{
			Chunk:         ch,
			CourseTitle:   metaString(ch.Metadata, ingest.MetaCourseTitle),
			LessonTitle:   metaString(ch.Metadata, ingest.MetaLessonTitle),
			LessonLink:    metaString(ch.Metadata, ingest.MetaLessonLink),
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
		})
	}
	s.logger.Debug("search",
		zap.String("query", query),
		zap.String("course_id", courseID),
		zap.Int("keyword_candidates", len(keywordResults)),
		zap.Int("semantic_candidates", len(semanticResults)),
		zap.Int("hits", len(out.Hits)))
	return out, nil
}

// Outline returns the resolved course with its lessons.
func (s *Searcher) Outline(ctx context.Context, courseName string) (*models.Course, error) {
	return s.ResolveCourse(ctx, courseName)
}

// chunkFilter keeps chunk IDs of the given course and lesson; either may be unset.
func chunkFilter(courseID string, lesson *int) func(string) bool {
	switch {
	case courseID != "" && lesson != nil:
		return vector.HasPrefix(ident.LessonID(courseID, *lesson) + "/")
	case courseID != "":
		return vector.HasPrefix(courseID + "/")
	case lesson != nil:
		marker := fmt.Sprintf("/lesson-%d/", *lesson)
		return func(id string) bool { return strings.Contains(id, marker) }
	}
	return nil
}

func metaString(meta map[string]interface{}, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
