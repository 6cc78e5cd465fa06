package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/extract"
	"github.com/hyperjump/lectern/internal/ident"
	"github.com/hyperjump/lectern/internal/keyword"
	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/storage"
	"github.com/hyperjump/lectern/internal/vector"
)

// Chunk metadata keys.
const (
	MetaSource      = "source"
	MetaCourseTitle = "course_title"
	MetaLessonTitle = "lesson_title"
	MetaLessonLink  = "lesson_link"
)

// ErrSkipped is returned by IngestFile when another file already provides the course.
var ErrSkipped = errors.New("course already ingested from another file")

// Result describes one ingested file.
type Result struct {
	Course  *models.Course
	Chunks  int
	Skipped bool
}

// Ingester writes courses into storage, the chunk and catalog vector indices and the
// keyword index. Calls are serialized.
type Ingester struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	chunkIndex   vector.Index
	catalogIndex vector.Index
	keywordIndex keyword.Index
	chunker      *Chunker
	extractor    *extract.Extractor
	extensions   []string
	chunkPath    string
	catalogPath  string
	logger       *zap.Logger
	mu           sync.Mutex
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets a logger for ingest events.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

// WithExtensions limits folder ingestion to the given extensions.
func WithExtensions(exts []string) Option {
	return func(in *Ingester) { in.extensions = exts }
}

// WithIndexPaths saves the vector indices to these paths after every change.
func WithIndexPaths(chunkPath, catalogPath string) Option {
	return func(in *Ingester) { in.chunkPath, in.catalogPath = chunkPath, catalogPath }
}

// NewIngester creates an ingester. chunkSize and chunkOverlap are in characters.
func NewIngester(
	store storage.Storage,
	embedder embedding.Embedder,
	chunkIndex, catalogIndex vector.Index,
	keywordIndex keyword.Index,
	chunkSize, chunkOverlap int,
	opts ...Option,
) *Ingester {
	in := &Ingester{
		storage:      store,
		embedder:     embedder,
		chunkIndex:   chunkIndex,
		catalogIndex: catalogIndex,
		keywordIndex: keywordIndex,
		chunker:      NewChunker(chunkSize, chunkOverlap),
		extractor:    extract.NewExtractor(),
		extensions:   extract.DefaultExtensions,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in
}

// IngestFile parses the file at path and stores its course. A file whose modification time
// and size match the last ingest is skipped. A changed file replaces its previous course.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	res, err := in.ingestFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if !res.Skipped {
		if err := in.persist(); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (in *Ingester) ingestFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	prev, err := in.storage.GetSource(ctx, absPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if prev != nil && prev.ModTime == info.ModTime().UnixNano() && prev.Size == info.Size() {
		course, err := in.storage.GetCourse(ctx, prev.CourseID)
		if err == nil {
			in.logger.Debug("skipping unchanged file", zap.String("path", absPath))
			return &Result{Course: course, Skipped: true}, nil
		}
	}

	text, err := in.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	course := ParseCourse(text, absPath)

	existing, err := in.storage.GetCourse(ctx, course.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	case existing.SourcePath != absPath && fileExists(existing.SourcePath):
		in.logger.Info("course already ingested from another file",
			zap.String("course", course.Name), zap.String("path", absPath), zap.String("existing", existing.SourcePath))
		return &Result{Course: existing, Skipped: true}, fmt.Errorf("%s: %w", course.Name, ErrSkipped)
	default:
		if err := in.deleteCourse(ctx, existing.ID); err != nil {
			return nil, err
		}
	}
	if prev != nil && prev.CourseID != course.ID {
		// the file was renamed to a different course title
		if err := in.deleteCourse(ctx, prev.CourseID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	n, err := in.storeCourse(ctx, course)
	if err != nil {
		return nil, err
	}
	if err := in.storage.PutSource(ctx, storage.SourceRecord{
		Path:     absPath,
		CourseID: course.ID,
		ModTime:  info.ModTime().UnixNano(),
		Size:     info.Size(),
	}); err != nil {
		return nil, fmt.Errorf("record source: %w", err)
	}
	in.logger.Info("course ingested",
		zap.String("course", course.Name), zap.Int("lessons", len(course.Lessons)), zap.Int("chunks", n))
	return &Result{Course: course, Chunks: n}, nil
}

// storeCourse chunks, embeds and writes a parsed course to every store.
func (in *Ingester) storeCourse(ctx context.Context, course *models.Course) (int, error) {
	chunks := in.chunkCourse(course)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if err := in.storage.CreateCourse(ctx, course); err != nil {
		return 0, fmt.Errorf("failed to store course: %w", err)
	}
	if err := in.storage.BatchCreateChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := in.indexChunks(ctx, course, chunks, embeddings); err != nil {
		return 0, err
	}
	if err := in.indexCatalog(ctx, course); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// chunkCourse splits every lesson. The first chunk of a lesson is prefixed with
// "Lesson <n> content: " so the lesson number is searchable.
func (in *Ingester) chunkCourse(course *models.Course) []*models.CourseChunk {
	var chunks []*models.CourseChunk
	source := filepath.Base(course.SourcePath)
	for _, lesson := range course.Lessons {
		for i, text := range in.chunker.Split(lesson.Content) {
			if i == 0 {
				text = fmt.Sprintf("Lesson %d content: %s", lesson.Number, text)
			}
			meta := map[string]interface{}{
				MetaSource:      source,
				MetaCourseTitle: course.Name,
				MetaLessonTitle: lesson.Title,
			}
			if lesson.Link != "" {
				meta[MetaLessonLink] = lesson.Link
			}
			ch := models.NewCourseChunk(ident.ChunkID(course.ID, lesson.Number, i), course.ID, lesson.ID, text, meta)
			ch.LessonNumber = lesson.Number
			ch.ChunkIndex = i
			chunks = append(chunks, ch)
		}
	}
	return chunks
}

func (in *Ingester) indexChunks(ctx context.Context, course *models.Course, chunks []*models.CourseChunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	docs := make([]keyword.Document, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
		ch.Embedding = embeddings[i]
		lessonTitle := ""
		if l := course.Lesson(ch.LessonNumber); l != nil {
			lessonTitle = l.Title
		}
		docs[i] = keyword.Document{
			ID:           ch.ID,
			Content:      ch.Content,
			CourseTitle:  course.Name,
			LessonTitle:  lessonTitle,
			CourseID:     course.ID,
			LessonNumber: float64(ch.LessonNumber),
		}
	}
	if err := in.chunkIndex.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	if err := in.keywordIndex.IndexDocuments(ctx, docs); err != nil {
		return fmt.Errorf("failed to index keywords: %w", err)
	}
	return nil
}

// catalogText is what the catalog index embeds for a course.
func catalogText(course *models.Course) string {
	if course.Instructor == "" {
		return course.Name
	}
	return course.Name + " " + course.Instructor
}

func (in *Ingester) indexCatalog(ctx context.Context, course *models.Course) error {
	v, err := in.embedder.Embed(ctx, catalogText(course))
	if err != nil {
		return fmt.Errorf("failed to embed course title: %w", err)
	}
	if err := in.catalogIndex.Add(ctx, []string{course.ID}, [][]float32{v}); err != nil {
		return fmt.Errorf("failed to index course title: %w", err)
	}
	return nil
}

// IngestFolder ingests every file under dir with an allowed extension, recursing into
// sub-folders when recursive is set. When clearExisting is set all stores are wiped first.
// It returns the number of courses and chunks added; unchanged and duplicate files are
// skipped. A file that fails is logged and does not stop the walk.
func (in *Ingester) IngestFolder(ctx context.Context, dir string, recursive, clearExisting bool) (courses, chunks int, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, 0, fmt.Errorf("not a directory: %s", absDir)
	}
	if clearExisting {
		if err := in.clear(ctx); err != nil {
			return 0, 0, err
		}
	}

	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ExtensionAllowed(filepath.Ext(path), in.extensions) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := in.ingestFile(ctx, path)
		if err != nil {
			if !errors.Is(err, ErrSkipped) {
				in.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if !res.Skipped {
			courses++
			chunks += res.Chunks
		}
		return nil
	})
	if err != nil {
		return courses, chunks, err
	}
	if courses > 0 || clearExisting {
		if err := in.persist(); err != nil {
			return courses, chunks, err
		}
	}
	return courses, chunks, nil
}

// DeleteCourse removes a course from storage and every index.
func (in *Ingester) DeleteCourse(ctx context.Context, courseID string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.deleteCourse(ctx, courseID); err != nil {
		return err
	}
	return in.persist()
}

// DeleteBySource removes the course that was ingested from path.
func (in *Ingester) DeleteBySource(ctx context.Context, path string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	rec, err := in.storage.GetSource(ctx, absPath)
	if err != nil {
		return err
	}
	if err := in.deleteCourse(ctx, rec.CourseID); err != nil {
		return err
	}
	return in.persist()
}

func (in *Ingester) deleteCourse(ctx context.Context, courseID string) error {
	chunks, err := in.storage.GetChunksByCourseID(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	if err := in.chunkIndex.Remove(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := in.catalogIndex.Remove(ctx, []string{courseID}); err != nil {
		return fmt.Errorf("failed to delete from catalog index: %w", err)
	}
	if err := in.keywordIndex.DeleteCourse(ctx, courseID); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := in.storage.DeleteCourse(ctx, courseID); err != nil {
		return err
	}
	in.logger.Debug("course deleted", zap.String("id", courseID))
	return nil
}

// Clear removes every course from storage and every index.
func (in *Ingester) Clear(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.clear(ctx); err != nil {
		return err
	}
	return in.persist()
}

func (in *Ingester) clear(ctx context.Context) error {
	if err := in.storage.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	if err := in.keywordIndex.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear keyword index: %w", err)
	}
	if err := in.chunkIndex.Clear(); err != nil {
		return err
	}
	return in.catalogIndex.Clear()
}

// Rebuild re-embeds every stored course into the vector and keyword indices. It is used
// when an index file is missing or out of step with the database.
func (in *Ingester) Rebuild(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	courses, err := in.storage.ListCourses(ctx)
	if err != nil {
		return err
	}
	if err := in.keywordIndex.Clear(ctx); err != nil {
		return err
	}
	if err := in.chunkIndex.Clear(); err != nil {
		return err
	}
	if err := in.catalogIndex.Clear(); err != nil {
		return err
	}
	for _, course := range courses {
		chunks, err := in.storage.GetChunksByCourseID(ctx, course.ID)
		if err != nil {
			return err
		}
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		embeddings, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if err := in.indexChunks(ctx, course, chunks, embeddings); err != nil {
			return err
		}
		if err := in.indexCatalog(ctx, course); err != nil {
			return err
		}
	}
	in.logger.Info("indices rebuilt", zap.Int("courses", len(courses)))
	return in.persist()
}

func (in *Ingester) persist() error {
	if err := in.chunkIndex.Save(in.chunkPath); err != nil {
		return fmt.Errorf("save chunk index: %w", err)
	}
	if err := in.catalogIndex.Save(in.catalogPath); err != nil {
		return fmt.Errorf("save catalog index: %w", err)
	}
	return nil
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
// An empty allowed list permits everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	norm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == norm {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
