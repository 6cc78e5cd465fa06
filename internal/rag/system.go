// Package rag wires document ingestion, hybrid search, the answer generator and chat
// sessions into the course question-answering system.
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/generator"
	"github.com/hyperjump/lectern/internal/ingest"
	"github.com/hyperjump/lectern/internal/keyword"
	"github.com/hyperjump/lectern/internal/llm"
	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/search"
	"github.com/hyperjump/lectern/internal/session"
	"github.com/hyperjump/lectern/internal/storage"
	"github.com/hyperjump/lectern/internal/vector"
)

// System answers questions about ingested course materials.
type System struct {
	config       *config.Config
	storage      storage.Storage
	embedder     embedding.Embedder
	chunkIndex   *vector.MemoryIndex
	catalogIndex *vector.MemoryIndex
	keywordIndex keyword.Index
	ingester     *ingest.Ingester
	searcher     *search.Searcher
	provider     llm.Provider
	generator    *generator.Generator
	sessions     session.Store
	logger       *zap.Logger
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger passed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(s *System) { s.logger = l }
}

// WithProvider replaces the provider selected from the llm config.
func WithProvider(p llm.Provider) Option {
	return func(s *System) { s.provider = p }
}

// WithSessionStore replaces the store selected from the session config.
func WithSessionStore(st session.Store) Option {
	return func(s *System) { s.sessions = st }
}

// WithEmbedder replaces the embedder selected from the embedding config.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *System) { s.embedder = e }
}

// New opens storage and indices from cfg and wires the system. An empty
// storage.bleve_index_path keeps the keyword index in memory. When the saved vector
// indices do not match the database they are rebuilt.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (sys *System, err error) {
	s := &System{config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	s.storage = store
	if s.embedder == nil {
		if s.embedder, err = embedding.New(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}
	dims := s.embedder.Dimensions()
	if s.chunkIndex, err = vector.NewMemoryIndex(dims); err != nil {
		return nil, err
	}
	if s.catalogIndex, err = vector.NewMemoryIndex(dims); err != nil {
		return nil, err
	}
	var kw *keyword.BleveIndex
	if cfg.Storage.BleveIndexPath == "" {
		kw, err = keyword.NewMemoryBleveIndex()
	} else {
		kw, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	s.keywordIndex = kw

	if s.provider == nil {
		if s.provider, err = llm.New(cfg.LLM, s.logger); err != nil {
			return nil, err
		}
	}
	if s.sessions == nil {
		if s.sessions, err = session.New(cfg.Session); err != nil {
			return nil, err
		}
	}

	s.ingester = ingest.NewIngester(s.storage, s.embedder, s.chunkIndex, s.catalogIndex, s.keywordIndex,
		cfg.Search.ChunkSize, cfg.Search.ChunkOverlap,
		ingest.WithLogger(s.logger),
		ingest.WithExtensions(cfg.Docs.Extensions),
		ingest.WithIndexPaths(cfg.Storage.VectorIndexPath, cfg.Storage.CatalogIndexPath))
	s.searcher = search.NewSearcher(s.storage, s.embedder, s.chunkIndex, s.catalogIndex, s.keywordIndex,
		cfg.Search, search.WithLogger(s.logger))
	s.generator = generator.NewGenerator(s.provider, cfg.LLM, generator.WithLogger(s.logger))

	if err := s.loadIndices(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("rag system ready",
		zap.String("provider", s.provider.Name()),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", dims),
		zap.Int("chunks", s.chunkIndex.Size()))
	return s, nil
}

func (s *System) loadIndices(ctx context.Context) error {
	rebuild := false
	if err := s.chunkIndex.Load(s.config.Storage.VectorIndexPath); err != nil {
		s.logger.Warn("failed to load chunk index, rebuilding", zap.Error(err))
		rebuild = true
	}
	if err := s.catalogIndex.Load(s.config.Storage.CatalogIndexPath); err != nil {
		s.logger.Warn("failed to load catalog index, rebuilding", zap.Error(err))
		rebuild = true
	}
	chunks, err := s.storage.CountChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	courses, err := s.storage.CountCourses(ctx)
	if err != nil {
		return fmt.Errorf("failed to count courses: %w", err)
	}
	kwDocs, err := s.keywordIndex.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count keyword documents: %w", err)
	}
	if int64(s.chunkIndex.Size()) != chunks || int64(s.catalogIndex.Size()) != courses || int64(kwDocs) != chunks {
		rebuild = true
	}
	if !rebuild {
		return nil
	}
	s.logger.Info("indices out of date with database, rebuilding",
		zap.Int64("chunks", chunks), zap.Int("vector_size", s.chunkIndex.Size()), zap.Uint64("keyword_docs", kwDocs))
	return s.ingester.Rebuild(ctx)
}

// LoadDocuments ingests every configured docs directory. With docs.clear_on_startup the
// stores are wiped before the first directory. Missing directories are logged and skipped.
func (s *System) LoadDocuments(ctx context.Context) (courses, chunks int, err error) {
	clearFirst := s.config.Docs.ClearOnStartup
	for _, dir := range s.config.Docs.Directories {
		if _, statErr := os.Stat(dir); statErr != nil {
			s.logger.Warn("docs directory unavailable", zap.String("dir", dir), zap.Error(statErr))
			continue
		}
		c, n, err := s.ingester.IngestFolder(ctx, dir, s.config.Docs.RecursiveOrDefault(), clearFirst)
		if err != nil {
			return courses, chunks, err
		}
		clearFirst = false
		courses += c
		chunks += n
	}
	return courses, chunks, nil
}

// Query answers a question. An empty sessionID starts a new session. The answer's sources
// are those of the last search the model ran for this query.
func (s *System) Query(ctx context.Context, query, sessionID string) (*models.QueryResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	if sessionID == "" {
		id, err := s.sessions.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = id
	}
	history, err := s.sessions.History(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	tools := search.NewToolManager(search.NewCourseSearchTool(s.searcher), search.NewCourseOutlineTool(s.searcher))
	answer, err := s.generator.Generate(ctx, query, history, tools)
	if err != nil {
		return nil, err
	}
	sources := tools.LastSources()
	tools.ResetSources()

	if err := s.sessions.AddExchange(ctx, sessionID, query, answer); err != nil {
		s.logger.Warn("failed to record exchange", zap.String("session_id", sessionID), zap.Error(err))
	}
	return &models.QueryResponse{Answer: answer, Sources: sources, SessionID: sessionID}, nil
}

// Search runs a course content search without the model.
func (s *System) Search(ctx context.Context, req search.Request) (*search.Results, error) {
	return s.searcher.Search(ctx, req)
}

// Courses returns the course catalog.
func (s *System) Courses(ctx context.Context) (*models.CourseCatalog, error) {
	courses, err := s.storage.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return models.NewCourseCatalog(courses), nil
}

// Course returns a course with its lessons.
func (s *System) Course(ctx context.Context, id string) (*models.Course, error) {
	return s.storage.GetCourse(ctx, id)
}

// Outline resolves a course by a possibly partial name.
func (s *System) Outline(ctx context.Context, name string) (*models.Course, error) {
	return s.searcher.Outline(ctx, name)
}

// IngestFile ingests one course document.
func (s *System) IngestFile(ctx context.Context, path string) (*ingest.Result, error) {
	return s.ingester.IngestFile(ctx, path)
}

// IngestFolder ingests every course document under dir.
func (s *System) IngestFolder(ctx context.Context, dir string, clearExisting bool) (courses, chunks int, err error) {
	return s.ingester.IngestFolder(ctx, dir, s.config.Docs.RecursiveOrDefault(), clearExisting)
}

// IngestPath ingests a file or a folder.
func (s *System) IngestPath(ctx context.Context, path string) (courses, chunks int, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if info.IsDir() {
		return s.IngestFolder(ctx, path, false)
	}
	res, err := s.IngestFile(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	if res.Skipped {
		return 0, 0, nil
	}
	return 1, res.Chunks, nil
}

// Clear removes every course from storage and the indices.
func (s *System) Clear(ctx context.Context) error {
	return s.ingester.Clear(ctx)
}

// DeleteCourse removes a course from storage and every index.
func (s *System) DeleteCourse(ctx context.Context, id string) error {
	return s.ingester.DeleteCourse(ctx, id)
}

// DeleteBySource removes the course ingested from path, if any.
func (s *System) DeleteBySource(ctx context.Context, path string) error {
	return s.ingester.DeleteBySource(ctx, path)
}

// ClearSession forgets a conversation.
func (s *System) ClearSession(ctx context.Context, id string) error {
	return s.sessions.Clear(ctx, id)
}

// Config returns the configuration the system was built from.
func (s *System) Config() *config.Config { return s.config }

// Close releases storage, indices and the session store. Vector indices are saved by the
// ingester after every change.
func (s *System) Close() error {
	var errs []error
	if s.keywordIndex != nil {
		errs = append(errs, s.keywordIndex.Close())
	}
	if s.sessions != nil {
		errs = append(errs, s.sessions.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.storage != nil {
		errs = append(errs, s.storage.Close())
	}
	return errors.Join(errs...)
}
