package rag

import (
	"context"
	"fmt"

	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/storage"
)

// Status describes what the system holds and how it is configured.
type Status struct {
	Courses           int64          `json:"courses"`
	Lessons           int64          `json:"lessons"`
	Chunks            int64          `json:"chunks"`
	VectorIndexSize   int            `json:"vector_index_size"`
	CatalogIndexSize  int            `json:"catalog_index_size"`
	KeywordDocuments  uint64         `json:"keyword_documents"`
	DiskUsageBytes    int64          `json:"disk_usage_bytes"`
	Provider          string         `json:"provider"`
	EmbeddingProvider string         `json:"embedding_provider"`
	Config            map[string]any `json:"config"`
	EmbeddingCache    *CacheStatus   `json:"embedding_cache,omitempty"`
}

// CacheStatus reports embedding cache effectiveness.
type CacheStatus struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Status collects counts from storage and the indices.
func (s *System) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		VectorIndexSize:   s.chunkIndex.Size(),
		CatalogIndexSize:  s.catalogIndex.Size(),
		Provider:          s.provider.Name(),
		EmbeddingProvider: s.config.Embedding.Provider,
	}
	var err error
	if st.Courses, err = s.storage.CountCourses(ctx); err != nil {
		return nil, fmt.Errorf("failed to count courses: %w", err)
	}
	if st.Lessons, err = s.storage.CountLessons(ctx); err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}
	if st.Chunks, err = s.storage.CountChunks(ctx); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if st.KeywordDocuments, err = s.keywordIndex.DocCount(); err != nil {
		return nil, fmt.Errorf("failed to count keyword documents: %w", err)
	}
	cfg := s.config
	if st.DiskUsageBytes, err = storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.BleveIndexPath,
		cfg.Storage.VectorIndexPath,
		cfg.Storage.CatalogIndexPath,
	); err != nil {
		st.DiskUsageBytes = -1
	}
	if c, ok := s.embedder.(*embedding.CachedEmbedder); ok {
		hits, misses := c.Stats()
		st.EmbeddingCache = &CacheStatus{Hits: hits, Misses: misses}
	}
	st.Config = map[string]any{
		"embedding_dimensions": s.embedder.Dimensions(),
		"chunk_size":           cfg.Search.ChunkSize,
		"chunk_overlap":        cfg.Search.ChunkOverlap,
		"max_results":          cfg.Search.MaxResults,
		"model":                cfg.LLM.Model,
		"max_history":          cfg.Session.MaxHistory,
		"session_backend":      cfg.Session.Backend,
		"database_path":        cfg.Storage.DatabasePath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
		"vector_index_path":    cfg.Storage.VectorIndexPath,
		"docs_directories":     cfg.Docs.Directories,
	}
	return st, nil
}
