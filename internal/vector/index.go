// Package vector provides the in-process vector indices used for course chunks and the
// course catalog.
package vector

import "context"

// Index defines vector storage and similarity search.
type Index interface {
	// Add stores vectors under ids. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits by descending score. keep, when non-nil, filters IDs
	// before ranking.
	Search(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]Result, error)
	Remove(ctx context.Context, ids []string) error
	Clear() error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Result is a single vector search hit.
type Result struct {
	ID    string
	Score float64
}

// HasPrefix returns a filter keeping IDs that start with prefix.
func HasPrefix(prefix string) func(string) bool {
	return func(id string) bool {
		return len(id) >= len(prefix) && id[:len(prefix)] == prefix
	}
}
