package vector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	ids := []string{"course:a/lesson-0/chunk-0", "course:a/lesson-1/chunk-0", "course:b/lesson-0/chunk-0"}
	vecs := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0.95, 0, 0.05}}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != ids[0] || results[1].ID != ids[2] {
		t.Fatalf("unexpected results %+v", results)
	}

	filtered, err := idx.Search(ctx, []float32{1, 0, 0}, 5, HasPrefix("course:a/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filter: expected 2, got %+v", filtered)
	}
	for _, r := range filtered {
		if r.ID == ids[2] {
			t.Error("filter should exclude course b")
		}
	}
}

func TestMemoryIndex_AddReplacesExistingID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}})
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1, got %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 1, nil)
	if len(res) != 1 || math.Abs(res[0].Score-1) > 1e-6 {
		t.Errorf("replaced vector not searchable: %+v", res)
	}
}

func TestMemoryIndex_Errors(t *testing.T) {
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected length mismatch error")
	}
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := idx.Search(ctx, []float32{1}, 1, nil); err == nil {
		t.Error("expected query dimension error")
	}
	if res, err := idx.Search(ctx, []float32{1, 0}, 3, nil); err != nil || res != nil {
		t.Errorf("empty index: got %v, %v", res, err)
	}
}

func TestMemoryIndex_RemoveAndClear(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	// slots must stay consistent after compaction
	_ = idx.Add(ctx, []string{"z"}, [][]float32{{0, 1}})
	if idx.Size() != 2 {
		t.Errorf("re-adding z should replace, size=%d", idx.Size())
	}
	if err := idx.Clear(); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 0 {
		t.Errorf("expected empty index after clear, got %d", idx.Size())
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indices", "chunks.vec")
	ctx := context.Background()
	idx, _ := NewMemoryIndex(2)
	_ = idx.Add(ctx, []string{"alpha", "beta"}, [][]float32{{1, 0}, {0.6, 0.8}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size = %d", loaded.Size())
	}
	res, _ := loaded.Search(ctx, []float32{0.6, 0.8}, 1, nil)
	if res[0].ID != "beta" {
		t.Errorf("top after load = %s", res[0].ID)
	}

	wrongDim, _ := NewMemoryIndex(3)
	if err := wrongDim.Load(path); err == nil {
		t.Error("expected dimension mismatch on load")
	}
	if err := loaded.Load(filepath.Join(t.TempDir(), "missing.vec")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
	garbage := filepath.Join(t.TempDir(), "garbage.vec")
	_ = os.WriteFile(garbage, []byte("nope"), 0644)
	if err := loaded.Load(garbage); err == nil {
		t.Error("expected error for garbage file")
	}
}

func TestSimilarity(t *testing.T) {
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("InnerProduct = %f", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched InnerProduct = %f", got)
	}
}
