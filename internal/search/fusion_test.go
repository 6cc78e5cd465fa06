package search

import (
	"testing"

	"github.com/hyperjump/lectern/internal/keyword"
	"github.com/hyperjump/lectern/internal/vector"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []keyword.Result{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	}
	m := NormalizeKeywordScores(results)
	if m["b"] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m["b"])
	}
	if m["a"] != 0.5 {
		t.Errorf("a should be 0.5, got %f", m["a"])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("nil input should give an empty map")
	}
}

func TestNormalizeSemanticScores(t *testing.T) {
	results := []vector.Result{
		{ID: "c1", Score: 0.9},
		{ID: "c2", Score: 0.5},
		{ID: "c3", Score: -0.2},
	}
	m := NormalizeSemanticScores(results)
	if m["c1"] != 0.9 || m["c2"] != 0.5 {
		t.Errorf("unexpected map %v", m)
	}
	if m["c3"] != 0 {
		t.Errorf("negative score should clamp to 0, got %f", m["c3"])
	}
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"d1": 1.0, "d2": 0.5}
	sem := map[string]float64{"d1": 0.5, "d2": 1.0, "d3": 0.2}
	results := Fuse(kw, sem, 0.4, 0.6)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ChunkID != "d2" {
		t.Errorf("expected d2 first, got %s", results[0].ChunkID)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("results should be sorted by score descending")
		}
	}
	if results[2].KeywordScore != 0 || results[2].SemanticScore != 0.2 {
		t.Errorf("semantic-only result has wrong parts: %+v", results[2])
	}
}

func TestFuse_tiesOrderedByID(t *testing.T) {
	results := Fuse(map[string]float64{"b": 1, "a": 1}, nil, 1, 1)
	if results[0].ChunkID != "a" || results[1].ChunkID != "b" {
		t.Errorf("ties should be ordered by ID: %s, %s", results[0].ChunkID, results[1].ChunkID)
	}
}
