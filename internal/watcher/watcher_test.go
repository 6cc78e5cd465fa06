package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/lectern/internal/ingest"
	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/storage"
)

// recordingSink records ingests and removals.
type recordingSink struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (s *recordingSink) IngestFile(_ context.Context, path string) (*ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, path)
	return &ingest.Result{Course: models.NewCourse("c", filepath.Base(path), ""), Chunks: 1}, nil
}

func (s *recordingSink) DeleteBySource(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	if strings.HasSuffix(path, "unknown.txt") {
		return storage.ErrNotFound
	}
	return nil
}

func (s *recordingSink) snapshot() (ingested, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ingested...), append([]string(nil), s.removed...)
}

func containsSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, sink Sink, roots []string, exts []string) *Watcher {
	t.Helper()
	w := NewWatcher(sink, roots, exts, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, &recordingSink{}, nil, []string{".txt"})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.AddDirectory(filepath.Join(dir, "missing"), false); err == nil {
		t.Error("expected error adding a missing directory")
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_Start_dropsMissingRoots(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope")
	w := startWatcher(t, &recordingSink{}, []string{dir, missing}, nil)
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("missing root must not be created")
	}
}

func TestWatcher_IngestsChangedDocuments(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := startWatcher(t, sink, []string{dir}, []string{".txt"})

	if err := writeFile(filepath.Join(sub, "course.txt"), "Course Title: Go"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(sub, "notes.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(sub, ".hidden.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	ok := waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return containsSuffix(ingested, "course.txt")
	})
	if !ok {
		t.Fatal("course.txt was not ingested")
	}
	time.Sleep(150 * time.Millisecond)
	ingested, _ := sink.snapshot()
	if containsSuffix(ingested, "notes.xyz") || containsSuffix(ingested, ".hidden.txt") {
		t.Errorf("filtered files were ingested: %v", ingested)
	}
	if n, _ := w.Counts(); n < 1 {
		t.Errorf("ingest count = %d", n)
	}
}

func TestWatcher_RemovesDeletedDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "course.txt")
	if err := writeFile(path, "Course Title: Go"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := startWatcher(t, sink, []string{dir}, []string{".txt"})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	ok := waitFor(t, func() bool {
		_, removed := sink.snapshot()
		return containsSuffix(removed, "course.txt")
	})
	if !ok {
		t.Fatal("removal was not forwarded")
	}
	if _, removed := w.Counts(); removed != 1 {
		t.Errorf("remove count = %d", removed)
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := NewWatcher(sink, []string{dir}, []string{".txt"}, true)
	w.SyncExistingFiles()

	ingested, _ := sink.snapshot()
	if len(ingested) != 1 || !strings.HasSuffix(ingested[0], "a.txt") {
		t.Errorf("expected one ingested file a.txt, got %v", ingested)
	}
}

func TestWatcher_NewDirectoryIsIngested(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, sink, []string{dir}, []string{".txt", ".md"})

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "level1", "doc.md"), "world"); err != nil {
		t.Fatal(err)
	}
	ok := waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return containsSuffix(ingested, "deep.txt") && containsSuffix(ingested, "doc.md")
	})
	if !ok {
		ingested, _ := sink.snapshot()
		t.Errorf("expected deep.txt and doc.md to be ingested, got %v", ingested)
	}
}

func TestIgnored(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/course.txt", false},
		{"/a/.course.txt", true},
		{"/a/course.txt~", true},
		{"/a/.course.txt.swp", true},
		{"/a/course.tmp", true},
	}
	for _, tt := range tests {
		if got := ignored(tt.path); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
