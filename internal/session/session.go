// Package session keeps the recent conversation of each chat session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/lectern/internal/config"
)

// ErrNotFound is returned for a session ID that was never created or has expired.
var ErrNotFound = errors.New("session not found")

// Store holds per-session conversation history. AddExchange creates an unknown session.
type Store interface {
	Create(ctx context.Context) (string, error)
	AddExchange(ctx context.Context, id, user, assistant string) error
	// History returns the kept messages as "User: ..." / "Assistant: ..." lines.
	History(ctx context.Context, id string) (string, error)
	Clear(ctx context.Context, id string) error
	Close() error
}

// New returns the store selected by cfg.Backend.
func New(cfg config.SessionConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.MaxHistory), nil
	case "redis":
		st, err := NewRedisStore(cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

type message struct {
	role    string
	content string
}

func (m message) String() string { return m.role + ": " + m.content }

func formatHistory(lines []string) string {
	return strings.Join(lines, "\n")
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string][]message
	counter    int
	maxHistory int
}

// NewMemoryStore keeps the last maxHistory exchanges of each session.
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = 2
	}
	return &MemoryStore{sessions: make(map[string][]message), maxHistory: maxHistory}
}

// Create starts a session with ID "session_<n>".
func (s *MemoryStore) Create(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	id := fmt.Sprintf("session_%d", s.counter)
	s.sessions[id] = nil
	return id, nil
}

// AddExchange appends a user message and its answer, dropping the oldest beyond the limit.
func (s *MemoryStore) AddExchange(_ context.Context, id, user, assistant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[id], message{"User", user}, message{"Assistant", assistant})
	if limit := s.maxHistory * 2; len(msgs) > limit {
		msgs = append([]message(nil), msgs[len(msgs)-limit:]...)
	}
	s.sessions[id] = msgs
	return nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.String()
	}
	return formatHistory(lines), nil
}

// Clear forgets a session.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
