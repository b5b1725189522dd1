package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// ErrDraftNotFound is returned by DraftStore.Load for an unknown id.
var ErrDraftNotFound = errors.New("composer: draft not found")

// DraftStore persists encoded drafts. Decoding and normalisation happen in
// the composer, so drivers only move bytes.
type DraftStore interface {
	// Load returns the stored bytes or ErrDraftNotFound.
	Load(ctx context.Context, id string) ([]byte, error)

	// Save creates or replaces a draft.
	Save(ctx context.Context, id string, data []byte) error

	// Delete removes a draft. Deleting a missing draft is not an error.
	Delete(ctx context.Context, id string) error

	// HealthCheck reports whether the backing storage is reachable.
	HealthCheck(ctx context.Context) error
}

// --- MemoryDraftStore ---

// MemoryDraftStore keeps drafts in process memory.
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

// NewMemoryDraftStore creates an empty in-memory store.
func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string][]byte)}
}

func (s *MemoryDraftStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryDraftStore) Save(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[id] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryDraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, id)
	return nil
}

func (s *MemoryDraftStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of drafts. For testing.
func (s *MemoryDraftStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

// --- FileDraftStore ---

var safeID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileDraftStore keeps one JSON file per draft in a directory. It is the
// native client's local storage.
type FileDraftStore struct {
	dir string
}

// NewFileDraftStore uses dir, creating it on first save.
func NewFileDraftStore(dir string) *FileDraftStore {
	return &FileDraftStore{dir: dir}
}

func (s *FileDraftStore) path(id string) (string, error) {
	if !safeID.MatchString(id) || id == "." || id == ".." {
		return "", fmt.Errorf("composer: invalid draft id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileDraftStore) Load(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("composer: read draft: %w", err)
	}
	return data, nil
}

func (s *FileDraftStore) Save(_ context.Context, id string, data []byte) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("composer: mkdir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("composer: write draft: %w", err)
	}
	return os.Rename(tmp, p)
}

func (s *FileDraftStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("composer: remove draft: %w", err)
	}
	return nil
}

func (s *FileDraftStore) HealthCheck(context.Context) error {
	if info, err := os.Stat(s.dir); err == nil && !info.IsDir() {
		return fmt.Errorf("composer: %s is not a directory", s.dir)
	}
	return nil
}
