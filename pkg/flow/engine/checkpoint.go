package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint is the persisted form of a suspended run: enough to rebuild the
// record and continue past the interrupting node.
type Checkpoint struct {
	Token     string         `json:"token"`
	ThreadID  string         `json:"thread_id"`
	Node      string         `json:"node"`
	Prompt    string         `json:"prompt"`
	WriteTo   string         `json:"write_to"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// CheckpointStore persists suspended runs by resume token.
type CheckpointStore interface {
	Save(cp *Checkpoint) error
	Load(token string) (*Checkpoint, error)
}

// MemoryStore keeps checkpoints in process. It is the default store, enough
// for same-process resume and for tests.
type MemoryStore struct {
	mu  sync.Mutex
	cps map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.Token] = cp
	return nil
}

func (s *MemoryStore) Load(token string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[token]
	if !ok {
		return nil, fmt.Errorf("no checkpoint for token %q", token)
	}
	return cp, nil
}

// FileStore persists checkpoints as JSON files under a directory, one file
// per resume token.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(token string) string {
	return filepath.Join(s.dir, token+".json")
}

func (s *FileStore) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint marshal: %w", err)
	}
	if err := os.WriteFile(s.path(cp.Token), data, 0o600); err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	return nil
}

func (s *FileStore) Load(token string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(token))
	if err != nil {
		return nil, fmt.Errorf("checkpoint read: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint unmarshal: %w", err)
	}
	return &cp, nil
}
