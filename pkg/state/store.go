package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists run state between invocations.
type Store interface {
	// Load reads the persisted state. An empty backend yields a fresh
	// run state, not an error.
	Load(ctx context.Context) (*RunState, error)

	// Save writes the state atomically. Implementations persist the
	// collapsed snapshot, never the live state.
	Save(ctx context.Context, s *RunState) error
}

// persistable returns the collapsed, copied form that stores write out.
func persistable(s *RunState) *RunState {
	out := &RunState{Bookmarks: s.Snapshot()}
	if s.Token != nil {
		token := *s.Token
		out.Token = &token
	}
	return out
}

// FileStore keeps run state in a single JSON file, written via a
// temp-file rename so a crash mid-write cannot corrupt the previous
// checkpoint.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed state store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context) (*RunState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRunState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	s := NewRunState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", f.path, err)
	}
	if s.Bookmarks == nil {
		s.Bookmarks = map[string]Bookmark{}
	}
	return s, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, s *RunState) error {
	data, err := json.MarshalIndent(persistable(s), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("commit state file: %w", err)
	}
	return nil
}
