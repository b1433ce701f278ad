package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps state in a JSON file, loaded on open and written on Flush
// and Close.
type FileStore struct {
	path string
	mu   sync.Mutex
	// stream -> hash -> remote id
	data  map[string]map[string]string
	dirty bool
}

// OpenFile loads path, or starts empty if it does not exist.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

func (s *FileStore) Lookup(_ context.Context, stream, hash string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data[stream][hash]
	return id, ok, nil
}

func (s *FileStore) Record(_ context.Context, stream, hash, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[stream] == nil {
		s.data[stream] = make(map[string]string)
	}
	s.data[stream][hash] = remoteID
	s.dirty = true
	return nil
}

// Flush writes the file if anything changed since the last write. The write
// goes through a temp file so a crash never leaves a truncated state file.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FileStore) Close() error {
	return s.Flush()
}
