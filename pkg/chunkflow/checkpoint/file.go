package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MarkerExt is the file extension of FileStore markers.
const MarkerExt = ".checkpoint"

// FileStore keeps one zero-byte file per marker at
// <root>/<stage>/<unitKey>.checkpoint. Markers written by other processes
// sharing the directory are visible immediately.
type FileStore struct {
	root   string
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates root if needed and returns a store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create marker root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the marker directory.
func (s *FileStore) Root() string { return s.root }

// Path returns the marker file path for (stage, unitKey).
func (s *FileStore) Path(stage, unitKey string) string {
	return filepath.Join(s.root, stage, unitKey+MarkerExt)
}

// Exists implements Store.
func (s *FileStore) Exists(stage, unitKey string) (bool, error) {
	if err := validateMarker(stage, unitKey); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	_, err := os.Stat(s.Path(stage, unitKey))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check marker: %w", err)
	}
	return true, nil
}

// Create implements Store. The marker appears under its final name all at
// once: an empty temp file is hard-linked into place (rename where links
// are unsupported), so a crash never leaves a partial marker.
func (s *FileStore) Create(stage, unitKey string) error {
	if err := validateMarker(stage, unitKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	final := s.Path(stage, unitKey)
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stage directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp marker: %w", err)
	}

	err = os.Link(tmpName, final)
	switch {
	case err == nil, errors.Is(err, fs.ErrExist):
		return nil
	default:
		if err := os.Rename(tmpName, final); err != nil {
			return fmt.Errorf("create marker: %w", err)
		}
		return nil
	}
}

// List implements Store.
func (s *FileStore) List(stage string) ([]Marker, error) {
	if err := validateKey("stage", stage); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(filepath.Join(s.root, stage))
	if errors.Is(err, fs.ErrNotExist) {
		return []Marker{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}

	markers := make([]Marker, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, MarkerExt) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Cleared concurrently.
			continue
		}
		markers = append(markers, Marker{
			Stage:     stage,
			UnitKey:   strings.TrimSuffix(name, MarkerExt),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].UnitKey < markers[j].UnitKey
	})
	return markers, nil
}

// Stages implements Store.
func (s *FileStore) Stages() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	stages := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(s.root, e.Name(), "*"+MarkerExt))
		if err != nil {
			return nil, fmt.Errorf("list stages: %w", err)
		}
		if len(matches) > 0 {
			stages = append(stages, e.Name())
		}
	}
	sort.Strings(stages)
	return stages, nil
}

// Clear implements Store.
func (s *FileStore) Clear(stage, unitKey string) error {
	if err := validateMarker(stage, unitKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.Path(stage, unitKey))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}

// ClearStage implements Store. Only marker files are removed; anything
// else in the stage directory is left alone.
func (s *FileStore) ClearStage(stage string) error {
	if err := validateKey("stage", stage); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	matches, err := filepath.Glob(filepath.Join(s.root, stage, "*"+MarkerExt))
	if err != nil {
		return fmt.Errorf("clear stage markers: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear stage markers: %w", err)
		}
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
