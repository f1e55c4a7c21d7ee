// Package store provides raw key/value backends for chunked array data.
//
// Keys are slash-separated logical paths ("volume/c0/s0/3/2/1"). Layouts in
// the array package decide what the keys mean; stores only move bytes.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	MemoryStoreType = "MemoryStore"
	LocalStoreType  = "LocalStore"

	dirPermissionBits  = 0o755
	filePermissionBits = 0o644
)

// ErrNotFound is returned (wrapped) by Get when a key does not exist.
var ErrNotFound = errors.New("not found")

// Store moves bytes by key.
// Implementations must be safe for concurrent use; concurrent Puts to the
// same key are not coordinated and the last writer wins.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, val []byte) error
	Delete(key string) error
	Exists(key string) (bool, error)
	Type() string
}

// MemoryStore keeps everything in a map. Used for tests and scratch data.
type MemoryStore struct {
	lk   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	d, ok := s.data[normalize(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

func (s *MemoryStore) Put(key string, val []byte) error {
	d := make([]byte, len(val))
	copy(d, val)

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[normalize(key)] = d
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, normalize(key))
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	_, ok := s.data[normalize(key)]
	return ok, nil
}

// Keys returns every stored key with the given prefix, sorted.
func (s *MemoryStore) Keys(prefix string) []string {
	s.lk.RLock()
	defer s.lk.RUnlock()
	prefix = normalize(prefix)
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LocalStore maps keys onto files below a base directory.
// Puts go through a temporary file and a rename so readers never observe
// a partially written value.
type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, err
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

// Base returns the absolute root directory.
func (s *LocalStore) Base() string { return s.base }

// Path returns the filesystem path for a key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(normalize(key)))
}

func (s *LocalStore) Get(key string) ([]byte, error) {
	d, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return d, err
}

func (s *LocalStore) Put(key string, val []byte) error {
	path := s.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissionBits); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, bytes.NewReader(val)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, filePermissionBits); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *LocalStore) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *LocalStore) Exists(key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// normalize applies the logical path rules: forward slashes only, no
// leading or trailing slash, no empty segments.
func normalize(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Join builds a normalized key from path elements.
func Join(elems ...string) string {
	return normalize(strings.Join(elems, "/"))
}
