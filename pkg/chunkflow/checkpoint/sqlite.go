package checkpoint

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists markers to SQLite.
// It is suitable for single-host pipelines that prefer one file over a
// marker directory tree.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite marker store.
// The path should be a file path (e.g., "./markers.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS markers (
			stage TEXT NOT NULL,
			unit_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (stage, unit_key)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(stage, unitKey string) (bool, error) {
	if err := validateMarker(stage, unitKey); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM markers
		WHERE stage = ? AND unit_key = ?
	`, stage, unitKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check marker: %w", err)
	}
	return n > 0, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(stage, unitKey string) error {
	if err := validateMarker(stage, unitKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO markers (stage, unit_key, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stage, unit_key) DO NOTHING
	`, stage, unitKey, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(stage string) ([]Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT unit_key, created_at
		FROM markers
		WHERE stage = ?
		ORDER BY unit_key
	`, stage)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	markers := []Marker{}
	for rows.Next() {
		m := Marker{Stage: stage}
		var created string
		if err := rows.Scan(&m.UnitKey, &created); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return markers, nil
}

// Stages implements Store.
func (s *SQLiteStore) Stages() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT DISTINCT stage FROM markers ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	stages := []string{}
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return stages, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(stage, unitKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM markers
		WHERE stage = ? AND unit_key = ?
	`, stage, unitKey)
	if err != nil {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}

// ClearStage implements Store.
func (s *SQLiteStore) ClearStage(stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM markers WHERE stage = ?`, stage); err != nil {
		return fmt.Errorf("clear stage markers: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
