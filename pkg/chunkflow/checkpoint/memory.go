package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory marker store for testing.
// Markers are lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	markers map[string]map[string]time.Time // stage -> unit key -> created
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory marker store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markers: make(map[string]map[string]time.Time),
	}
}

// Exists implements Store.
func (m *MemoryStore) Exists(stage, unitKey string) (bool, error) {
	if err := validateMarker(stage, unitKey); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	_, ok := m.markers[stage][unitKey]
	return ok, nil
}

// Create implements Store.
func (m *MemoryStore) Create(stage, unitKey string) error {
	if err := validateMarker(stage, unitKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.markers[stage] == nil {
		m.markers[stage] = make(map[string]time.Time)
	}
	if _, ok := m.markers[stage][unitKey]; !ok {
		m.markers[stage][unitKey] = time.Now().UTC()
	}
	return nil
}

// List implements Store.
func (m *MemoryStore) List(stage string) ([]Marker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	markers := make([]Marker, 0, len(m.markers[stage]))
	for key, created := range m.markers[stage] {
		markers = append(markers, Marker{Stage: stage, UnitKey: key, CreatedAt: created})
	}
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].UnitKey < markers[j].UnitKey
	})
	return markers, nil
}

// Stages implements Store.
func (m *MemoryStore) Stages() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	stages := make([]string, 0, len(m.markers))
	for stage, units := range m.markers {
		if len(units) > 0 {
			stages = append(stages, stage)
		}
	}
	sort.Strings(stages)
	return stages, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(stage, unitKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if units, ok := m.markers[stage]; ok {
		delete(units, unitKey)
	}
	return nil
}

// ClearStage implements Store.
func (m *MemoryStore) ClearStage(stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.markers, stage)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.markers = nil
	return nil
}

// Len returns the total number of markers across all stages.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, units := range m.markers {
		count += len(units)
	}
	return count
}
