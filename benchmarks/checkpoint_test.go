package benchmarks

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
)

// BenchmarkMemoryStore_Create measures in-memory marker creation.
func BenchmarkMemoryStore_Create(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	keys := unitKeys(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Create("histogram", keys[i%len(keys)])
	}
}

// BenchmarkMemoryStore_Exists measures in-memory marker lookup.
func BenchmarkMemoryStore_Exists(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	keys := unitKeys(1000)
	for _, k := range keys {
		_ = store.Create("histogram", k)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Exists("histogram", keys[i%len(keys)])
	}
}

// BenchmarkFileStore_Create measures marker file creation.
func BenchmarkFileStore_Create(b *testing.B) {
	store, err := checkpoint.NewFileStore(filepath.Join(b.TempDir(), "markers"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	keys := unitKeys(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Create("histogram", keys[i%len(keys)])
	}
}

// BenchmarkFileStore_Exists measures marker file lookup.
func BenchmarkFileStore_Exists(b *testing.B) {
	store, err := checkpoint.NewFileStore(filepath.Join(b.TempDir(), "markers"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	keys := unitKeys(100)
	for _, k := range keys {
		_ = store.Create("histogram", k)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Exists("histogram", keys[i%len(keys)])
	}
}

// BenchmarkSQLiteStore_Create measures SQLite marker creation.
func BenchmarkSQLiteStore_Create(b *testing.B) {
	store := createSQLiteStore(b)
	keys := unitKeys(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Create("histogram", keys[i%len(keys)])
	}
}

// BenchmarkSQLiteStore_Exists measures SQLite marker lookup.
func BenchmarkSQLiteStore_Exists(b *testing.B) {
	store := createSQLiteStore(b)
	keys := unitKeys(100)
	for _, k := range keys {
		_ = store.Create("histogram", k)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Exists("histogram", keys[i%len(keys)])
	}
}

// BenchmarkPendingUnits measures the resume scan over a half-done stage.
func BenchmarkPendingUnits(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	cp := checkpoint.New(store)
	units := make([]checkpoint.Unit, 1000)
	for i := range units {
		units[i] = checkpoint.NewUnit("batch", "b1", "channel", "c"+strconv.Itoa(i)).
			WithParam("steps", []int{2, 1})
		if i%2 == 0 {
			_ = cp.MarkDone("apply", units[i])
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cp.PendingUnits("apply", units)
	}
}

// BenchmarkUnitKey measures key rendering with a parameter digest.
func BenchmarkUnitKey(b *testing.B) {
	u := checkpoint.NewUnit("batch", "b1", "time", "t1", "channel", "c3", "res", "s2").
		WithParam("steps", map[string]any{"kind": "affine", "iterations": 1000})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = u.Key()
	}
}

// Helper functions

func unitKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = checkpoint.NewUnit("chunk", strconv.Itoa(i)).Key()
	}
	return keys
}

func createSQLiteStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { store.Close() })
	return store
}
