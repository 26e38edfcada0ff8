package vectorstore

import (
	"path/filepath"
	"testing"
	"time"

	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vec.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSerializeVector_RoundTrip(t *testing.T) {
	v := []float32{0.1, -0.2, 0.3, 0.0, 1.5}
	got := DeserializeVector(SerializeVector(v))
	if len(got) != len(v) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("element %d: got %v, want %v", i, got[i], v[i])
		}
	}
}

func TestStore_SearchOrdersByDistanceAscending(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []Row{
		{FrameID: "a", Timestamp: base, Vector: []float32{1, 0, 0}},
		{FrameID: "b", Timestamp: base.Add(time.Minute), Vector: []float32{0, 1, 0}},
		{FrameID: "c", Timestamp: base.Add(2 * time.Minute), Vector: []float32{0.9, 0.1, 0}},
	}
	if err := s.StoreBatch(rows); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search([]float32{1, 0, 0}, 3, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].FrameID != "a" {
		t.Fatalf("closest match should be 'a' (identical vector), got %q", results[0].FrameID)
	}
	if results[0].Distance > results[1].Distance || results[1].Distance > results[2].Distance {
		t.Fatalf("results not sorted ascending by distance: %+v", results)
	}
}

func TestStore_SearchAppliesTimePreFilter(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		row := Row{FrameID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Hour), Vector: []float32{1, 0, 0}}
		if err := s.StoreFrame(row); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.Search([]float32{1, 0, 0}, 10, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results within the time window, got %d: %+v", len(results), results)
	}
}

func TestStore_StoreFrameReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.StoreFrame(Row{FrameID: "x", Timestamp: base, Vector: []float32{1, 0}, OCRText: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreFrame(Row{FrameID: "x", Timestamp: base, Vector: []float32{1, 0}, OCRText: "new"}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search([]float32{1, 0}, 10, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 row after replace, got %d", len(results))
	}
	if results[0].OCRText != "new" {
		t.Fatalf("expected replaced OCRText 'new', got %q", results[0].OCRText)
	}
}

func TestStore_EmptyStoreReturnsNoResults(t *testing.T) {
	s := openTestStore(t)
	results, err := s.Search([]float32{1, 0, 0}, 5, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from an empty store, got %d", len(results))
	}
}

func TestStore_OptimizeDeletesUnverifiedOrphans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE frames (frame_id TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO frames (frame_id) VALUES ('kept')`); err != nil {
		t.Fatal(err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.StoreBatch([]Row{
		{FrameID: "kept", Timestamp: base, Vector: []float32{1, 0}},
		{FrameID: "orphan", Timestamp: base, Vector: []float32{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.Optimize(time.Time{}, true); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search([]float32{1, 0}, 10, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].FrameID != "kept" {
		t.Fatalf("expected only the frame with a matching relational row to survive, got %+v", results)
	}
}

func TestStore_DeleteByFrameID(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.StoreFrame(Row{FrameID: "x", Timestamp: base, Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteByFrameID("x"); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search([]float32{1, 0}, 5, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected row to be gone after delete, got %d results", len(results))
	}
}
