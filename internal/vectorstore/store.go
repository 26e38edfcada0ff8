// Package vectorstore implements C5: an embedded vector store over SQLite
// with an in-memory cache for similarity search, pre-filtered by time range
// before the ANN scan rather than after top-k. Adapted from the teacher's
// unused sqlite-vec module, generalized from per-document text chunks to
// per-frame image/OCR vectors.
package vectorstore

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Row is one stored vector: a frame's embedding plus enough metadata to
// answer a search without a second round trip to C4.
type Row struct {
	FrameID   string
	Timestamp time.Time
	ImagePath string
	Vector    []float32
	OCRText   string
	Metadata  string
}

// SearchResult is one hit from Search. Distance is 1-cosine: smaller is
// always more similar, regardless of the store's native metric.
type SearchResult struct {
	FrameID   string
	Timestamp time.Time
	ImagePath string
	Distance  float64
	OCRText   string
	Metadata  string
}

// Store is the interface C8 (query planner) and C7 (coordinator) depend
// on, so a fake can stand in for tests.
type Store interface {
	StoreFrame(row Row) error
	StoreBatch(rows []Row) error
	Search(queryVector []float32, topK int, start, end time.Time) ([]SearchResult, error)
	DeleteByFrameID(frameID string) error
	Optimize(cleanupOlderThan time.Time, deleteUnverified bool) error
}

type cachedRow struct {
	frameID   string
	timestamp time.Time
	imagePath string
	vector    []float32
	norm      float32
	ocrText   string
	metadata  string
}

// SQLiteStore implements Store using SQLite for persistence and an
// in-memory, time-sorted cache for search.
type SQLiteStore struct {
	db    *sql.DB
	table string
	mu    sync.RWMutex

	cache  []cachedRow // sorted by timestamp ascending
	byID   map[string]int
	loaded bool
}

// NewSQLiteStore creates a store backed by db, using the default
// "vector_rows" table (image embeddings). The caller owns the schema (see
// internal/db's vector_rows table, created alongside the relational schema
// so both live in the same file by default).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	return NewSQLiteStoreNamed(db, "vector_rows")
}

// NewSQLiteStoreNamed creates a store backed by db using an arbitrary table
// name, so a second, independent vector space (e.g. C10's parallel OCR-text
// embedding table) can share the same SQLite file without colliding with
// the image vector table's frame_id keys.
func NewSQLiteStoreNamed(db *sql.DB, table string) (*SQLiteStore, error) {
	if table == "" {
		table = "vector_rows"
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		frame_id   TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		image_path TEXT NOT NULL DEFAULT '',
		vector     BLOB NOT NULL,
		ocr_text   TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`, table)); err != nil {
		return nil, fmt.Errorf("vectorstore: create table %s: %w", table, err)
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp)`, table, table)); err != nil {
		return nil, fmt.Errorf("vectorstore: create index on %s: %w", table, err)
	}
	return &SQLiteStore{db: db, table: table, byID: make(map[string]int)}, nil
}

func (s *SQLiteStore) loadCacheLocked() error {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT frame_id, timestamp, image_path, vector, ocr_text, metadata FROM %s ORDER BY timestamp ASC`, s.table))
	if err != nil {
		return fmt.Errorf("vectorstore: load cache: %w", err)
	}
	defer rows.Close()

	var cache []cachedRow
	byID := make(map[string]int)
	for rows.Next() {
		var c cachedRow
		var ts string
		var vecBytes []byte
		if err := rows.Scan(&c.frameID, &ts, &c.imagePath, &vecBytes, &c.ocrText, &c.metadata); err != nil {
			return fmt.Errorf("vectorstore: scan row: %w", err)
		}
		c.timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		c.vector = DeserializeVector(vecBytes)
		c.norm = vectorNorm(c.vector)
		byID[c.frameID] = len(cache)
		cache = append(cache, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("vectorstore: iterate cache: %w", err)
	}
	s.cache = cache
	s.byID = byID
	s.loaded = true
	return nil
}

func (s *SQLiteStore) ensureCacheLocked() error {
	if s.loaded {
		return nil
	}
	return s.loadCacheLocked()
}

// StoreFrame appends (or replaces) one row. Per spec §4.5, a pre-existing
// row with the same frame_id is deleted first.
func (s *SQLiteStore) StoreFrame(row Row) error {
	return s.StoreBatch([]Row{row})
}

// StoreBatch writes many rows in one transaction, the strongly preferred
// path per spec §4.5 ("batched writes ... create one new version per
// batch rather than one per row").
func (s *SQLiteStore) StoreBatch(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("vectorstore: begin: %w", err)
	}

	del, err := tx.Prepare(fmt.Sprintf(`DELETE FROM %s WHERE frame_id = ?`, s.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("vectorstore: prepare delete: %w", err)
	}
	ins, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (frame_id, timestamp, image_path, vector, ocr_text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		del.Close()
		tx.Rollback()
		return fmt.Errorf("vectorstore: prepare insert: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if _, err := del.Exec(r.FrameID); err != nil {
			del.Close()
			ins.Close()
			tx.Rollback()
			return fmt.Errorf("vectorstore: delete existing %s: %w", r.FrameID, err)
		}
		vec := Normalize(r.Vector)
		if _, err := ins.Exec(r.FrameID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.ImagePath, SerializeVector(vec), r.OCRText, r.Metadata, now); err != nil {
			del.Close()
			ins.Close()
			tx.Rollback()
			return fmt.Errorf("vectorstore: insert %s: %w", r.FrameID, err)
		}
	}
	del.Close()
	ins.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorstore: commit: %w", err)
	}

	// Cache invalidation is simplest and correct; a batch insert is
	// infrequent relative to search, so a full reload is acceptable.
	s.loaded = false
	return nil
}

// Search returns the topK rows most similar to queryVector, restricted to
// rows with start <= timestamp <= end when those bounds are non-zero. The
// time window is applied by binary-searching the time-sorted cache before
// the similarity scan runs, never as a post-filter, per spec §4.5.
func (s *SQLiteStore) Search(queryVector []float32, topK int, start, end time.Time) ([]SearchResult, error) {
	s.mu.Lock()
	if err := s.ensureCacheLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	cache := s.cache
	s.mu.Unlock()

	if len(cache) == 0 || topK <= 0 {
		return nil, nil
	}

	lo, hi := 0, len(cache)
	if !start.IsZero() {
		lo = sort.Search(len(cache), func(i int) bool { return !cache[i].timestamp.Before(start) })
	}
	if !end.IsZero() {
		hi = sort.Search(len(cache), func(i int) bool { return cache[i].timestamp.After(end) })
	}
	if lo >= hi {
		return nil, nil
	}
	window := cache[lo:hi]

	query := Normalize(queryVector)
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	type scored struct {
		idx  int
		dist float64
	}
	scoredRows := make([]scored, 0, len(window))
	for i, c := range window {
		if c.norm == 0 || len(c.vector) != len(query) {
			continue
		}
		cos := float64(dotProductUnrolled(query, c.vector)) / float64(queryNorm*c.norm)
		scoredRows = append(scoredRows, scored{idx: i, dist: 1 - cos})
	}
	sort.Slice(scoredRows, func(i, j int) bool { return scoredRows[i].dist < scoredRows[j].dist })
	if len(scoredRows) > topK {
		scoredRows = scoredRows[:topK]
	}

	out := make([]SearchResult, len(scoredRows))
	for i, sr := range scoredRows {
		c := window[sr.idx]
		out[i] = SearchResult{
			FrameID: c.frameID, Timestamp: c.timestamp, ImagePath: c.imagePath,
			Distance: sr.dist, OCRText: c.ocrText, Metadata: c.metadata,
		}
	}
	return out, nil
}

// DeleteByFrameID removes one row from both the database and the cache.
func (s *SQLiteStore) DeleteByFrameID(frameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE frame_id = ?`, s.table), frameID); err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", frameID, err)
	}
	s.loaded = false
	return nil
}

// Optimize drops rows older than cleanupOlderThan (when non-zero) and, if
// deleteUnverified is set, rows whose frame_id has no matching row left in
// the relational frames table (orphaned by a frame deletion or a relational
// rollback that the vector table never saw). The store shares its *sql.DB
// with the relational schema, so this is a plain anti-join rather than a
// caller-supplied id list.
// The version-cleanup equivalent of the original's
// cleanup_lancedb_versions.py script: this implementation has no
// multi-version file layout to compact, so Optimize reduces to VACUUM plus
// age-based deletion.
func (s *SQLiteStore) Optimize(cleanupOlderThan time.Time, deleteUnverified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cleanupOlderThan.IsZero() {
		if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, s.table), cleanupOlderThan.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("vectorstore: cleanup by age: %w", err)
		}
	}
	if deleteUnverified {
		if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE frame_id NOT IN (SELECT frame_id FROM frames)`, s.table)); err != nil {
			return fmt.Errorf("vectorstore: cleanup unverified: %w", err)
		}
	}
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vectorstore: vacuum: %w", err)
	}
	s.loaded = false
	return nil
}
