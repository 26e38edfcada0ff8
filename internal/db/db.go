// Package db implements C4, the relational store: a single embedded
// SQLite database holding frames, sub-frames, video/window chunks, OCR
// text (with an FTS5 mirror), and the frame<->sub-frame mapping.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens a SQLite database at dbPath, configures WAL/foreign-keys/
// busy-timeout pragmas, and creates every table, index, and FTS5 trigger
// idempotently. Grounded on the teacher's internal/db.InitDB pragma and
// table-creation sequencing, generalized to this system's schema.
func Open(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dbPath, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping %s: %w", dbPath, err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(0)

	if err := configurePragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := createIndexes(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := setupFTS(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrateTables(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func configurePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("db: exec %q: %w", p, err)
		}
	}
	return nil
}

func createTables(conn *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS video_chunks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path   TEXT NOT NULL,
			monitor_id  INTEGER NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			fps         REAL NOT NULL,
			frame_count INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS window_chunks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path   TEXT NOT NULL,
			app_name    TEXT NOT NULL,
			window_name TEXT NOT NULL,
			monitor_id  INTEGER NOT NULL DEFAULT 0,
			fps         REAL NOT NULL,
			frame_count INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame_id       TEXT PRIMARY KEY,
			timestamp      TEXT NOT NULL,
			image_path     TEXT NOT NULL DEFAULT '',
			device_name    TEXT NOT NULL DEFAULT '',
			metadata_json  TEXT NOT NULL DEFAULT '',
			video_chunk_id INTEGER,
			offset_index   INTEGER,
			monitor_id     INTEGER NOT NULL DEFAULT 0,
			image_hash     INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			FOREIGN KEY (video_chunk_id) REFERENCES video_chunks(id)
		)`,
		`CREATE TABLE IF NOT EXISTS sub_frames (
			sub_frame_id    TEXT PRIMARY KEY,
			window_chunk_id INTEGER,
			offset_index    INTEGER,
			timestamp       TEXT NOT NULL,
			app_name        TEXT NOT NULL DEFAULT '',
			window_name     TEXT NOT NULL DEFAULT '',
			process_id      INTEGER NOT NULL DEFAULT 0,
			is_focused      INTEGER NOT NULL DEFAULT 0,
			image_hash      INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (window_chunk_id) REFERENCES window_chunks(id)
		)`,
		`CREATE TABLE IF NOT EXISTS ocr_text (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			frame_id      TEXT,
			sub_frame_id  TEXT,
			text          TEXT NOT NULL DEFAULT '',
			text_json     TEXT NOT NULL DEFAULT '',
			ocr_engine    TEXT NOT NULL DEFAULT '',
			text_length   INTEGER NOT NULL DEFAULT 0,
			confidence    REAL NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			FOREIGN KEY (frame_id) REFERENCES frames(frame_id),
			FOREIGN KEY (sub_frame_id) REFERENCES sub_frames(sub_frame_id)
		)`,
		`CREATE TABLE IF NOT EXISTS frame_subframe_mapping (
			frame_id     TEXT NOT NULL,
			sub_frame_id TEXT NOT NULL,
			UNIQUE(frame_id, sub_frame_id),
			FOREIGN KEY (frame_id) REFERENCES frames(frame_id),
			FOREIGN KEY (sub_frame_id) REFERENCES sub_frames(sub_frame_id)
		)`,
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	for _, ddl := range tables {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: create table: %w", err)
		}
	}
	return tx.Commit()
}

// ClearRelationalState deletes every row from every relational table,
// leaving the schema (and FTS triggers) intact. Used by C10's
// ClearExisting option before a from-scratch rebuild; the FTS mirror
// table is cleared automatically by the delete triggers on ocr_text.
func ClearRelationalState(conn *sql.DB) error {
	tables := []string{"frame_subframe_mapping", "ocr_text", "sub_frames", "frames", "window_chunks", "video_chunks"}
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	for _, t := range tables {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", t)); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: clear %s: %w", t, err)
		}
	}
	return tx.Commit()
}

func createIndexes(conn *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON frames(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_video_chunk_id ON frames(video_chunk_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ocr_text_frame_id ON ocr_text(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ocr_text_sub_frame_id ON ocr_text(sub_frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_frames_timestamp ON sub_frames(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_frames_app_name ON sub_frames(app_name)`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_frame_id ON frame_subframe_mapping(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_sub_frame_id ON frame_subframe_mapping(sub_frame_id)`,
	}
	for _, idx := range indexes {
		if _, err := conn.Exec(idx); err != nil {
			return fmt.Errorf("db: create index: %w", err)
		}
	}
	return nil
}

// ftsAvailable caches whether this process's sqlite build supports FTS5;
// queries fall back to LIKE when it does not, per spec §4.4.
var ftsAvailable = true

// setupFTS creates the ocr_text_fts virtual table and the triggers that
// are its sole write path (spec §4.4: "direct writes are forbidden"). If
// FTS5 is unavailable in the linked sqlite3 build, it records that fact in
// ftsAvailable and callers (SearchText, SearchTextInRange) fall back to LIKE.
func setupFTS(conn *sql.DB) error {
	_, err := conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS ocr_text_fts USING fts5(
		text, content='ocr_text', content_rowid='id'
	)`)
	if err != nil {
		ftsAvailable = false
		return nil
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS ocr_text_ai AFTER INSERT ON ocr_text BEGIN
			INSERT INTO ocr_text_fts(rowid, text) VALUES (new.id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS ocr_text_ad AFTER DELETE ON ocr_text BEGIN
			INSERT INTO ocr_text_fts(ocr_text_fts, rowid, text) VALUES('delete', old.id, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS ocr_text_au AFTER UPDATE ON ocr_text BEGIN
			INSERT INTO ocr_text_fts(ocr_text_fts, rowid, text) VALUES('delete', old.id, old.text);
			INSERT INTO ocr_text_fts(rowid, text) VALUES (new.id, new.text);
		END`,
	}
	for _, trg := range triggers {
		if _, err := conn.Exec(trg); err != nil {
			return fmt.Errorf("db: create fts trigger: %w", err)
		}
	}
	return nil
}

// FTSAvailable reports whether the FTS5 extension was usable at startup.
func FTSAvailable() bool { return ftsAvailable }

// migrateTables adds columns that earlier schema revisions lacked, the
// same whitelisted idempotent-ALTER-TABLE pattern as the teacher's
// migrateTables / columnExists.
func migrateTables(conn *sql.DB) error {
	migrations := []struct {
		table, column, ddl string
	}{
		{"frames", "metadata_json", "ALTER TABLE frames ADD COLUMN metadata_json TEXT NOT NULL DEFAULT ''"},
	}
	for _, m := range migrations {
		if !columnExists(conn, m.table, m.column) {
			if _, err := conn.Exec(m.ddl); err != nil {
				return fmt.Errorf("db: migration %s.%s: %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

// columnExists checks if a column exists in table, restricted to a
// whitelist of known tables to prevent SQL injection via the table name
// (PRAGMA table_info cannot take a bound parameter).
func columnExists(conn *sql.DB, table, column string) bool {
	validTables := map[string]bool{
		"frames": true, "sub_frames": true, "video_chunks": true,
		"window_chunks": true, "ocr_text": true, "frame_subframe_mapping": true,
	}
	if !validTables[table] {
		return false
	}
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
