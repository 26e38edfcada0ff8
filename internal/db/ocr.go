package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/model"
)

// InsertOCRText records OCR output for exactly one of a Frame or a
// SubFrame. The FTS5 mirror table is kept current entirely by triggers
// (setupFTS); callers never write to ocr_text_fts directly.
func InsertOCRText(conn *sql.DB, row model.OCRRow) (int64, error) {
	if (row.FrameID == "") == (row.SubFrameID == "") {
		return 0, fmt.Errorf("db: ocr row must reference exactly one of frame_id/sub_frame_id")
	}
	var frameID, subFrameID sql.NullString
	if row.FrameID != "" {
		frameID = sql.NullString{String: row.FrameID, Valid: true}
	}
	if row.SubFrameID != "" {
		subFrameID = sql.NullString{String: row.SubFrameID, Valid: true}
	}
	res, err := conn.Exec(
		`INSERT INTO ocr_text (frame_id, sub_frame_id, text, text_json, ocr_engine, text_length, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frameID, subFrameID, row.Text, row.TextJSON, row.OCREngine, len(row.Text), row.Confidence, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert ocr_text: %w", err)
	}
	return res.LastInsertId()
}

// SearchResult is one full-text search hit, joined back to its frame.
// Score is the BM25 relevance score (higher is more relevant) when FTS5
// is available, or a constant 1 in the degraded LIKE-scan fallback,
// which has no ranking signal to offer.
type SearchResult struct {
	FrameID   string
	Timestamp time.Time
	ImagePath string
	Text      string
	Score     float64
}

// SearchText runs a full-text query against OCR text, ranked by BM25
// relevance (falling back to a plain LIKE scan per spec §4.4's
// degraded-mode requirement when FTS5 is unavailable), capped at limit
// rows. Zero-score rows are discarded per spec §4.8 step 4.
func SearchText(conn *sql.DB, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if FTSAvailable() {
		rows, err = conn.Query(
			`SELECT f.frame_id, f.timestamp, f.image_path, o.text, -bm25(ocr_text_fts) AS score
			 FROM ocr_text_fts
			 JOIN ocr_text o ON o.id = ocr_text_fts.rowid
			 JOIN frames f ON f.frame_id = o.frame_id
			 WHERE ocr_text_fts MATCH ?
			 ORDER BY score DESC
			 LIMIT ?`, query, limit)
	} else {
		rows, err = conn.Query(
			`SELECT f.frame_id, f.timestamp, f.image_path, o.text, 1 AS score
			 FROM ocr_text o
			 JOIN frames f ON f.frame_id = o.frame_id
			 WHERE o.text LIKE ?
			 ORDER BY f.timestamp DESC
			 LIMIT ?`, "%"+query+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("db: search text: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts string
		if err := rows.Scan(&r.FrameID, &ts, &r.ImagePath, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("db: scan search result: %w", err)
		}
		if r.Score <= 0 {
			continue
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchTextInRange is SearchText with an additional [start, end] timestamp
// predicate pushed into the SQL query, per spec §4.8 step 2's requirement
// that an extracted time range reach both the vector and FTS branches. A
// zero start or end leaves that side of the range open.
func SearchTextInRange(conn *sql.DB, query string, start, end time.Time, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		start, end = end, start
	}
	loStr := "0000-01-01T00:00:00Z"
	hiStr := "9999-12-31T23:59:59Z"
	if !start.IsZero() {
		loStr = start.UTC().Format(timeLayout)
	}
	if !end.IsZero() {
		hiStr = end.UTC().Format(timeLayout)
	}

	var rows *sql.Rows
	var err error
	if FTSAvailable() {
		rows, err = conn.Query(
			`SELECT f.frame_id, f.timestamp, f.image_path, o.text, -bm25(ocr_text_fts) AS score
			 FROM ocr_text_fts
			 JOIN ocr_text o ON o.id = ocr_text_fts.rowid
			 JOIN frames f ON f.frame_id = o.frame_id
			 WHERE ocr_text_fts MATCH ? AND f.timestamp >= ? AND f.timestamp <= ?
			 ORDER BY score DESC
			 LIMIT ?`, query, loStr, hiStr, limit)
	} else {
		rows, err = conn.Query(
			`SELECT f.frame_id, f.timestamp, f.image_path, o.text, 1 AS score
			 FROM ocr_text o
			 JOIN frames f ON f.frame_id = o.frame_id
			 WHERE o.text LIKE ? AND f.timestamp >= ? AND f.timestamp <= ?
			 ORDER BY f.timestamp DESC
			 LIMIT ?`, "%"+query+"%", loStr, hiStr, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("db: search text in range: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts string
		if err := rows.Scan(&r.FrameID, &ts, &r.ImagePath, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("db: scan search result: %w", err)
		}
		if r.Score <= 0 {
			continue
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OCRTextForFrame returns the concatenated OCR text for a frame (there is
// at most one ocr_text row per frame in normal operation, but callers that
// reprocess a frame may leave more than one; all are joined).
func OCRTextForFrame(conn *sql.DB, frameID string) (string, error) {
	rows, err := conn.Query(`SELECT text FROM ocr_text WHERE frame_id = ? ORDER BY created_at ASC`, frameID)
	if err != nil {
		return "", fmt.Errorf("db: ocr text for frame: %w", err)
	}
	defer rows.Close()
	var parts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return "", fmt.Errorf("db: scan ocr text: %w", err)
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n"), rows.Err()
}
