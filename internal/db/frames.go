package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/model"
)

const timeLayout = time.RFC3339Nano

// InsertVideoChunk records a new screen-stream chunk file and returns its
// row id, used by the coordinator as soon as videochunk.OnChunkCreated
// fires, before any frame referencing it is written.
func InsertVideoChunk(conn *sql.DB, chunk model.VideoChunk) (int64, error) {
	res, err := conn.Exec(
		`INSERT INTO video_chunks (file_path, monitor_id, device_name, fps, frame_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chunk.FilePath, chunk.MonitorID, chunk.DeviceName, chunk.FPS, chunk.FrameCount, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert video_chunk: %w", err)
	}
	return res.LastInsertId()
}

// InsertWindowChunk records a new per-window stream chunk file.
func InsertWindowChunk(conn *sql.DB, chunk model.WindowChunk) (int64, error) {
	res, err := conn.Exec(
		`INSERT INTO window_chunks (file_path, app_name, window_name, monitor_id, fps, frame_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.FilePath, chunk.AppName, chunk.WindowName, chunk.MonitorID, chunk.FPS, chunk.FrameCount, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert window_chunk: %w", err)
	}
	return res.LastInsertId()
}

// FramesSince returns every frame strictly newer than since, ordered by
// timestamp ascending. A zero since returns every frame.
func FramesSince(conn *sql.DB, since time.Time) ([]model.Frame, error) {
	var end time.Time // zero end = open upper bound in FramesInRange
	frames, err := FramesInRange(conn, since, end)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return frames, nil
	}
	out := frames[:0]
	for _, f := range frames {
		if f.Timestamp.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// VideoChunkByID looks up a screen-stream chunk's file path and fps, needed
// to extract a single frame's image lazily (spec §4.8 step 3).
func VideoChunkByID(conn *sql.DB, chunkID int64) (model.VideoChunk, bool) {
	row := conn.QueryRow(`SELECT id, file_path, monitor_id, device_name, fps, frame_count FROM video_chunks WHERE id = ?`, chunkID)
	var c model.VideoChunk
	if err := row.Scan(&c.ID, &c.FilePath, &c.MonitorID, &c.DeviceName, &c.FPS, &c.FrameCount); err != nil {
		return model.VideoChunk{}, false
	}
	return c, true
}

// UpdateChunkFrameCount keeps a chunk row's frame_count current as writes
// land, so a crash mid-chunk still leaves an accurate count for the last
// successful write.
func UpdateChunkFrameCount(conn *sql.DB, table string, chunkID int64, frameCount int) error {
	if table != "video_chunks" && table != "window_chunks" {
		return fmt.Errorf("db: invalid chunk table %q", table)
	}
	_, err := conn.Exec(fmt.Sprintf("UPDATE %s SET frame_count = ? WHERE id = ?", table), frameCount, chunkID)
	if err != nil {
		return fmt.Errorf("db: update %s frame_count: %w", table, err)
	}
	return nil
}

// UpsertFrame inserts or idempotently replaces a Frame row, keyed by its
// frame_id. Idempotent upserts let the rebuild tool (C10) re-scan a
// directory tree without producing duplicates.
func UpsertFrame(conn *sql.DB, f model.Frame) error {
	_, err := conn.Exec(
		`INSERT OR REPLACE INTO frames
			(frame_id, timestamp, image_path, device_name, metadata_json, video_chunk_id, offset_index, monitor_id, image_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM frames WHERE frame_id = ?), ?))`,
		f.FrameID, f.Timestamp.UTC().Format(timeLayout), f.ImagePath, f.DeviceName, f.MetadataJSON,
		nullableInt64(f.VideoChunkID), nullableInt(f.OffsetIndex), f.MonitorID, int64(f.ImageHash),
		f.FrameID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("db: upsert frame %s: %w", f.FrameID, err)
	}
	return nil
}

// UpsertSubFrame inserts or idempotently replaces a SubFrame row.
func UpsertSubFrame(conn *sql.DB, sf model.SubFrame) error {
	_, err := conn.Exec(
		`INSERT OR REPLACE INTO sub_frames
			(sub_frame_id, window_chunk_id, offset_index, timestamp, app_name, window_name, process_id, is_focused, image_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM sub_frames WHERE sub_frame_id = ?), ?))`,
		sf.SubFrameID, sf.WindowChunkID, sf.OffsetIndex, sf.Timestamp.UTC().Format(timeLayout),
		sf.AppName, sf.WindowName, sf.ProcessID, boolToInt(sf.IsFocused), int64(sf.ImageHash),
		sf.SubFrameID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("db: upsert sub_frame %s: %w", sf.SubFrameID, err)
	}
	return nil
}

// LinkFrameSubFrame records that sub_frame_id was captured as part of
// frame_id's screen snapshot, ignoring the write if the pair already
// exists (idempotent, per the UNIQUE(frame_id, sub_frame_id) constraint).
func LinkFrameSubFrame(conn *sql.DB, frameID, subFrameID string) error {
	_, err := conn.Exec(`INSERT OR IGNORE INTO frame_subframe_mapping (frame_id, sub_frame_id) VALUES (?, ?)`, frameID, subFrameID)
	if err != nil {
		return fmt.Errorf("db: link frame/sub_frame: %w", err)
	}
	return nil
}

// FrameByID loads one frame row, or (Frame{}, false) if absent.
func FrameByID(conn *sql.DB, frameID string) (model.Frame, bool) {
	row := conn.QueryRow(
		`SELECT frame_id, timestamp, image_path, device_name, metadata_json, video_chunk_id, offset_index, monitor_id, image_hash
		 FROM frames WHERE frame_id = ?`, frameID)
	var f model.Frame
	var ts string
	var chunkID, offset sql.NullInt64
	if err := row.Scan(&f.FrameID, &ts, &f.ImagePath, &f.DeviceName, &f.MetadataJSON, &chunkID, &offset, &f.MonitorID, &f.ImageHash); err != nil {
		return model.Frame{}, false
	}
	f.Timestamp, _ = time.Parse(timeLayout, ts)
	if chunkID.Valid {
		v := chunkID.Int64
		f.VideoChunkID = &v
	}
	if offset.Valid {
		v := int(offset.Int64)
		f.OffsetIndex = &v
	}
	return f, true
}

// FramesInRange returns frames with timestamp in [start, end], ordered
// oldest-first. A zero start or end leaves that bound open.
func FramesInRange(conn *sql.DB, start, end time.Time) ([]model.Frame, error) {
	query := `SELECT frame_id, timestamp, image_path, device_name, metadata_json, video_chunk_id, offset_index, monitor_id, image_hash
	          FROM frames WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`
	lo, hi := start, end
	if lo.After(hi) && !hi.IsZero() {
		lo, hi = hi, lo
	}
	loStr := "0000-01-01T00:00:00Z"
	hiStr := "9999-12-31T23:59:59Z"
	if !lo.IsZero() {
		loStr = lo.UTC().Format(timeLayout)
	}
	if !hi.IsZero() {
		hiStr = hi.UTC().Format(timeLayout)
	}
	rows, err := conn.Query(query, loStr, hiStr)
	if err != nil {
		return nil, fmt.Errorf("db: frames in range: %w", err)
	}
	defer rows.Close()

	var out []model.Frame
	for rows.Next() {
		var f model.Frame
		var ts string
		var chunkID, offset sql.NullInt64
		if err := rows.Scan(&f.FrameID, &ts, &f.ImagePath, &f.DeviceName, &f.MetadataJSON, &chunkID, &offset, &f.MonitorID, &f.ImageHash); err != nil {
			return nil, fmt.Errorf("db: scan frame: %w", err)
		}
		f.Timestamp, _ = time.Parse(timeLayout, ts)
		if chunkID.Valid {
			v := chunkID.Int64
			f.VideoChunkID = &v
		}
		if offset.Valid {
			v := int(offset.Int64)
			f.OffsetIndex = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
