// Package rebuild implements C10: an offline pass over a directory tree of
// already-captured images that repopulates the relational store, the OCR
// text index, and both vector tables from scratch (or incrementally, since
// every write below is idempotent). Grounded on the teacher's
// rebuild_sqlite.py/rebuild_index.py/rebuild_text_index.py trio, unified
// here into three phases on one type instead of three standalone scripts.
package rebuild

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/diff"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/reporter"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
)

// BatchSize is the vector-store append batch, per spec §5's "batch size ≈
// 32" resource-model note.
const BatchSize = 32

// OptimizeEvery controls how many batches pass between Optimize calls, so
// a long rebuild keeps the vector store's file count bounded rather than
// compacting only at the end.
const OptimizeEvery = 8

var imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Config controls one rebuild run.
type Config struct {
	Dir           string
	ClearExisting bool
}

// Rebuilder drives the three rebuild phases against one set of stores.
type Rebuilder struct {
	conn      *sql.DB
	imageVecs vectorstore.Store
	textVecs  vectorstore.Store
	eng       engines.Engines
	rep       reporter.Reporter
}

// New assembles a Rebuilder. textVecs is typically a second
// vectorstore.SQLiteStore created via NewSQLiteStoreNamed against a table
// distinct from imageVecs's, so the two embedding spaces never collide on
// frame_id. rep may be reporter.NoopReporter{} if no terminal output is
// wanted.
func New(conn *sql.DB, imageVecs, textVecs vectorstore.Store, eng engines.Engines, rep reporter.Reporter) *Rebuilder {
	if rep == nil {
		rep = reporter.NoopReporter{}
	}
	return &Rebuilder{conn: conn, imageVecs: imageVecs, textVecs: textVecs, eng: eng, rep: rep}
}

// Rebuild runs all three phases in order, per spec §4.10.
func (r *Rebuilder) Rebuild(ctx context.Context, cfg Config) error {
	if cfg.ClearExisting {
		r.rep.Stage("clearing existing state")
		if err := r.clearExisting(); err != nil {
			return err
		}
	}
	r.rep.Stage("scanning directory tree")
	files, err := scanImageFiles(cfg.Dir)
	if err != nil {
		return err
	}
	r.rep.Info("found %d image files", len(files))

	if err := r.RebuildRelational(ctx, files); err != nil {
		return err
	}
	if err := r.RebuildVectors(ctx); err != nil {
		return err
	}
	if err := r.RebuildTextVectors(ctx); err != nil {
		return err
	}
	return nil
}

func (r *Rebuilder) clearExisting() error {
	if err := db.ClearRelationalState(r.conn); err != nil {
		return err
	}
	if err := r.imageVecs.Optimize(time.Now().Add(365*24*time.Hour), false); err != nil {
		return fmt.Errorf("rebuild: clear image vectors: %w", err)
	}
	if err := r.textVecs.Optimize(time.Now().Add(365*24*time.Hour), false); err != nil {
		return fmt.Errorf("rebuild: clear text vectors: %w", err)
	}
	return nil
}

// RebuildRelational derives frame_id/timestamp for each file and upserts
// it into C4, per spec §4.10 step (a). Idempotent: re-running over the
// same tree replaces rather than duplicates each row.
func (r *Rebuilder) RebuildRelational(ctx context.Context, files []string) error {
	r.rep.Stage("rebuilding relational index")
	bar := r.rep.StartProgress(len(files), "frames")
	defer bar.Finish()

	for _, path := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frameID, ts, err := deriveFrameID(path)
		if err != nil {
			r.rep.Warn("skip %s: %v", path, err)
			bar.Add(1)
			continue
		}
		hash, err := hashFile(path)
		if err != nil {
			r.rep.Warn("hash %s: %v", path, err)
		}
		f := model.Frame{FrameID: frameID, Timestamp: ts, ImagePath: path, ImageHash: hash}
		if err := db.UpsertFrame(r.conn, f); err != nil {
			r.rep.Error("upsert %s: %v", path, err)
		}
		bar.Add(1)
	}
	return nil
}

// RebuildVectors OCRs every frame lacking OCR text and embeds every frame
// (replacing any existing vector row), writing C5 in batches, per spec §4.10 steps (c),
// (d), (f).
func (r *Rebuilder) RebuildVectors(ctx context.Context) error {
	if r.eng.OCR == nil && r.eng.Embedding == nil {
		r.rep.Warn("no OCR or embedding engine configured, skipping vector rebuild")
		return nil
	}
	r.rep.Stage("OCR + image embedding")
	frames, err := db.FramesInRange(r.conn, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("rebuild: list frames: %w", err)
	}
	bar := r.rep.StartProgress(len(frames), "images")
	defer bar.Finish()

	var batch []vectorstore.Row
	batches := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.imageVecs.StoreBatch(batch); err != nil {
			return fmt.Errorf("rebuild: store image vector batch: %w", err)
		}
		batch = batch[:0]
		batches++
		if batches%OptimizeEvery == 0 {
			if err := r.imageVecs.Optimize(time.Time{}, false); err != nil {
				r.rep.Warn("optimize image vectors: %v", err)
			}
		}
		return nil
	}

	for _, f := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		img, err := loadImage(f.ImagePath)
		if err != nil {
			r.rep.Warn("load %s: %v", f.ImagePath, err)
			bar.Add(1)
			continue
		}

		var ocrText string
		if r.eng.OCR != nil {
			if existing, _ := db.OCRTextForFrame(r.conn, f.FrameID); existing == "" {
				text, textJSON, confidence, err := r.eng.OCR.Recognize(ctx, img)
				if err != nil {
					r.rep.Warn("ocr %s: %v", f.FrameID, err)
				} else if _, err := db.InsertOCRText(r.conn, model.OCRRow{FrameID: f.FrameID, Text: text, TextJSON: textJSON, Confidence: confidence}); err != nil {
					r.rep.Warn("insert ocr text %s: %v", f.FrameID, err)
				} else {
					ocrText = text
				}
			} else {
				ocrText = existing
			}
		}

		if r.eng.Embedding != nil {
			vec, err := r.eng.Embedding.EmbedImage(ctx, img)
			if err != nil {
				r.rep.Warn("embed image %s: %v", f.FrameID, err)
			} else {
				batch = append(batch, vectorstore.Row{FrameID: f.FrameID, Timestamp: f.Timestamp, ImagePath: f.ImagePath, Vector: vec, OCRText: ocrText})
			}
		}
		if len(batch) >= BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		bar.Add(1)
	}
	return flush()
}

// RebuildTextVectors embeds each frame's OCR text into the parallel text
// vector table, per spec §4.10 step (e).
func (r *Rebuilder) RebuildTextVectors(ctx context.Context) error {
	if r.eng.Embedding == nil {
		r.rep.Warn("no embedding engine configured, skipping text vector rebuild")
		return nil
	}
	r.rep.Stage("text embedding")
	frames, err := db.FramesInRange(r.conn, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("rebuild: list frames: %w", err)
	}
	bar := r.rep.StartProgress(len(frames), "text")
	defer bar.Finish()

	var batch []vectorstore.Row
	batches := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.textVecs.StoreBatch(batch); err != nil {
			return fmt.Errorf("rebuild: store text vector batch: %w", err)
		}
		batch = batch[:0]
		batches++
		if batches%OptimizeEvery == 0 {
			if err := r.textVecs.Optimize(time.Time{}, false); err != nil {
				r.rep.Warn("optimize text vectors: %v", err)
			}
		}
		return nil
	}

	for _, f := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := db.OCRTextForFrame(r.conn, f.FrameID)
		if err != nil || strings.TrimSpace(text) == "" {
			bar.Add(1)
			continue
		}
		vec, err := r.eng.Embedding.EmbedText(ctx, text)
		if err != nil {
			r.rep.Warn("embed text %s: %v", f.FrameID, err)
			bar.Add(1)
			continue
		}
		batch = append(batch, vectorstore.Row{FrameID: f.FrameID, Timestamp: f.Timestamp, ImagePath: f.ImagePath, OCRText: text, Vector: vec})
		if len(batch) >= BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		bar.Add(1)
	}
	return flush()
}

func scanImageFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if imageExt[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild: scan %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// deriveFrameID derives a canonical frame_id and timestamp from a file
// path, per spec §4.10/§6: the canonical YYYYMMDD_HHMMSS_ffffff basename
// first, then a legacy 13-digit-millisecond prefix, then the file's mtime.
func deriveFrameID(path string) (string, time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if ts, err := model.ParseFrameIDTimestamp(base); err == nil {
		return base[:22], ts, nil
	}

	if len(base) >= 13 {
		if ms, err := strconv.ParseInt(base[:13], 10, 64); err == nil {
			ts := time.UnixMilli(ms).UTC()
			return model.NewFrameID(ts), ts, nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stat: %w", err)
	}
	ts := info.ModTime().UTC()
	return model.NewFrameID(ts), ts, nil
}

func hashFile(path string) (uint64, error) {
	img, err := loadImage(path)
	if err != nil {
		return 0, err
	}
	return diff.ComputeHash(img), nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
