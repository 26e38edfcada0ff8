// Package coordinator implements C7: the per-tick recording pipeline that
// owns C1-C6 and drives capture, diffing, chunk writing, relational and
// vector persistence, and OCR enqueueing.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/capture"
	"github.com/DyingCoderLin/VisualMem/internal/config"
	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/diff"
	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/ocr"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
	"github.com/DyingCoderLin/VisualMem/internal/videochunk"
)

// Config controls one recording session, per spec §4.7's "treat as a
// single config struct" note.
type Config struct {
	OutputDir               string
	StorageMode             config.StorageMode
	MonitorID               int
	FPS                     float64
	ChunkDurationSeconds    int
	CaptureWindows          bool
	CaptureUnfocusedWindows bool
	ScreenDiffThreshold     float64
	WindowDiffThreshold     float64
	EnableOCR               bool
	EnableEmbedding         bool
	MaxImageWidth           int
	ImageQuality            int
}

// Stats holds a session's cumulative counters. They are updated as each
// tick runs, readable at any time through Coordinator.Stats, and logged
// once by shutdown; nothing logs them between ticks.
type Stats struct {
	FramesCaptured  int64
	FramesStored    int64
	WindowsStored   int64
	OCRProcessed    int64
	Errors          int64
	StartedAt       time.Time
}

// OnFrameStored/OnSubFrameStored are fired synchronously after a
// successful write so a caller (UI, logging) can observe progress without
// polling.
type OnFrameStored func(frameID string, diffScore float64)
type OnSubFrameStored func(subFrameID string, key model.WindowKey, diffScore float64)

// Embedder is the narrow slice of engines.EmbeddingEngine the coordinator
// needs; kept as its own interface so a nil-safe no-op can stand in when
// EnableEmbedding is false.
type Embedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// Coordinator drives one recording session end to end.
type Coordinator struct {
	cfg    Config
	source capture.Source
	engine *diff.Engine
	videos *videochunk.Manager
	conn   *sql.DB
	vecs   vectorstore.Store // may be nil in simple storage mode
	embed  Embedder          // may be nil if EnableEmbedding is false
	ocrw   *ocr.Worker

	OnFrameStored    OnFrameStored
	OnSubFrameStored OnSubFrameStored

	stats   Stats
	stopped int32
	mu      sync.Mutex
}

// New assembles a Coordinator from its already-constructed collaborators.
// Wiring which concrete Source/engines to use is the caller's (cmd/vmrecord's)
// job, per spec §1's external-collaborator boundary.
func New(cfg Config, source capture.Source, conn *sql.DB, vecs vectorstore.Store, embed Embedder, ocrw *ocr.Worker) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		source: source,
		engine: diff.NewEngine(diff.Config{ScreenThreshold: cfg.ScreenDiffThreshold, WindowThreshold: cfg.WindowDiffThreshold, Metric: diff.HistogramHellinger}),
		videos: videochunk.NewManager(cfg.OutputDir, videochunk.DefaultConfig(cfg.FPS, cfg.ChunkDurationSeconds)),
		conn:   conn,
		vecs:   vecs,
		embed:  embed,
		ocrw:   ocrw,
		stats:  Stats{StartedAt: time.Now()},
	}
}

// Run drives the tick loop until ctx is cancelled, implementing spec
// §4.7's seven-step per-tick ordering exactly.
func (c *Coordinator) Run(ctx context.Context) {
	c.wireChunkCallbacks()

	interval := time.Duration(float64(time.Second) / c.cfg.FPS)
	for {
		tickStart := time.Now()

		select {
		case <-ctx.Done():
			c.shutdown()
			return
		default:
		}

		c.tick(ctx)

		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-time.After(time.Until(tickStart.Add(interval))):
		}
	}
}

func (c *Coordinator) wireChunkCallbacks() {
	c.videos.OnScreenChunkCreated = func(monitorID int, path string) {
		if _, err := dbpkg.InsertVideoChunk(c.conn, model.VideoChunk{FilePath: path, MonitorID: monitorID, FPS: c.cfg.FPS}); err != nil {
			log.Printf("[coordinator] insert video_chunk failed: %v", err)
		}
	}
	c.videos.OnWindowChunkCreated = func(key model.WindowKey, path string) {
		if _, err := dbpkg.InsertWindowChunk(c.conn, model.WindowChunk{FilePath: path, AppName: key.AppName, WindowName: key.WindowTitle, FPS: c.cfg.FPS}); err != nil {
			log.Printf("[coordinator] insert window_chunk failed: %v", err)
		}
	}
}

// tick runs steps 1-6 of spec §4.7 for one capture.
func (c *Coordinator) tick(ctx context.Context) {
	// Step 1
	screenObj, ok := c.source.Capture()
	if !ok {
		atomic.AddInt64(&c.stats.Errors, 1)
		return
	}
	atomic.AddInt64(&c.stats.FramesCaptured, 1)

	// Step 2
	screenDecision := c.engine.CheckScreen(screenObj)

	// Step 3
	currentKeys := make(map[model.WindowKey]struct{}, len(screenObj.Windows))
	for _, w := range screenObj.Windows {
		currentKeys[w.Key()] = struct{}{}
	}
	c.videos.CloseInactiveWindows(currentKeys)
	c.engine.PruneWindows(currentKeys)

	var frameID string
	var storedFrame bool

	// Step 4
	if screenDecision.Accept {
		frameID = model.NewFrameID(screenObj.Timestamp)
		if err := c.storeScreenFrame(ctx, frameID, screenObj); err != nil {
			log.Printf("[coordinator] store screen frame failed: %v", err)
			atomic.AddInt64(&c.stats.Errors, 1)
		} else {
			storedFrame = true
			atomic.AddInt64(&c.stats.FramesStored, 1)
			if c.OnFrameStored != nil {
				c.OnFrameStored(frameID, screenDecision.Combined)
			}
		}
	}

	// Step 5
	if c.cfg.CaptureWindows {
		var subFrameIDs []string
		for _, w := range screenObj.Windows {
			if !c.cfg.CaptureUnfocusedWindows && !w.IsFocused {
				continue
			}
			wDecision := c.engine.CheckWindow(&w)
			if !wDecision.Accept {
				continue
			}
			subFrameID, err := model.NewSubFrameID(w.Timestamp)
			if err != nil {
				log.Printf("[coordinator] generate sub_frame_id failed: %v", err)
				atomic.AddInt64(&c.stats.Errors, 1)
				continue
			}
			if err := c.storeWindowFrame(ctx, subFrameID, w); err != nil {
				log.Printf("[coordinator] store window frame failed: %v", err)
				atomic.AddInt64(&c.stats.Errors, 1)
				continue
			}
			subFrameIDs = append(subFrameIDs, subFrameID)
			atomic.AddInt64(&c.stats.WindowsStored, 1)
			if c.OnSubFrameStored != nil {
				c.OnSubFrameStored(subFrameID, w.Key(), wDecision.Combined)
			}
		}

		// Step 6
		if storedFrame && len(subFrameIDs) > 0 {
			for _, sfID := range subFrameIDs {
				if err := dbpkg.LinkFrameSubFrame(c.conn, frameID, sfID); err != nil {
					log.Printf("[coordinator] link frame/sub_frame failed: %v", err)
				}
			}
		}
	}
}

func (c *Coordinator) storeScreenFrame(ctx context.Context, frameID string, obj *model.ScreenObject) error {
	var frame model.Frame
	if c.cfg.StorageMode == config.StorageModeSimple {
		imagePath, err := c.writeSimpleImage(frameID, obj.Timestamp, obj.FullScreenImage)
		if err != nil {
			return fmt.Errorf("coordinator: write simple-mode frame image: %w", err)
		}
		frame = model.Frame{
			FrameID: frameID, Timestamp: obj.Timestamp, DeviceName: obj.DeviceName,
			ImagePath: imagePath, MonitorID: obj.MonitorID, ImageHash: obj.FullScreenHash,
		}
		if err := dbpkg.UpsertFrame(c.conn, frame); err != nil {
			return fmt.Errorf("coordinator: upsert frame: %w", err)
		}
	} else {
		result, err := c.videos.WriteScreenFrame(obj.MonitorID, obj.DeviceName, obj.FullScreenImage)
		if err != nil {
			return fmt.Errorf("coordinator: write screen frame: %w", err)
		}

		var chunkID *int64
		row := c.conn.QueryRow(`SELECT id FROM video_chunks WHERE file_path = ?`, result.ChunkPath)
		var id int64
		if err := row.Scan(&id); err == nil {
			chunkID = &id
		}
		offset := result.OffsetIndex

		frame = model.Frame{
			FrameID: frameID, Timestamp: obj.Timestamp, DeviceName: obj.DeviceName,
			VideoChunkID: chunkID, OffsetIndex: &offset, MonitorID: obj.MonitorID, ImageHash: obj.FullScreenHash,
		}
		if err := dbpkg.UpsertFrame(c.conn, frame); err != nil {
			return fmt.Errorf("coordinator: upsert frame: %w", err)
		}
		if chunkID != nil {
			if err := dbpkg.UpdateChunkFrameCount(c.conn, "video_chunks", *chunkID, offset+1); err != nil {
				log.Printf("[coordinator] update chunk frame_count failed: %v", err)
			}
		}
	}

	if c.cfg.EnableOCR && c.ocrw != nil {
		c.ocrw.Enqueue(ocr.Task{FrameID: frameID, Timestamp: obj.Timestamp, Image: obj.FullScreenImage})
	}
	if c.cfg.EnableEmbedding && c.embed != nil && c.vecs != nil {
		vec, err := c.embed.EmbedImage(ctx, obj.FullScreenImage)
		if err != nil {
			log.Printf("[coordinator] embed frame failed: %v", err)
		} else if err := c.vecs.StoreFrame(vectorstore.Row{FrameID: frameID, Timestamp: obj.Timestamp, Vector: vec}); err != nil {
			log.Printf("[coordinator] store vector failed: %v", err)
		}
	}
	return nil
}

func (c *Coordinator) storeWindowFrame(ctx context.Context, subFrameID string, w model.WindowFrame) error {
	result, err := c.videos.WriteWindowFrame(w.Key(), w.Image)
	if err != nil {
		return fmt.Errorf("coordinator: write window frame: %w", err)
	}

	var chunkID int64
	row := c.conn.QueryRow(`SELECT id FROM window_chunks WHERE file_path = ?`, result.ChunkPath)
	_ = row.Scan(&chunkID)

	sub := model.SubFrame{
		SubFrameID: subFrameID, WindowChunkID: chunkID, OffsetIndex: result.OffsetIndex,
		Timestamp: w.Timestamp, AppName: w.AppName, WindowName: w.WindowTitle,
		ProcessID: w.ProcessID, IsFocused: w.IsFocused, ImageHash: w.ImageHash,
	}
	if err := dbpkg.UpsertSubFrame(c.conn, sub); err != nil {
		return fmt.Errorf("coordinator: upsert sub_frame: %w", err)
	}
	if chunkID != 0 {
		if err := dbpkg.UpdateChunkFrameCount(c.conn, "window_chunks", chunkID, result.OffsetIndex+1); err != nil {
			log.Printf("[coordinator] update window chunk frame_count failed: %v", err)
		}
	}

	if c.cfg.EnableOCR && c.ocrw != nil {
		c.ocrw.Enqueue(ocr.Task{SubFrameID: subFrameID, Timestamp: w.Timestamp, Image: w.Image})
	}
	return nil
}

// defaultImageQuality is used when Config.ImageQuality is left at its
// zero value.
const defaultImageQuality = 80

// writeSimpleImage encodes img as JPEG under images/YYYYMMDD/, bypassing
// videochunk/ffmpeg entirely for StorageModeSimple deployments (spec data
// model's lightweight alternative to chunked storage).
func (c *Coordinator) writeSimpleImage(frameID string, ts time.Time, img image.Image) (string, error) {
	dir := filepath.Join(c.cfg.OutputDir, "images", ts.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("coordinator: create images dir: %w", err)
	}
	path := filepath.Join(dir, frameID+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("coordinator: create image file: %w", err)
	}
	defer f.Close()
	quality := c.cfg.ImageQuality
	if quality <= 0 {
		quality = defaultImageQuality
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("coordinator: encode image: %w", err)
	}
	return path, nil
}

// shutdown closes every writer, drains the OCR worker and logs the final
// stats. Cooperative: called once the run loop's context is cancelled.
func (c *Coordinator) shutdown() {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return
	}
	c.videos.CloseAll()
	if c.ocrw != nil {
		c.ocrw.Stop()
	}
	s := c.Stats()
	log.Printf("[coordinator] final stats: captured=%d stored=%d windows=%d ocr=%d errors=%d",
		s.FramesCaptured, s.FramesStored, s.WindowsStored, s.OCRProcessed, s.Errors)
}

// Stats returns a snapshot of cumulative counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		FramesCaptured: atomic.LoadInt64(&c.stats.FramesCaptured),
		FramesStored:   atomic.LoadInt64(&c.stats.FramesStored),
		WindowsStored:  atomic.LoadInt64(&c.stats.WindowsStored),
		OCRProcessed:   atomic.LoadInt64(&c.stats.OCRProcessed),
		Errors:         atomic.LoadInt64(&c.stats.Errors),
		StartedAt:      c.stats.StartedAt,
	}
}
