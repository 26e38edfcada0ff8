package coordinator

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/capture"
	"github.com/DyingCoderLin/VisualMem/internal/config"
	"github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/model"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCoordinator_Tick_StoresAcceptedScreenFrame(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coord.db")
	conn, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obj := &model.ScreenObject{
		MonitorID: 0, Timestamp: now,
		FullScreenImage: solidImage(4, 4, color.White),
	}
	source := &capture.StaticSource{Objects: []*model.ScreenObject{obj}}

	outDir := t.TempDir()
	cfg := Config{OutputDir: outDir, StorageMode: config.StorageModeSimple, MonitorID: 0, FPS: 1.0, ChunkDurationSeconds: 60, CaptureWindows: true}
	coord := New(cfg, source, conn, nil, nil, nil)

	coord.tick(context.Background())

	stats := coord.Stats()
	if stats.FramesCaptured != 1 {
		t.Fatalf("expected 1 frame captured, got %d", stats.FramesCaptured)
	}
	// First frame is always accepted by the diff engine (spec §4.2).
	if stats.FramesStored != 1 {
		t.Fatalf("expected 1 frame stored (first frame always accepted), got %d", stats.FramesStored)
	}

	var count int
	var imagePath string
	if err := conn.QueryRow(`SELECT COUNT(*), MAX(image_path) FROM frames`).Scan(&count, &imagePath); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 frames row, got %d", count)
	}
	if imagePath == "" {
		t.Fatal("expected simple-mode frame to have a non-empty image_path")
	}
	if _, err := os.Stat(imagePath); err != nil {
		t.Fatalf("expected image file to exist at %s: %v", imagePath, err)
	}
}

func TestCoordinator_Tick_CaptureFailureIncrementsErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coord.db")
	conn, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	source := capture.NullSource{}
	cfg := Config{OutputDir: t.TempDir(), StorageMode: config.StorageModeSimple, FPS: 1.0, ChunkDurationSeconds: 60}
	coord := New(cfg, source, conn, nil, nil, nil)

	coord.tick(context.Background())

	if coord.Stats().Errors != 1 {
		t.Fatalf("expected 1 error after a failed capture, got %d", coord.Stats().Errors)
	}
}

func TestCoordinator_SecondIdenticalFrameIsNotStored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coord.db")
	conn, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	img := solidImage(4, 4, color.White)
	obj1 := &model.ScreenObject{MonitorID: 0, Timestamp: now, FullScreenImage: img}
	obj2 := &model.ScreenObject{MonitorID: 0, Timestamp: now.Add(time.Second), FullScreenImage: img}
	source := &capture.StaticSource{Objects: []*model.ScreenObject{obj1, obj2}}

	cfg := Config{OutputDir: t.TempDir(), StorageMode: config.StorageModeSimple, FPS: 1.0, ChunkDurationSeconds: 60}
	coord := New(cfg, source, conn, nil, nil, nil)

	coord.tick(context.Background())
	coord.tick(context.Background())

	if coord.Stats().FramesStored != 1 {
		t.Fatalf("expected only the first identical frame to be stored, got %d", coord.Stats().FramesStored)
	}
}
