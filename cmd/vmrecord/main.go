// Command vmrecord runs the recording pipeline (C1-C7) until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/appwiring"
	"github.com/DyingCoderLin/VisualMem/internal/capture"
	"github.com/DyingCoderLin/VisualMem/internal/config"
	"github.com/DyingCoderLin/VisualMem/internal/coordinator"
	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/errlog"
	"github.com/DyingCoderLin/VisualMem/internal/ocr"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Recording.StorageRoot, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	if err := os.MkdirAll(cfg.Recording.StorageRoot+"/logs", 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	if err := errlog.Init(cfg.Recording.StorageRoot+"/logs", cfg.ErrorLog.RotationMB, cfg.ErrorLog.MaxBackups); err != nil {
		return fmt.Errorf("init error log: %w", err)
	}
	defer errlog.Close()

	conn, err := dbpkg.Open(cfg.Recording.StorageRoot + "/ocr.db")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	vecs, err := appwiring.OpenImageVectorStore(conn, cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	eng := appwiring.BuildEngines(cfg)

	var embed coordinator.Embedder
	if cfg.Recording.EnableEmbedding && eng.Embedding != nil {
		embed = eng.Embedding
	}

	var ocrw *ocr.Worker
	if cfg.Recording.EnableOCR && eng.OCR != nil {
		ocrw = ocr.NewWorker(eng.OCR, dbpkg.OCRSink{Conn: conn}, ocr.DefaultCapacity, 10*time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ocrw.Start(ctx)
		defer ocrw.Stop()
	}

	// No OS-level screen-grab backend is linked into this build: none of
	// the retrieved example repos carry one, so capture.Grabber has no
	// concrete implementation here. A platform binding plugs in at this
	// one point without touching C2-C7.
	source := capture.NullSource{}
	log.Printf("[vmrecord] no capture.Grabber wired; recording against capture.NullSource (no frames will be captured)")

	coordCfg := coordinator.Config{
		OutputDir:               cfg.Recording.StorageRoot,
		StorageMode:             cfg.Recording.StorageMode,
		FPS:                     cfg.Recording.FPS,
		ChunkDurationSeconds:    cfg.Recording.ChunkDurationSeconds,
		CaptureWindows:          cfg.Recording.CaptureWindows,
		CaptureUnfocusedWindows: cfg.Recording.CaptureUnfocusedWindows,
		ScreenDiffThreshold:     cfg.Recording.ScreenDiffThreshold,
		WindowDiffThreshold:     cfg.Recording.WindowDiffThreshold,
		EnableOCR:               cfg.Recording.EnableOCR,
		EnableEmbedding:         cfg.Recording.EnableEmbedding,
		MaxImageWidth:           cfg.Recording.MaxImageWidth,
		ImageQuality:            cfg.Recording.ImageQuality,
	}
	coord := coordinator.New(coordCfg, source, conn, vecs, embed, ocrw)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[vmrecord] recording started, storage_mode=%s fps=%v", cfg.Recording.StorageMode, cfg.Recording.FPS)
	coord.Run(ctx)
	log.Printf("[vmrecord] recording stopped cleanly")
	return nil
}
