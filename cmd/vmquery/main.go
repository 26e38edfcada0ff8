// Command vmquery is the interactive retrieval REPL (C8). It prompts for
// a retrieval source and mode once, then answers one question per line
// until told to quit.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/appwiring"
	"github.com/DyingCoderLin/VisualMem/internal/capture"
	"github.com/DyingCoderLin/VisualMem/internal/config"
	"github.com/DyingCoderLin/VisualMem/internal/coordinator"
	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/ocr"
	"github.com/DyingCoderLin/VisualMem/internal/query"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
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

	// Real-time mode needs to grab the live screen outside the recording
	// pipeline. No OS-level screen-grab backend exists in this build (see
	// cmd/vmrecord's capture.NullSource note), so a nil capturer is
	// passed here and real-time queries fail with a clear error instead
	// of silently falling back to history.
	engine := query.NewEngine(conn, vecs, eng, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)

	sourceChoice, err := promptChoice(scanner, "Retrieval source (0=dense+OCR, 1=OCR-only): ", []string{"0", "1"})
	if err != nil {
		return err
	}
	modeChoice, err := promptChoice(scanner, "Retrieval mode (0=history RAG, 1=real-time from current screen): ", []string{"0", "1"})
	if err != nil {
		return err
	}

	req := query.Request{Source: query.SourceDenseAndOCR, Mode: query.ModeRAGOverHistory}
	if sourceChoice == "1" {
		req.Source = query.SourceOCROnly
	}
	if modeChoice == "1" {
		req.Mode = query.ModeRealTimeFromCurrentScreen
	}

	rec := &recordingSession{cfg: cfg, conn: conn, vecs: vecs, eng: eng}
	defer rec.stop()

	fmt.Println("Ready. Type a question, or 'start'/'stop' to control background recording, or 'q' to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		case "start":
			rec.start(ctx)
			continue
		case "stop":
			rec.stop()
			continue
		}

		q := req
		q.Question = line
		resp, err := engine.Answer(ctx, q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(resp.Answer)
		for _, f := range resp.Frames {
			fmt.Printf("  - %s (%s)\n", f.FrameID, f.Timestamp.Local().Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

// promptChoice reads a line from scanner and requires it to be one of
// allowed, reprompting on anything else (including an empty line).
func promptChoice(scanner *bufio.Scanner, prompt string, allowed []string) (string, error) {
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			return "", fmt.Errorf("vmquery: unexpected end of input")
		}
		v := strings.TrimSpace(scanner.Text())
		for _, a := range allowed {
			if v == a {
				return v, nil
			}
		}
		fmt.Printf("please enter one of %s\n", strings.Join(allowed, "/"))
	}
}

// recordingSession lets the REPL's "start"/"stop" commands toggle the
// same recording pipeline cmd/vmrecord runs standalone, without spawning
// a second process.
type recordingSession struct {
	cfg  *config.Config
	conn *sql.DB
	vecs vectorstore.Store
	eng  engines.Engines

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (r *recordingSession) start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		fmt.Println("already recording")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	coordCfg := coordinator.Config{
		OutputDir:               r.cfg.Recording.StorageRoot,
		StorageMode:             r.cfg.Recording.StorageMode,
		FPS:                     r.cfg.Recording.FPS,
		ChunkDurationSeconds:    r.cfg.Recording.ChunkDurationSeconds,
		CaptureWindows:          r.cfg.Recording.CaptureWindows,
		CaptureUnfocusedWindows: r.cfg.Recording.CaptureUnfocusedWindows,
		ScreenDiffThreshold:     r.cfg.Recording.ScreenDiffThreshold,
		WindowDiffThreshold:     r.cfg.Recording.WindowDiffThreshold,
		EnableOCR:               r.cfg.Recording.EnableOCR,
		EnableEmbedding:         r.cfg.Recording.EnableEmbedding,
		MaxImageWidth:           r.cfg.Recording.MaxImageWidth,
		ImageQuality:            r.cfg.Recording.ImageQuality,
	}

	var ocrw *ocr.Worker
	if r.cfg.Recording.EnableOCR && r.eng.OCR != nil {
		ocrw = ocr.NewWorker(r.eng.OCR, dbpkg.OCRSink{Conn: r.conn}, ocr.DefaultCapacity, 10*time.Second)
		ocrw.Start(ctx)
	}

	var embed coordinator.Embedder
	if r.cfg.Recording.EnableEmbedding && r.eng.Embedding != nil {
		embed = r.eng.Embedding
	}

	coord := coordinator.New(coordCfg, capture.NullSource{}, r.conn, r.vecs, embed, ocrw)
	go func() {
		coord.Run(ctx)
		if ocrw != nil {
			ocrw.Stop()
		}
	}()
	fmt.Println("recording started")
}

func (r *recordingSession) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	fmt.Println("recording stopped")
}
