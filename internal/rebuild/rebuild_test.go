package rebuild

import (
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/reporter"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
)

func writeImage(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
}

type fakeOCREngine struct{ text string }

func (f fakeOCREngine) Recognize(ctx context.Context, img image.Image) (string, string, float64, error) {
	return f.text, "", 0.9, nil
}

type fakeEmbeddingEngine struct{ vector []float32 }

func (f fakeEmbeddingEngine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}
func (f fakeEmbeddingEngine) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	return f.vector, nil
}

func setupRebuilder(t *testing.T) (*Rebuilder, string, *sql.DB) {
	t.Helper()
	imgDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "ocr.db")

	conn, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	imageVecs, err := vectorstore.NewSQLiteStore(conn)
	if err != nil {
		t.Fatal(err)
	}
	textVecs, err := vectorstore.NewSQLiteStoreNamed(conn, "text_vector_rows")
	if err != nil {
		t.Fatal(err)
	}

	eng := engines.Engines{
		OCR:       fakeOCREngine{text: "invoice total due friday"},
		Embedding: fakeEmbeddingEngine{vector: []float32{1, 0, 0, 0}},
	}
	r := New(conn, imageVecs, textVecs, eng, reporter.NoopReporter{})
	return r, imgDir, conn
}

func TestRebuild_DerivesFrameIDFromCanonicalFilename(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 678000000, time.UTC)
	name := ts.Format("20060102_150405") + "_678000.jpg"
	path := filepath.Join(dir, name)
	writeImage(t, path)

	frameID, parsed, err := deriveFrameID(path)
	if err != nil {
		t.Fatal(err)
	}
	if frameID != name[:22] {
		t.Fatalf("frameID = %q, want %q", frameID, name[:22])
	}
	if !parsed.Equal(ts.Truncate(time.Microsecond)) {
		t.Fatalf("parsed timestamp = %v, want %v", parsed, ts)
	}
}

func TestRebuild_FallsBackToMtimeForUnrecognizedFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenshot_final_v2.jpg")
	writeImage(t, path)

	frameID, _, err := deriveFrameID(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(frameID) != 22 {
		t.Fatalf("expected a canonical 22-char frame_id from mtime fallback, got %q", frameID)
	}
}

func TestRebuild_PopulatesRelationalOCRAndBothVectorTables(t *testing.T) {
	r, imgDir, conn := setupRebuilder(t)

	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	name := ts.Format("20060102_150405") + "_000000.jpg"
	writeImage(t, filepath.Join(imgDir, name))

	ctx := context.Background()
	if err := r.Rebuild(ctx, Config{Dir: imgDir}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	frameID := name[:22]
	if _, ok := db.FrameByID(conn, frameID); !ok {
		t.Fatal("expected frame row after rebuild")
	}

	text, err := db.OCRTextForFrame(conn, frameID)
	if err != nil {
		t.Fatal(err)
	}
	if text != "invoice total due friday" {
		t.Fatalf("ocr text = %q", text)
	}

	var imageVectorCount, textVectorCount int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM vector_rows WHERE frame_id = ?`, frameID).Scan(&imageVectorCount); err != nil {
		t.Fatal(err)
	}
	if imageVectorCount != 1 {
		t.Fatalf("expected 1 image vector row, got %d", imageVectorCount)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM text_vector_rows WHERE frame_id = ?`, frameID).Scan(&textVectorCount); err != nil {
		t.Fatal(err)
	}
	if textVectorCount != 1 {
		t.Fatalf("expected 1 text vector row, got %d", textVectorCount)
	}
}

func TestRebuild_IsIdempotentAcrossTwoRuns(t *testing.T) {
	r, imgDir, conn := setupRebuilder(t)

	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	name := ts.Format("20060102_150405") + "_000000.jpg"
	writeImage(t, filepath.Join(imgDir, name))

	ctx := context.Background()
	if err := r.Rebuild(ctx, Config{Dir: imgDir}); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	if err := r.Rebuild(ctx, Config{Dir: imgDir}); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	var frameCount, vectorCount int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&frameCount); err != nil {
		t.Fatal(err)
	}
	if frameCount != 1 {
		t.Fatalf("expected exactly 1 frame row after two rebuilds, got %d", frameCount)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM vector_rows`).Scan(&vectorCount); err != nil {
		t.Fatal(err)
	}
	if vectorCount != 1 {
		t.Fatalf("expected exactly 1 vector row after two rebuilds, got %d", vectorCount)
	}
}

func TestRebuild_ClearExistingRemovesPriorState(t *testing.T) {
	r, imgDir, conn := setupRebuilder(t)

	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	name := ts.Format("20060102_150405") + "_000000.jpg"
	writeImage(t, filepath.Join(imgDir, name))

	ctx := context.Background()
	if err := r.Rebuild(ctx, Config{Dir: imgDir}); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}

	if err := os.Remove(filepath.Join(imgDir, name)); err != nil {
		t.Fatal(err)
	}
	if err := r.Rebuild(ctx, Config{Dir: imgDir, ClearExisting: true}); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	var frameCount int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&frameCount); err != nil {
		t.Fatal(err)
	}
	if frameCount != 0 {
		t.Fatalf("expected 0 frame rows after clearing rebuild over an empty tree, got %d", frameCount)
	}
}
