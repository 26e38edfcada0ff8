package query

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

	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
)

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
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
	return path
}

type fakeEmbeddingEngine struct{ vector []float32 }

func (f fakeEmbeddingEngine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}
func (f fakeEmbeddingEngine) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	return f.vector, nil
}

type fakeVLMEngine struct {
	lastFrameCount int
	answer         string
	called         bool
}

func (f *fakeVLMEngine) Answer(ctx context.Context, systemPrompt, question string, frames []engines.VLMFrame) (string, error) {
	f.called = true
	f.lastFrameCount = len(frames)
	return f.answer, nil
}

func setupEngine(t *testing.T) (*Engine, *sql.DB, string) {
	t.Helper()
	dir := t.TempDir()
	conn, err := dbpkg.Open(filepath.Join(dir, "q.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	vecs, err := vectorstore.NewSQLiteStore(conn)
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(conn, vecs, engines.Engines{}, nil), conn, dir
}

func TestEngine_AnswerHybrid_MergesDenseAndSparseWithoutDuplicates(t *testing.T) {
	e, conn, dir := setupEngine(t)

	imgPath1 := writeTestImage(t, dir, "f1.jpg")
	imgPath2 := writeTestImage(t, dir, "f2.jpg")
	now := time.Now().UTC()

	f1 := model.Frame{FrameID: "f1", Timestamp: now, ImagePath: imgPath1}
	f2 := model.Frame{FrameID: "f2", Timestamp: now.Add(time.Second), ImagePath: imgPath2}
	if err := dbpkg.UpsertFrame(conn, f1); err != nil {
		t.Fatal(err)
	}
	if err := dbpkg.UpsertFrame(conn, f2); err != nil {
		t.Fatal(err)
	}
	if _, err := dbpkg.InsertOCRText(conn, model.OCRRow{FrameID: "f1", Text: "terminal session open"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dbpkg.InsertOCRText(conn, model.OCRRow{FrameID: "f2", Text: "terminal window idle"}); err != nil {
		t.Fatal(err)
	}

	vec := vectorstore.Normalize([]float32{1, 0, 0, 0})
	if err := e.vecs.StoreFrame(vectorstore.Row{FrameID: "f1", Timestamp: now, Vector: vec}); err != nil {
		t.Fatal(err)
	}

	e.engines.Embedding = fakeEmbeddingEngine{vector: vec}
	vlm := &fakeVLMEngine{answer: "this is a terminal"}
	e.engines.VLM = vlm

	resp, err := e.Answer(context.Background(), Request{Question: "terminal"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "this is a terminal" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}

	seen := map[string]bool{}
	for _, f := range resp.Frames {
		if seen[f.FrameID] {
			t.Fatalf("frame %s appeared twice in merged results", f.FrameID)
		}
		seen[f.FrameID] = true
	}
	if !seen["f1"] || !seen["f2"] {
		t.Fatalf("expected both f1 (dense+sparse) and f2 (sparse-only), got %+v", resp.Frames)
	}
	if resp.Frames[0].FrameID != "f1" {
		t.Fatalf("expected dense hit f1 to come first, got %+v", resp.Frames)
	}
	if vlm.lastFrameCount != 2 {
		t.Fatalf("expected 2 images sent to the VLM, got %d", vlm.lastFrameCount)
	}
}

func TestEngine_AnswerOCROnly_SkipsDenseBranch(t *testing.T) {
	e, conn, dir := setupEngine(t)
	imgPath := writeTestImage(t, dir, "f1.jpg")
	now := time.Now().UTC()
	if err := dbpkg.UpsertFrame(conn, model.Frame{FrameID: "f1", Timestamp: now, ImagePath: imgPath}); err != nil {
		t.Fatal(err)
	}
	if _, err := dbpkg.InsertOCRText(conn, model.OCRRow{FrameID: "f1", Text: "invoice total due"}); err != nil {
		t.Fatal(err)
	}

	vlm := &fakeVLMEngine{answer: "the invoice is due"}
	e.engines.VLM = vlm

	resp, err := e.Answer(context.Background(), Request{Question: "invoice", Source: SourceOCROnly})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "the invoice is due" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Frames) != 1 || resp.Frames[0].FrameID != "f1" {
		t.Fatalf("expected exactly frame f1, got %+v", resp.Frames)
	}
}

func TestEngine_AnswerHybrid_NoResultsReturnsFixedMessageWithoutCallingVLM(t *testing.T) {
	e, _, _ := setupEngine(t)
	vlm := &fakeVLMEngine{answer: "no information found"}
	e.engines.VLM = vlm

	resp, err := e.Answer(context.Background(), Request{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != noResultsMessage {
		t.Fatalf("expected the fixed no-results message, got %q", resp.Answer)
	}
	if len(resp.Frames) != 0 {
		t.Fatalf("expected no frames, got %+v", resp.Frames)
	}
	if vlm.called {
		t.Fatal("expected the VLM to not be called when both branches return empty")
	}
}
