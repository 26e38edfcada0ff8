// Package query implements C8: the hybrid retrieval planner that
// coordinates rewrite, dense vector search, sparse full-text search,
// reranking, and the final VLM call. Grounded on the teacher's
// internal/query.QueryEngine (embed -> search -> LLM generate pipeline),
// generalized from single-branch RAG over document chunks to the
// dense+sparse dual-branch pipeline spec §4.8 requires.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
	"github.com/DyingCoderLin/VisualMem/internal/videochunk"
)

// Source selects which retrieval branches run.
type Source int

const (
	SourceDenseAndOCR Source = iota
	SourceOCROnly
)

// Mode selects whether retrieval happens at all.
type Mode int

const (
	ModeRAGOverHistory Mode = iota
	ModeRealTimeFromCurrentScreen
)

// Request is one user query.
type Request struct {
	Question  string
	Source    Source
	Mode      Mode
	TimeRange *engines.TimeRange // optional explicit override; rewrite's extracted range is used when nil
}

// Response is the planner's final answer plus the frames it grounded the
// answer in, newest-reranked-first.
type Response struct {
	Answer string
	Frames []model.Frame
}

// ScreenCapturer is the narrow capture surface real-time mode needs: grab
// the current screen without going through the full C1 pipeline's
// denylist/resize machinery (real-time mode wants the raw current frame).
type ScreenCapturer interface {
	CaptureCurrentScreen(ctx context.Context) (image.Image, time.Time, error)
}

// defaultKeptCandidates bounds the reranked set sent to the VLM, per spec
// §4.8 step 7's "keep top-K (default K ~ 5-20)".
const defaultKeptCandidates = 8

// defaultRealtimeHistoryFrames bounds how many historical frames real-time
// mode attaches alongside the live screen grab.
const defaultRealtimeHistoryFrames = 3

const defaultSystemPrompt = "You are a visual assistant with access to a user's screen history. " +
	"Answer the user's question in Chinese, grounding every claim in the " +
	"provided images. If the images do not contain the answer, say so plainly."

// noResultsMessage is returned verbatim when both retrieval branches come
// back empty, per spec §7 error kind 5 / §8's empty-database boundary
// case. No VLM call is made in this case.
const noResultsMessage = "no relevant screenshots found"

// candidate is one frame still in contention and its lazily-loaded image.
// Dense-first ordering (spec §4.8 step 6) is preserved by merge order, not
// a field on this struct.
type candidate struct {
	frameID   string
	timestamp time.Time
	ocrText   string
	image     image.Image
}

// Engine orchestrates the retrieval pipeline against one database/vector
// store pair and one Engines bundle.
type Engine struct {
	conn     *sql.DB
	vecs     vectorstore.Store
	engines  engines.Engines
	capturer ScreenCapturer
	ffmpegPath string
}

// NewEngine constructs a query Engine. capturer may be nil if real-time
// mode is never used.
func NewEngine(conn *sql.DB, vecs vectorstore.Store, eng engines.Engines, capturer ScreenCapturer) *Engine {
	return &Engine{conn: conn, vecs: vecs, engines: eng, capturer: capturer, ffmpegPath: "ffmpeg"}
}

// Answer runs the full pipeline for req.
func (e *Engine) Answer(ctx context.Context, req Request) (Response, error) {
	if req.Mode == ModeRealTimeFromCurrentScreen {
		return e.answerRealTime(ctx, req)
	}
	if req.Source == SourceOCROnly {
		return e.answerOCROnly(ctx, req)
	}
	return e.answerHybrid(ctx, req)
}

// answerHybrid implements spec §4.8 steps 1-8: rewrite, dual-branch
// search, merge, rerank, VLM call.
func (e *Engine) answerHybrid(ctx context.Context, req Request) (Response, error) {
	denseQueries, sparseQueries, timeRange := e.rewrite(ctx, req)

	var denseResults, sparseResults []candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := e.denseSearch(gctx, denseQueries, timeRange)
		if err != nil {
			log.Printf("[query] dense branch failed: %v", err)
			return nil // a branch failure is logged and treated as empty, not fatal
		}
		denseResults = results
		return nil
	})
	g.Go(func() error {
		results, err := e.sparseSearch(gctx, sparseQueries, timeRange)
		if err != nil {
			log.Printf("[query] sparse branch failed: %v", err)
			return nil
		}
		sparseResults = results
		return nil
	})
	_ = g.Wait() // branch goroutines never return a non-nil error; nothing to propagate

	merged := mergeDenseFirst(denseResults, sparseResults)
	if len(merged) == 0 {
		return Response{Answer: noResultsMessage}, nil
	}
	e.loadImages(merged)

	kept := e.rerank(ctx, req.Question, merged)
	return e.callVLM(ctx, req.Question, kept)
}

// answerOCROnly replaces steps 3-7 with a single FTS lookup and a
// text-only VLM prompt, per spec §4.8's "OCR-only RAG" variant.
func (e *Engine) answerOCROnly(ctx context.Context, req Request) (Response, error) {
	_, sparseQueries, timeRange := e.rewrite(ctx, req)
	results, err := e.sparseSearch(ctx, sparseQueries, timeRange)
	if err != nil {
		return Response{}, fmt.Errorf("query: ocr-only search: %w", err)
	}
	if len(results) > defaultKeptCandidates {
		results = results[:defaultKeptCandidates]
	}
	if e.engines.VLM == nil {
		return Response{Answer: "", Frames: framesOf(results)}, nil
	}
	snippets := ""
	for _, c := range results {
		snippets += fmt.Sprintf("[%s] %s\n", c.timestamp.Format(time.RFC3339), c.ocrText)
	}
	prompt := fmt.Sprintf("Reference OCR snippets:\n%s\nQuestion: %s", snippets, req.Question)
	answer, err := e.engines.VLM.Answer(ctx, defaultSystemPrompt, prompt, nil)
	if err != nil {
		return Response{}, fmt.Errorf("query: vlm answer: %w", err)
	}
	return Response{Answer: answer, Frames: framesOf(results)}, nil
}

// answerRealTime skips retrieval entirely: capture the current screen,
// attach up to N recent historical frames, and ask the VLM directly.
func (e *Engine) answerRealTime(ctx context.Context, req Request) (Response, error) {
	if e.capturer == nil {
		return Response{}, fmt.Errorf("query: real-time mode requires a screen capturer")
	}
	img, ts, err := e.capturer.CaptureCurrentScreen(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("query: capture current screen: %w", err)
	}

	frames := []model.Frame{{Timestamp: ts}}
	vlmFrames := []engines.VLMFrame{}
	if jpegBytes, err := engines.EncodeJPEG(img); err == nil {
		vlmFrames = append(vlmFrames, engines.VLMFrame{Timestamp: ts, JPEG: jpegBytes})
	}

	historical, err := dbpkg.FramesInRange(e.conn, time.Time{}, ts)
	if err == nil {
		if len(historical) > defaultRealtimeHistoryFrames {
			historical = historical[len(historical)-defaultRealtimeHistoryFrames:]
		}
		for _, f := range historical {
			img, err := e.loadFrameImage(f)
			if err != nil {
				continue
			}
			jpegBytes, err := engines.EncodeJPEG(img)
			if err != nil {
				continue
			}
			vlmFrames = append(vlmFrames, engines.VLMFrame{Timestamp: f.Timestamp, JPEG: jpegBytes})
			frames = append(frames, f)
		}
	}

	if e.engines.VLM == nil {
		return Response{Frames: frames}, nil
	}
	answer, err := e.engines.VLM.Answer(ctx, defaultSystemPrompt, req.Question, vlmFrames)
	if err != nil {
		return Response{}, fmt.Errorf("query: vlm answer: %w", err)
	}
	return Response{Answer: answer, Frames: frames}, nil
}

// rewrite runs spec §4.8 step 1, falling back to the raw question on any
// rewrite failure (the rewrite engine itself already falls back
// internally; this also covers a nil RewriteEngine and an explicit
// caller-supplied time range override).
func (e *Engine) rewrite(ctx context.Context, req Request) (dense, sparse []string, tr *engines.TimeRange) {
	if req.TimeRange != nil {
		tr = req.TimeRange
	}
	if e.engines.Rewrite == nil {
		return []string{req.Question}, []string{req.Question}, tr
	}
	result, err := e.engines.Rewrite.Rewrite(ctx, req.Question)
	if err != nil {
		log.Printf("[query] rewrite failed, falling back to raw query: %v", err)
	}
	if tr == nil {
		tr = result.TimeRange
	}
	return result.DenseQueries, result.SparseQueries, tr
}

func (e *Engine) denseSearch(ctx context.Context, queries []string, tr *engines.TimeRange) ([]candidate, error) {
	if e.engines.Embedding == nil || e.vecs == nil {
		return nil, nil
	}
	start, end := rangeOrZero(tr)
	var out []candidate
	for _, q := range queries {
		vec, err := e.engines.Embedding.EmbedText(ctx, q)
		if err != nil {
			log.Printf("[query] embed dense query %q failed: %v", q, err)
			continue
		}
		results, err := e.vecs.Search(vec, defaultKeptCandidates*2, start, end)
		if err != nil {
			return nil, fmt.Errorf("query: vector search: %w", err)
		}
		for _, r := range results {
			out = append(out, candidate{frameID: r.FrameID, timestamp: r.Timestamp, ocrText: r.OCRText})
		}
	}
	return out, nil
}

func (e *Engine) sparseSearch(ctx context.Context, queries []string, tr *engines.TimeRange) ([]candidate, error) {
	start, end := rangeOrZero(tr)
	var out []candidate
	for _, q := range queries {
		results, err := dbpkg.SearchTextInRange(e.conn, q, start, end, defaultKeptCandidates*2)
		if err != nil {
			return nil, fmt.Errorf("query: text search: %w", err)
		}
		for _, r := range results {
			if r.Score <= 0 {
				continue // zero-relevance rows are discarded per spec §4.8 step 4
			}
			out = append(out, candidate{frameID: r.FrameID, timestamp: r.Timestamp, ocrText: r.Text})
		}
	}
	return out, nil
}

func rangeOrZero(tr *engines.TimeRange) (time.Time, time.Time) {
	if tr == nil {
		return time.Time{}, time.Time{}
	}
	return tr.Start, tr.End
}

// mergeDenseFirst unions by frame_id, dense results first, preserving
// intra-branch order, per spec §4.8 step 6.
func mergeDenseFirst(dense, sparse []candidate) []candidate {
	seen := make(map[string]bool, len(dense)+len(sparse))
	merged := make([]candidate, 0, len(dense)+len(sparse))
	for _, c := range dense {
		if seen[c.frameID] {
			continue
		}
		seen[c.frameID] = true
		merged = append(merged, c)
	}
	for _, c := range sparse {
		if seen[c.frameID] {
			continue
		}
		seen[c.frameID] = true
		merged = append(merged, c)
	}
	return merged
}

// loadImages fills in each candidate's image in place, lazily, per spec
// §4.8 step 3's "loaded only for the candidates that survive merging."
// Candidates whose image cannot be loaded are left with a nil image and
// kept (text-only), per step 6.
func (e *Engine) loadImages(candidates []candidate) {
	for i := range candidates {
		f, ok := dbpkg.FrameByID(e.conn, candidates[i].frameID)
		if !ok {
			continue
		}
		img, err := e.loadFrameImage(f)
		if err != nil {
			log.Printf("[query] load image for frame %s failed: %v", f.FrameID, err)
			continue
		}
		candidates[i].image = img
	}
}

func (e *Engine) loadFrameImage(f model.Frame) (image.Image, error) {
	if f.ImagePath != "" {
		file, err := os.Open(f.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("query: open frame image: %w", err)
		}
		defer file.Close()
		img, _, err := image.Decode(file)
		return img, err
	}
	if f.VideoChunkID == nil || f.OffsetIndex == nil {
		return nil, fmt.Errorf("query: frame %s has neither image_path nor chunk reference", f.FrameID)
	}
	chunk, ok := dbpkg.VideoChunkByID(e.conn, *f.VideoChunkID)
	if !ok {
		return nil, fmt.Errorf("query: video chunk %d not found", *f.VideoChunkID)
	}
	return videochunk.ExtractFrame(e.ffmpegPath, chunk.FilePath, *f.OffsetIndex, chunk.FPS)
}

// rerank implements spec §4.8 step 7, keeping defaultKeptCandidates
// highest-scoring image-bearing candidates. If no rerank engine is
// configured, the merge order itself (dense-first) stands in as the
// ranking and the list is simply truncated.
func (e *Engine) rerank(ctx context.Context, question string, candidates []candidate) []candidate {
	imaged := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.image != nil {
			imaged = append(imaged, c)
		}
	}
	if e.engines.Rerank == nil || len(imaged) == 0 {
		if len(imaged) > defaultKeptCandidates {
			imaged = imaged[:defaultKeptCandidates]
		}
		return imaged
	}

	rerankCandidates := make([]engines.RerankCandidate, len(imaged))
	for i, c := range imaged {
		rerankCandidates[i] = engines.RerankCandidate{FrameID: c.frameID, Image: c.image, OCRText: c.ocrText}
	}
	scores, err := e.engines.Rerank.Rerank(ctx, question, rerankCandidates)
	if err != nil || len(scores) != len(imaged) {
		log.Printf("[query] rerank failed, falling back to merge order: %v", err)
		if len(imaged) > defaultKeptCandidates {
			imaged = imaged[:defaultKeptCandidates]
		}
		return imaged
	}

	order := make([]int, len(imaged))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := defaultKeptCandidates
	if n > len(order) {
		n = len(order)
	}
	out := make([]candidate, n)
	for i := 0; i < n; i++ {
		out[i] = imaged[order[i]]
	}
	return out
}

// callVLM implements spec §4.8 step 8: interleave per-frame timestamp text
// and image parts, then the user's question.
func (e *Engine) callVLM(ctx context.Context, question string, kept []candidate) (Response, error) {
	frames := make([]model.Frame, len(kept))
	vlmFrames := make([]engines.VLMFrame, 0, len(kept))
	for i, c := range kept {
		frames[i] = model.Frame{FrameID: c.frameID, Timestamp: c.timestamp}
		if c.image == nil {
			continue
		}
		jpegBytes, err := engines.EncodeJPEG(c.image)
		if err != nil {
			log.Printf("[query] encode kept frame %s failed: %v", c.frameID, err)
			continue
		}
		vlmFrames = append(vlmFrames, engines.VLMFrame{Timestamp: c.timestamp, JPEG: jpegBytes})
	}

	if e.engines.VLM == nil {
		return Response{Frames: frames}, nil
	}
	answer, err := e.engines.VLM.Answer(ctx, defaultSystemPrompt, question, vlmFrames)
	if err != nil {
		return Response{}, fmt.Errorf("query: vlm answer: %w", err)
	}
	return Response{Answer: answer, Frames: frames}, nil
}

func framesOf(candidates []candidate) []model.Frame {
	frames := make([]model.Frame, len(candidates))
	for i, c := range candidates {
		frames[i] = model.Frame{FrameID: c.frameID, Timestamp: c.timestamp}
	}
	return frames
}
