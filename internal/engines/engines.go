// Package engines defines the external-collaborator interfaces this
// system calls out to — OCR, embedding, reranking, query rewrite, and
// vision-language answering — and bundles a chosen implementation of each
// into a single Engines value selected once at startup. This replaces the
// teacher's module-global *APILLMService pattern with explicit
// dependency injection, since this system needs several distinct model
// roles (OCR engine, embedder, reranker, rewriter, VLM) rather than one.
package engines

import (
	"context"
	"image"
	"time"
)

// OCREngine extracts text from an image. TextJSON carries engine-specific
// word-level layout information and may be empty.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) (text, textJSON string, confidence float64, err error)
}

// EmbeddingEngine turns text or an image into a fixed-dimension vector.
// Implementations must return unit-norm vectors or accept that the caller
// normalizes (vectorstore.Normalize does, defensively).
type EmbeddingEngine interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// RewriteResult is the strict-schema output of the rewrite LLM step in
// spec §4.8 step 1.
type RewriteResult struct {
	DenseQueries  []string
	SparseQueries []string
	TimeRange     *TimeRange
}

// TimeRange is an optional, UTC-normalized extracted time window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// RewriteEngine expands a raw user query into dense/sparse sub-queries and
// an optional extracted time range.
type RewriteEngine interface {
	Rewrite(ctx context.Context, query string) (RewriteResult, error)
}

// RerankCandidate is one item offered to the reranker: its image is
// loaded lazily by the caller, so Image may be nil for text-only
// candidates (which the reranker should then score low or skip).
type RerankCandidate struct {
	FrameID string
	Image   image.Image
	OCRText string
}

// RerankEngine scores candidates against a query using a multimodal judge
// model; higher is more relevant.
type RerankEngine interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]float64, error)
}

// VLMFrame is one image the VLM is shown, paired with the timestamp text
// spec §4.8 step 8 requires ("Image i timestamp: <local time>").
type VLMFrame struct {
	Timestamp time.Time
	JPEG      []byte
}

// VLMEngine answers a question grounded in a set of frames.
type VLMEngine interface {
	Answer(ctx context.Context, systemPrompt, question string, frames []VLMFrame) (string, error)
}

// Engines bundles one implementation of each external collaborator,
// chosen once at startup by the caller (cmd/vmquery, cmd/vmrecord). Any
// field may be nil; callers that depend on a nil field must degrade
// gracefully (e.g. C6 simply skips OCR if OCR == nil).
type Engines struct {
	OCR       OCREngine
	Embedding EmbeddingEngine
	Rewrite   RewriteEngine
	Rerank    RerankEngine
	VLM       VLMEngine
}
