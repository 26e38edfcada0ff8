// Package appwiring builds the engines.Engines bundle and the vector
// store pair from a config.Config, shared by cmd/vmrecord, cmd/vmquery,
// and cmd/vmctl so all three binaries agree on how a config value turns
// into live collaborators.
package appwiring

import (
	"database/sql"
	"log"

	"github.com/DyingCoderLin/VisualMem/internal/config"
	"github.com/DyingCoderLin/VisualMem/internal/engines"
	"github.com/DyingCoderLin/VisualMem/internal/vectorstore"
)

const (
	defaultRewriteTemperature = 0.2
	defaultVLMTemperature     = 0.2
	defaultVLMMaxTokens       = 1024
)

// BuildEngines constructs every external collaborator the config enables.
// Any role the config leaves unaddressed is left nil; callers already
// degrade gracefully on a nil engines.Engines field.
func BuildEngines(cfg *config.Config) engines.Engines {
	var e engines.Engines

	if cfg.Recording.EnableEmbedding && cfg.Engines.EmbeddingModel != "" {
		e.Embedding = engines.NewAPIEmbeddingEngine(cfg.Engines.VLMAPIURI, cfg.Engines.VLMAPIKey, cfg.Engines.EmbeddingModel)
	}

	if cfg.Recording.EnableOCR && cfg.Engines.OCREngineType == "tesseract" {
		if engines.IsTesseractAvailable() {
			e.OCR = engines.NewTesseractOCREngine("")
		} else {
			log.Printf("[appwiring] OCR enabled but tesseract binary not found in PATH; disabling OCR")
		}
	}

	if cfg.Retrieval.EnableLLMRewrite && cfg.Engines.RewriteBaseURL != "" {
		e.Rewrite = engines.NewAPIRewriteEngine(cfg.Engines.RewriteBaseURL, cfg.Engines.RewriteAPIKey, cfg.Engines.RewriteModel, defaultRewriteTemperature)
	}

	if cfg.Retrieval.EnableRerank && cfg.Engines.RerankModel != "" {
		e.Rerank = engines.NewAPIRerankEngine(cfg.Engines.VLMAPIURI, cfg.Engines.VLMAPIKey, cfg.Engines.RerankModel)
	}

	if cfg.Engines.VLMAPIURI != "" {
		endpoint := engines.EndpointChatCompletions
		if cfg.Engines.VLMBackendType == config.VLMBackendTransformer {
			endpoint = engines.EndpointGenerate
		}
		e.VLM = engines.NewAPIVLMEngine(cfg.Engines.VLMAPIURI, cfg.Engines.VLMAPIKey, cfg.Engines.VLMAPIModel, defaultVLMTemperature, defaultVLMMaxTokens, endpoint)
	}

	return e
}

// OpenImageVectorStore opens the dense image-embedding table, used in
// both recording (C7) and retrieval (C8). Returns a nil Store when the
// config is in simple storage mode, which is a valid no-vector-search
// configuration, not an error.
func OpenImageVectorStore(conn *sql.DB, cfg *config.Config) (vectorstore.Store, error) {
	if cfg.Recording.StorageMode != config.StorageModeVector {
		return nil, nil
	}
	return vectorstore.NewSQLiteStore(conn)
}

// OpenImageVectorStoreAlways opens the dense image-embedding table
// regardless of the config's storage mode, for tools (vmctl rebuild,
// vmctl compact) that operate on the vector index directly rather than
// through the recording pipeline.
func OpenImageVectorStoreAlways(conn *sql.DB) (vectorstore.Store, error) {
	return vectorstore.NewSQLiteStore(conn)
}

// OpenTextVectorStore opens the parallel text-embedding table (C10's
// rebuild target; §6's text_lancedb/ store), kept in a separate SQL
// table from the image space via vectorstore.NewSQLiteStoreNamed so the
// two embedding spaces never collide on frame_id.
func OpenTextVectorStore(conn *sql.DB) (vectorstore.Store, error) {
	return vectorstore.NewSQLiteStoreNamed(conn, "text_vector_rows")
}
