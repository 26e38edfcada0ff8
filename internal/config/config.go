// Package config defines the single typed configuration struct for the
// visual memory engine and loads it from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StorageMode selects whether accepted frames are kept as per-frame JPEGs
// (no vector store) or indexed into the vector store for dense retrieval.
type StorageMode string

const (
	StorageModeSimple StorageMode = "simple"
	StorageModeVector StorageMode = "vector"
)

// VLMBackend selects the wire dialect used to talk to the vision-language
// model endpoint.
type VLMBackend string

const (
	VLMBackendVLLM        VLMBackend = "vllm"
	VLMBackendTransformer VLMBackend = "transformer"
)

// RecordingConfig controls the capture-to-storage pipeline (C1-C7).
type RecordingConfig struct {
	StorageRoot             string
	StorageMode             StorageMode
	CaptureIntervalSeconds  float64
	FPS                     float64
	ChunkDurationSeconds    int
	CaptureWindows          bool
	CaptureUnfocusedWindows bool
	SimpleFilterThreshold   float64
	ScreenDiffThreshold     float64
	WindowDiffThreshold     float64
	EnableOCR               bool
	EnableEmbedding         bool
	MaxImageWidth           int
	ImageQuality            int
}

// RetrievalConfig controls the query planner (C8).
type RetrievalConfig struct {
	EnableHybrid         bool
	EnableRerank         bool
	RerankTopK           int
	EnableLLMRewrite     bool
	EnableTimeFilter     bool
	QueryRewriteNum      int
	MaxImagesToLoad      int
	EnableQueryFrameDiff bool
}

// EnginesConfig addresses the external collaborators: embedding, OCR,
// rerank, and VLM endpoints.
type EnginesConfig struct {
	EmbeddingModel    string
	RerankModel       string
	OCREngineType     string
	OCRDBPath         string
	LanceDBPath       string
	TextLanceDBPath   string
	ImageStoragePath  string
	VLMAPIURI         string
	VLMAPIKey         string
	VLMAPIModel       string
	VLMBackendType    VLMBackend
	RewriteBaseURL    string
	RewriteModel      string
	RewriteAPIKey     string
}

// ErrorLogConfig configures the ambient rotating error-log sink.
type ErrorLogConfig struct {
	RotationMB int
	MaxBackups int
}

// Config is the single entry point for every tunable this system exposes.
type Config struct {
	Recording RecordingConfig
	Retrieval RetrievalConfig
	Engines   EnginesConfig
	ErrorLog  ErrorLogConfig
	LogLevel  string
}

// Default returns a Config populated with the defaults named in the
// environment-variable enumeration.
func Default() *Config {
	return &Config{
		Recording: RecordingConfig{
			StorageRoot:             "./data",
			StorageMode:             StorageModeVector,
			CaptureIntervalSeconds:  1.0,
			FPS:                     1.0,
			ChunkDurationSeconds:    60,
			CaptureWindows:          true,
			CaptureUnfocusedWindows: true,
			SimpleFilterThreshold:   0.006,
			ScreenDiffThreshold:     0.006,
			WindowDiffThreshold:     0.006,
			EnableOCR:               true,
			EnableEmbedding:         true,
			MaxImageWidth:           0,
			ImageQuality:            80,
		},
		Retrieval: RetrievalConfig{
			EnableHybrid:         true,
			EnableRerank:         true,
			RerankTopK:           10,
			EnableLLMRewrite:     true,
			EnableTimeFilter:     true,
			QueryRewriteNum:      3,
			MaxImagesToLoad:      5,
			EnableQueryFrameDiff: false,
		},
		Engines: EnginesConfig{
			OCREngineType:    "tesseract",
			VLMBackendType:   VLMBackendVLLM,
		},
		ErrorLog: ErrorLogConfig{
			RotationMB: 100,
			MaxBackups: 5,
		},
		LogLevel: "info",
	}
}

// FromEnv builds a Config from the process environment, applying defaults
// for anything unset. It returns an error for a config value that fails
// basic validation (error kind 8 in the error-handling design: config
// errors fail fast at startup).
func FromEnv() (*Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("STORAGE_ROOT"); ok && v != "" {
		cfg.Recording.StorageRoot = v
	}
	if v, ok := os.LookupEnv("STORAGE_MODE"); ok && v != "" {
		switch StorageMode(v) {
		case StorageModeSimple, StorageModeVector:
			cfg.Recording.StorageMode = StorageMode(v)
		default:
			return nil, fmt.Errorf("config: STORAGE_MODE must be %q or %q, got %q", StorageModeSimple, StorageModeVector, v)
		}
	}

	var err error
	if cfg.Recording.CaptureIntervalSeconds, err = envFloat("CAPTURE_INTERVAL_SECONDS", cfg.Recording.CaptureIntervalSeconds); err != nil {
		return nil, err
	}
	if cfg.Recording.FPS, err = envFloat("FPS", cfg.Recording.FPS); err != nil {
		return nil, err
	}
	if cfg.Recording.FPS <= 0 {
		return nil, fmt.Errorf("config: FPS must be positive, got %v", cfg.Recording.FPS)
	}
	if cfg.Recording.ChunkDurationSeconds, err = envInt("CHUNK_DURATION_SECONDS", cfg.Recording.ChunkDurationSeconds); err != nil {
		return nil, err
	}
	if cfg.Recording.CaptureWindows, err = envBool("CAPTURE_WINDOWS", cfg.Recording.CaptureWindows); err != nil {
		return nil, err
	}
	if cfg.Recording.CaptureUnfocusedWindows, err = envBool("CAPTURE_UNFOCUSED_WINDOWS", cfg.Recording.CaptureUnfocusedWindows); err != nil {
		return nil, err
	}
	if cfg.Recording.SimpleFilterThreshold, err = envFloat("SIMPLE_FILTER_DIFF_THRESHOLD", cfg.Recording.SimpleFilterThreshold); err != nil {
		return nil, err
	}
	if cfg.Recording.ScreenDiffThreshold, err = envFloat("SCREEN_DIFF_THRESHOLD", cfg.Recording.ScreenDiffThreshold); err != nil {
		return nil, err
	}
	if cfg.Recording.WindowDiffThreshold, err = envFloat("WINDOW_DIFF_THRESHOLD", cfg.Recording.WindowDiffThreshold); err != nil {
		return nil, err
	}
	if cfg.Recording.EnableOCR, err = envBool("ENABLE_OCR", cfg.Recording.EnableOCR); err != nil {
		return nil, err
	}
	if cfg.Recording.MaxImageWidth, err = envInt("MAX_IMAGE_WIDTH", cfg.Recording.MaxImageWidth); err != nil {
		return nil, err
	}
	if cfg.Recording.ImageQuality, err = envInt("IMAGE_QUALITY", cfg.Recording.ImageQuality); err != nil {
		return nil, err
	}

	if cfg.Retrieval.EnableHybrid, err = envBool("ENABLE_HYBRID", cfg.Retrieval.EnableHybrid); err != nil {
		return nil, err
	}
	if cfg.Retrieval.EnableRerank, err = envBool("ENABLE_RERANK", cfg.Retrieval.EnableRerank); err != nil {
		return nil, err
	}
	if cfg.Retrieval.RerankTopK, err = envInt("RERANK_TOP_K", cfg.Retrieval.RerankTopK); err != nil {
		return nil, err
	}
	if cfg.Retrieval.EnableLLMRewrite, err = envBool("ENABLE_LLM_REWRITE", cfg.Retrieval.EnableLLMRewrite); err != nil {
		return nil, err
	}
	if cfg.Retrieval.EnableTimeFilter, err = envBool("ENABLE_TIME_FILTER", cfg.Retrieval.EnableTimeFilter); err != nil {
		return nil, err
	}
	if cfg.Retrieval.QueryRewriteNum, err = envInt("QUERY_REWRITE_NUM", cfg.Retrieval.QueryRewriteNum); err != nil {
		return nil, err
	}
	if cfg.Retrieval.MaxImagesToLoad, err = envInt("MAX_IMAGES_TO_LOAD", cfg.Retrieval.MaxImagesToLoad); err != nil {
		return nil, err
	}
	if cfg.Retrieval.EnableQueryFrameDiff, err = envBool("ENABLE_QUERY_FRAME_DIFF", cfg.Retrieval.EnableQueryFrameDiff); err != nil {
		return nil, err
	}

	cfg.Engines.EmbeddingModel = envStr("EMBEDDING_MODEL", cfg.Engines.EmbeddingModel)
	cfg.Engines.RerankModel = envStr("RERANK_MODEL", cfg.Engines.RerankModel)
	cfg.Engines.OCREngineType = envStr("OCR_ENGINE_TYPE", cfg.Engines.OCREngineType)
	cfg.Engines.OCRDBPath = envStr("OCR_DB_PATH", joinRoot(cfg.Recording.StorageRoot, "ocr.db"))
	cfg.Engines.LanceDBPath = envStr("LANCEDB_PATH", joinRoot(cfg.Recording.StorageRoot, "lancedb"))
	cfg.Engines.TextLanceDBPath = envStr("TEXT_LANCEDB_PATH", joinRoot(cfg.Recording.StorageRoot, "text_lancedb"))
	cfg.Engines.ImageStoragePath = envStr("IMAGE_STORAGE_PATH", joinRoot(cfg.Recording.StorageRoot, "images"))

	cfg.Engines.VLMAPIURI = envStr("VLM_API_URI", cfg.Engines.VLMAPIURI)
	cfg.Engines.VLMAPIKey = envStr("VLM_API_KEY", cfg.Engines.VLMAPIKey)
	cfg.Engines.VLMAPIModel = envStr("VLM_API_MODEL", cfg.Engines.VLMAPIModel)
	if v, ok := os.LookupEnv("VLM_BACKEND_TYPE"); ok && v != "" {
		switch VLMBackend(v) {
		case VLMBackendVLLM, VLMBackendTransformer:
			cfg.Engines.VLMBackendType = VLMBackend(v)
		default:
			return nil, fmt.Errorf("config: VLM_BACKEND_TYPE must be %q or %q, got %q", VLMBackendVLLM, VLMBackendTransformer, v)
		}
	}
	cfg.Engines.RewriteBaseURL = envStr("QUERY_REWRITE_BASE_URL", cfg.Engines.RewriteBaseURL)
	cfg.Engines.RewriteModel = envStr("QUERY_REWRITE_MODEL", cfg.Engines.RewriteModel)
	cfg.Engines.RewriteAPIKey = envStr("QUERY_REWRITE_API_KEY", cfg.Engines.RewriteAPIKey)

	if cfg.ErrorLog.RotationMB, err = envInt("ERROR_LOG_ROTATION_MB", cfg.ErrorLog.RotationMB); err != nil {
		return nil, err
	}
	if cfg.ErrorLog.MaxBackups, err = envInt("ERROR_LOG_MAX_BACKUPS", cfg.ErrorLog.MaxBackups); err != nil {
		return nil, err
	}
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)

	if cfg.Recording.StorageMode == StorageModeVector && cfg.Engines.LanceDBPath == "" {
		return nil, fmt.Errorf("config: STORAGE_MODE=vector requires a usable vector store path")
	}

	return cfg, nil
}

func joinRoot(root, leaf string) string {
	root = strings.TrimRight(root, "/")
	return root + "/" + leaf
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number, got %q", key, v)
	}
	return f, nil
}
