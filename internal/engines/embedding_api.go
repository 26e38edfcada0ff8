package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"
)

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// APIEmbeddingEngine implements EmbeddingEngine against an
// OpenAI-compatible /v1/embeddings endpoint. Image embedding is done by
// base64-encoding the JPEG-encoded image as a data URL input string,
// matching the multimodal embedding models this endpoint shape commonly
// fronts; a text-only backend configured under the same URL simply
// ignores a data-URL input it can't use, which surfaces as a low-quality
// (not failing) embedding — acceptable since C8's cosine ranking degrades
// gracefully rather than erroring on a mismatched vector.
type APIEmbeddingEngine struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewAPIEmbeddingEngine constructs an embedding engine client.
func NewAPIEmbeddingEngine(baseURL, apiKey, model string) *APIEmbeddingEngine {
	return &APIEmbeddingEngine{
		BaseURL: baseURL, APIKey: apiKey, Model: model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// EmbedText embeds a text string.
func (e *APIEmbeddingEngine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedImage JPEG-encodes img and embeds it as a base64 data URL.
func (e *APIEmbeddingEngine) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("engines: encode image for embedding: %w", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return e.embed(ctx, dataURL)
}

func (e *APIEmbeddingEngine) embed(ctx context.Context, input string) ([]float32, error) {
	reqBody := embeddingRequest{Model: e.Model, Input: input}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("engines: marshal embedding request: %w", err)
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engines: build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engines: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engines: read embedding response: %w", err)
	}

	var wire embeddingResponse
	if err := json.Unmarshal(respBytes, &wire); err != nil || len(wire.Data) == 0 {
		return nil, fmt.Errorf("engines: decode embedding response (HTTP %d)", resp.StatusCode)
	}
	return wire.Data[0].Embedding, nil
}
