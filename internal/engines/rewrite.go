package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// rewriteSchemaPrompt is the strict-JSON instruction appended to the
// user's query for the rewrite call, per spec §4.8 step 1.
const rewriteSchemaPrompt = `You expand search queries for a personal screen-recording archive. ` +
	`Given the user's query, respond with ONLY a JSON object of the form ` +
	`{"dense_queries": ["..."], "sparse_queries": ["..."], "time_range": {"start": "RFC3339", "end": "RFC3339"} or null}. ` +
	`No prose, no markdown fences.`

type rewriteWireResult struct {
	DenseQueries  []string `json:"dense_queries"`
	SparseQueries []string `json:"sparse_queries"`
	TimeRange     *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"time_range"`
}

// APIRewriteEngine implements RewriteEngine against an OpenAI-compatible
// chat/completions endpoint, reusing the teacher's BuildMessages shape
// with the schema prompt as the system message.
type APIRewriteEngine struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	client      *http.Client
}

// NewAPIRewriteEngine constructs a rewrite engine client.
func NewAPIRewriteEngine(baseURL, apiKey, model string, temperature float64) *APIRewriteEngine {
	return &APIRewriteEngine{
		BaseURL: baseURL, APIKey: apiKey, Model: model, Temperature: temperature,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Rewrite calls the rewrite LLM and falls back to
// {[query],[query],nil} on any error, per spec §4.8 step 1.
func (e *APIRewriteEngine) Rewrite(ctx context.Context, query string) (RewriteResult, error) {
	fallback := RewriteResult{DenseQueries: []string{query}, SparseQueries: []string{query}}

	messages := []chatMessage{
		{Role: "system", Content: rewriteSchemaPrompt},
		{Role: "user", Content: query},
	}
	reqBody := chatRequest{Model: e.Model, Messages: messages, Temperature: e.Temperature, MaxTokens: 512}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fallback, nil
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fallback, nil
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fallback, fmt.Errorf("engines: rewrite request failed, using fallback: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fallback, fmt.Errorf("engines: read rewrite response, using fallback: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil || len(chatResp.Choices) == 0 {
		return fallback, fmt.Errorf("engines: decode rewrite response, using fallback (HTTP %d)", resp.StatusCode)
	}

	raw := thinkTagRe.ReplaceAllString(chatResp.Choices[0].Message.Content, "")
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var wire rewriteWireResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return fallback, fmt.Errorf("engines: parse rewrite json, using fallback: %w", err)
	}

	result := RewriteResult{DenseQueries: wire.DenseQueries, SparseQueries: wire.SparseQueries}
	if len(result.DenseQueries) == 0 {
		result.DenseQueries = []string{query}
	}
	if len(result.SparseQueries) == 0 {
		result.SparseQueries = []string{query}
	}
	if wire.TimeRange != nil {
		start, errStart := time.Parse(time.RFC3339, wire.TimeRange.Start)
		end, errEnd := time.Parse(time.RFC3339, wire.TimeRange.End)
		if errStart == nil && errEnd == nil {
			if start.After(end) {
				start, end = end, start
			}
			result.TimeRange = &TimeRange{Start: start.UTC(), End: end.UTC()}
		}
	}
	return result, nil
}
