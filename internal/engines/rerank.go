package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// judgePrompt asks the judge VLM a strict yes/no relevance question so its
// first-token logprobs can be turned into a relevance score.
const judgePrompt = "Does this image contain information relevant to answering the question: %q? Answer with exactly one word: Yes or No."

type logprobsChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Logprobs    bool          `json:"logprobs"`
	TopLogprobs int           `json:"top_logprobs"`
}

type logprobsChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []struct {
				Token       string  `json:"token"`
				Logprob     float64 `json:"logprob"`
				TopLogprobs []struct {
					Token   string  `json:"token"`
					Logprob float64 `json:"logprob"`
				} `json:"top_logprobs"`
			} `json:"content"`
		} `json:"logprobs"`
	} `json:"choices"`
}

// APIRerankEngine implements RerankEngine against a judge VLM endpoint
// that supports per-token logprobs (the OpenAI-compatible
// `logprobs`/`top_logprobs` fields), computing softmax(yes_logit,
// no_logit) as the relevance score per spec §4.8 step 7.
type APIRerankEngine struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewAPIRerankEngine constructs a rerank engine client.
func NewAPIRerankEngine(baseURL, apiKey, model string) *APIRerankEngine {
	return &APIRerankEngine{BaseURL: baseURL, APIKey: apiKey, Model: model, client: &http.Client{Timeout: 30 * time.Second}}
}

// Rerank scores each candidate independently; a candidate with no image
// scores 0 without a model call, per spec §4.8 step 6's "kept only if the
// next stage tolerates text-only" (this reranker does not).
func (e *APIRerankEngine) Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		if c.Image == nil {
			continue
		}
		score, err := e.scoreOne(ctx, query, c)
		if err != nil {
			continue // a failed judge call scores 0, it does not abort the batch
		}
		scores[i] = score
	}
	return scores, nil
}

func (e *APIRerankEngine) scoreOne(ctx context.Context, query string, c RerankCandidate) (float64, error) {
	jpegBytes, err := EncodeJPEG(c.Image)
	if err != nil {
		return 0, fmt.Errorf("engines: encode candidate image: %w", err)
	}

	parts := []contentPart{
		{Type: "text", Text: fmt.Sprintf(judgePrompt, query)},
		{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)}},
	}
	reqBody := logprobsChatRequest{
		Model:       e.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:   1,
		Logprobs:    true,
		TopLogprobs: 5,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, err
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var result logprobsChatResponse
	if err := json.Unmarshal(respBytes, &result); err != nil || len(result.Choices) == 0 {
		return 0, fmt.Errorf("engines: decode rerank response (HTTP %d)", resp.StatusCode)
	}

	choice := result.Choices[0]
	if choice.Logprobs == nil || len(choice.Logprobs.Content) == 0 {
		return textualFallbackScore(choice.Message.Content), nil
	}

	var yesLogit, noLogit float64
	haveYes, haveNo := false, false
	for _, cand := range choice.Logprobs.Content[0].TopLogprobs {
		switch strings.ToLower(strings.TrimSpace(cand.Token)) {
		case "yes":
			yesLogit, haveYes = cand.Logprob, true
		case "no":
			noLogit, haveNo = cand.Logprob, true
		}
	}
	if !haveYes && !haveNo {
		return textualFallbackScore(choice.Message.Content), nil
	}
	if !haveYes {
		yesLogit = math.Inf(-1)
	}
	if !haveNo {
		noLogit = math.Inf(-1)
	}
	return softmaxYes(yesLogit, noLogit), nil
}

// softmaxYes computes softmax([yes, no])[0], the normalized probability
// mass on "yes" relative to "no".
func softmaxYes(yesLogit, noLogit float64) float64 {
	m := math.Max(yesLogit, noLogit)
	ey := math.Exp(yesLogit - m)
	en := math.Exp(noLogit - m)
	if ey+en == 0 {
		return 0
	}
	return ey / (ey + en)
}

func textualFallbackScore(content string) float64 {
	if strings.Contains(strings.ToLower(content), "yes") {
		return 1
	}
	return 0
}
