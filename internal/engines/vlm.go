package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatMessage mirrors an OpenAI-compatible chat message whose content may
// be a plain string or a multimodal content-part array, the same shape
// the teacher's llm package uses for vision requests.
type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateEndpoint selects between the OpenAI-compatible chat/completions
// wire format and an alternative flat {images, text} "/generate" payload,
// per spec §4.8 step 8.
type GenerateEndpoint int

const (
	EndpointChatCompletions GenerateEndpoint = iota
	EndpointGenerate
)

// APIVLMEngine implements VLMEngine against an HTTP vision-language model
// endpoint, adapted from the teacher's APILLMService.GenerateWithImage.
type APIVLMEngine struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Endpoint    GenerateEndpoint
	client      *http.Client
}

// NewAPIVLMEngine constructs an APIVLMEngine with a bounded HTTP client
// (90s timeout for model calls).
func NewAPIVLMEngine(baseURL, apiKey, model string, temperature float64, maxTokens int, endpoint GenerateEndpoint) *APIVLMEngine {
	return &APIVLMEngine{
		BaseURL: baseURL, APIKey: apiKey, Model: model,
		Temperature: temperature, MaxTokens: maxTokens, Endpoint: endpoint,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

// Answer builds the fixed system prompt plus interleaved
// (timestamp text, image) parts per frame, then the question, and returns
// the model's answer verbatim.
func (e *APIVLMEngine) Answer(ctx context.Context, systemPrompt, question string, frames []VLMFrame) (string, error) {
	if systemPrompt == "" {
		systemPrompt = "You are a visual assistant with access to screenshots of the user's recent activity. " +
			"Answer the user's question in Chinese, and ground your answer in the evidence shown in the images."
	}

	switch e.Endpoint {
	case EndpointGenerate:
		return e.answerGenerate(ctx, systemPrompt, question, frames)
	default:
		return e.answerChatCompletions(ctx, systemPrompt, question, frames)
	}
}

func (e *APIVLMEngine) answerChatCompletions(ctx context.Context, systemPrompt, question string, frames []VLMFrame) (string, error) {
	var parts []contentPart
	for i, f := range frames {
		parts = append(parts, contentPart{
			Type: "text",
			Text: fmt.Sprintf("Image %d timestamp: %s", i+1, f.Timestamp.Local().Format("2006-01-02 15:04:05")),
		})
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG)},
		})
	}
	parts = append(parts, contentPart{Type: "text", Text: question})

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: parts},
	}

	reqBody := chatRequest{Model: e.Model, Messages: messages, Temperature: e.Temperature, MaxTokens: e.MaxTokens}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("engines: marshal vlm request: %w", err)
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("engines: build vlm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engines: vlm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("engines: read vlm response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("engines: decode vlm response (HTTP %d): %w", resp.StatusCode, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("engines: vlm error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("engines: vlm returned no choices (HTTP %d)", resp.StatusCode)
	}
	return result.Choices[0].Message.Content, nil
}

type generateRequest struct {
	Images []string `json:"images"`
	Text   string   `json:"text"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (e *APIVLMEngine) answerGenerate(ctx context.Context, systemPrompt, question string, frames []VLMFrame) (string, error) {
	images := make([]string, len(frames))
	var textParts []string
	textParts = append(textParts, systemPrompt)
	for i, f := range frames {
		images[i] = base64.StdEncoding.EncodeToString(f.JPEG)
		textParts = append(textParts, fmt.Sprintf("Image %d timestamp: %s", i+1, f.Timestamp.Local().Format("2006-01-02 15:04:05")))
	}
	textParts = append(textParts, question)

	reqBody := generateRequest{Images: images, Text: strings.Join(textParts, "\n")}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("engines: marshal generate request: %w", err)
	}

	url := strings.TrimRight(e.BaseURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("engines: build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engines: generate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("engines: read generate response: %w", err)
	}
	var result generateResponse
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("engines: decode generate response (HTTP %d): %w", resp.StatusCode, err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("engines: generate error: %s", result.Error)
	}
	return result.Text, nil
}
