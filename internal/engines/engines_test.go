package engines

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"context"
)

func TestAPIVLMEngine_ChatCompletionsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected system+user messages, got %d", len(req.Messages))
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "it is a terminal window"}}},
		})
	}))
	defer srv.Close()

	e := NewAPIVLMEngine(srv.URL, "", "vlm-model", 0.2, 512, EndpointChatCompletions)
	answer, err := e.Answer(context.Background(), "", "what app is this?", []VLMFrame{{JPEG: []byte{0xff, 0xd8}}})
	if err != nil {
		t.Fatal(err)
	}
	if answer != "it is a terminal window" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestAPIRewriteEngine_FallsBackOnMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "<think>pondering</think>not json at all"}}},
		})
	}))
	defer srv.Close()

	e := NewAPIRewriteEngine(srv.URL, "", "rewrite-model", 0.0)
	result, err := e.Rewrite(context.Background(), "find my terminal session")
	if err == nil {
		t.Fatal("expected an error signaling fallback was used")
	}
	if len(result.DenseQueries) != 1 || result.DenseQueries[0] != "find my terminal session" {
		t.Fatalf("expected fallback to echo the query, got %+v", result)
	}
}

func TestSoftmaxYes(t *testing.T) {
	if got := softmaxYes(0, 0); got != 0.5 {
		t.Fatalf("equal logits should give 0.5, got %v", got)
	}
	if got := softmaxYes(10, -10); got < 0.99 {
		t.Fatalf("strongly favored yes should approach 1, got %v", got)
	}
}
