package engines

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIEmbeddingEngine_EmbedText(t *testing.T) {
	var gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotInput = req.Input
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := NewAPIEmbeddingEngine(srv.URL, "", "embed-model")
	vec, err := e.EmbedText(context.Background(), "terminal session open")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
	if gotInput != "terminal session open" {
		t.Fatalf("input = %q", gotInput)
	}
}

func TestAPIEmbeddingEngine_EmbedImageSendsDataURL(t *testing.T) {
	var gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotInput = req.Input
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{1, 0}}},
		})
	}))
	defer srv.Close()

	e := NewAPIEmbeddingEngine(srv.URL, "", "embed-model")
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	vec, err := e.EmbedImage(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2-dim vector, got %d", len(vec))
	}
	if len(gotInput) < len("data:image/jpeg;base64,") || gotInput[:len("data:image/jpeg;base64,")] != "data:image/jpeg;base64," {
		t.Fatalf("expected a data URL input, got %q", gotInput)
	}
}

func TestAPIEmbeddingEngine_ErrorsOnEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingResponse{})
	}))
	defer srv.Close()

	e := NewAPIEmbeddingEngine(srv.URL, "", "embed-model")
	if _, err := e.EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected an error for an empty embedding response")
	}
}

func TestParseTesseractTSV_ExtractsTextAndMeanConfidence(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90.5\thello\n" +
		"5\t1\t1\t1\t1\t2\t10\t0\t10\t10\t80.0\tworld\n" +
		"5\t1\t1\t1\t2\t1\t0\t10\t10\t10\t95.0\tagain\n" +
		"2\t1\t1\t1\t2\t0\t0\t0\t0\t0\t-1\t\n"

	text, conf := parseTesseractTSV(tsv)
	if text == "" {
		t.Fatal("expected non-empty text")
	}
	if conf <= 0 || conf > 1 {
		t.Fatalf("expected confidence in (0,1], got %v", conf)
	}
}

func TestParseTesseractTSV_EmptyInput(t *testing.T) {
	text, conf := parseTesseractTSV("")
	if text != "" || conf != 0 {
		t.Fatalf("expected empty result for empty TSV, got %q/%v", text, conf)
	}
}
