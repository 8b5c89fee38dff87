package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lunalinkco/aster/internal/config"
)

func TestEmbedderRequestAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer embed-key" {
			t.Fatalf("auth header mismatch")
		}

		var body struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "embed-model" || body.Input != "hello" {
			t.Fatalf("unexpected request: %+v", body)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Retrieval.Embedding.BaseURL = srv.URL
	cfg.Retrieval.Embedding.APIKey = "embed-key"
	cfg.Retrieval.Embedding.Model = "embed-model"

	vector, err := NewEmbedder(cfg).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 {
		t.Fatalf("vector = %v", vector)
	}
}

func TestEmbedderFallsBackToProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "main-key"
	cfg.Provider.BaseURL = "https://main.example.com"
	cfg.Agent.Model = "main-model"

	c := NewEmbedder(cfg).(*embedderClient)
	if c.apiKey != "main-key" || c.baseURL != "https://main.example.com" || c.model != "main-model" {
		t.Fatal("expected fallback to main provider settings")
	}

	cfg.Retrieval.Embedding = config.EmbeddingConfig{
		Model:   "embed-model",
		BaseURL: "https://embed.example.com",
		APIKey:  "embed-key",
	}
	c2 := NewEmbedder(cfg).(*embedderClient)
	if c2.apiKey != "embed-key" || c2.baseURL != "https://embed.example.com" || c2.model != "embed-model" {
		t.Fatal("expected embedding-specific settings to win")
	}
}

func TestEmbedderRejectsEmptyText(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.BaseURL = "https://example.com"
	if _, err := NewEmbedder(cfg).Embed(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestEmbedderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Retrieval.Embedding.BaseURL = srv.URL
	cfg.Retrieval.Embedding.Model = "embed-model"

	if _, err := NewEmbedder(cfg).Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on http 400")
	}
}
