package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kart-io/knowbase/pkg/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected base url: %s", cfg.BaseURL)
	}
	if cfg.EmbedModel == "" || cfg.ChatModel == "" {
		t.Error("expected default models to be set")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(map[string]any{
		"api_key":     "test-key",
		"base_url":    "http://localhost:8080/v1",
		"chat_model":  "gpt-4o",
		"embed_model": "text-embedding-3-large",
		"timeout":     30 * time.Second,
		"temperature": 0.2,
		"max_tokens":  2000,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	provider := p.(*Provider)
	if provider.config.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("unexpected base url: %s", provider.config.BaseURL)
	}
	if provider.config.ChatModel != "gpt-4o" {
		t.Errorf("unexpected chat model: %s", provider.config.ChatModel)
	}
	if provider.config.Temperature != 0.2 {
		t.Errorf("unexpected temperature: %f", provider.config.Temperature)
	}
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(map[string]any{})
	if err == nil {
		t.Error("expected error when api_key is missing")
	}
}

func TestProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}

		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		// 故意乱序返回，验证按 index 归位
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"index":     i,
				"embedding": []float32{float32(i), 0.5},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})

	embeddings, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(embeddings))
	}
	if embeddings[0][0] != 0 || embeddings[1][0] != 1 {
		t.Error("embeddings not ordered by index")
	}
}

func TestProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello there"}},
			},
		})
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})

	resp, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp != "hello there" {
		t.Errorf("unexpected response: %s", resp)
	}
}

func TestProviderGenerate(t *testing.T) {
	var gotSystem bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			if m.Role == "system" {
				gotSystem = true
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "generated"}},
			},
		})
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})

	resp, err := p.Generate(context.Background(), "prompt", "system prompt")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp != "generated" {
		t.Errorf("unexpected response: %s", resp)
	}
	if !gotSystem {
		t.Error("expected system message to be sent")
	}
}

func TestProviderEmbedEmpty(t *testing.T) {
	p := NewProviderWithConfig(DefaultConfig())

	embeddings, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if embeddings != nil {
		t.Error("expected nil embeddings for empty input")
	}
}

func TestOrganizationHeader(t *testing.T) {
	var gotOrg string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("OpenAI-Organization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}},
		})
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL:      server.URL,
		APIKey:       "test-key",
		Organization: "org-123",
		Timeout:      5 * time.Second,
	})

	if _, err := p.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if gotOrg != "org-123" {
		t.Errorf("expected organization header, got '%s'", gotOrg)
	}
}

func TestNoRetryOnBadRequest(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})

	if _, err := p.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Errorf("expected no retries on 400, got %d attempts", attempts)
	}
}
