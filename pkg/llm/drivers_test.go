package llm_test

import (
	"testing"

	"github.com/kart-io/knowbase/pkg/llm"

	_ "github.com/kart-io/knowbase/pkg/llm/deepseek"
	_ "github.com/kart-io/knowbase/pkg/llm/gemini"
	_ "github.com/kart-io/knowbase/pkg/llm/huggingface"
	_ "github.com/kart-io/knowbase/pkg/llm/ollama"
	_ "github.com/kart-io/knowbase/pkg/llm/openai"
	_ "github.com/kart-io/knowbase/pkg/llm/siliconflow"
)

// 所有内建驱动经 init 注册后都能从工厂按名称构造。
func TestBuiltinDriversConstructViaFactory(t *testing.T) {
	tests := []struct {
		name        string
		config      map[string]any
		needsAPIKey bool
	}{
		{name: "deepseek", config: map[string]any{"api_key": "test"}, needsAPIKey: true},
		{name: "gemini", config: map[string]any{"api_key": "test"}, needsAPIKey: true},
		{name: "huggingface", config: map[string]any{"api_key": "test"}, needsAPIKey: true},
		{name: "ollama", config: map[string]any{}, needsAPIKey: false},
		{name: "openai", config: map[string]any{"api_key": "test"}, needsAPIKey: true},
		{name: "siliconflow", config: map[string]any{"api_key": "test"}, needsAPIKey: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !llm.Registered(tt.name) {
				t.Fatalf("driver %s not registered", tt.name)
			}

			chat, err := llm.NewChatProvider(tt.name, tt.config)
			if err != nil {
				t.Fatalf("NewChatProvider(%s) failed: %v", tt.name, err)
			}
			if chat.Name() != tt.name {
				t.Errorf("expected chat provider name %s, got %s", tt.name, chat.Name())
			}

			embed, err := llm.NewEmbeddingProvider(tt.name, tt.config)
			if err != nil {
				t.Fatalf("NewEmbeddingProvider(%s) failed: %v", tt.name, err)
			}
			if embed.Name() != tt.name {
				t.Errorf("expected embedding provider name %s, got %s", tt.name, embed.Name())
			}

			if tt.needsAPIKey {
				if _, err := llm.NewProvider(tt.name, map[string]any{}); err == nil {
					t.Errorf("expected %s to reject empty api_key", tt.name)
				}
			}
		})
	}
}
