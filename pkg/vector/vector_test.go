package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackClientDeterministic(t *testing.T) {
	c := NewFallbackClient(8)
	ctx := context.Background()

	first, err := c.EmbedText(ctx, []string{"hello world", "another text"})
	require.NoError(t, err)
	second, err := c.EmbedText(ctx, []string{"hello world", "another text"})
	require.NoError(t, err)

	assert.Equal(t, first, second, "same input must yield same vectors")
	require.Len(t, first, 2)
	assert.Len(t, first[0], 8)
	assert.NotEqual(t, first[0], first[1])
}

func TestFallbackClientImageDeterministic(t *testing.T) {
	c := NewFallbackClient(0)
	ctx := context.Background()

	img := []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02}
	first, err := c.EmbedImage(ctx, img)
	require.NoError(t, err)
	second, err := c.EmbedImage(ctx, img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, fallbackDim)
}

func TestFallbackClientRerank(t *testing.T) {
	c := NewFallbackClient(8)
	scores, err := c.Rerank(context.Background(), "query", []string{"short", "a much longer document"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Greater(t, scores[1], scores[0])
}

func TestRemoteConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RemoteConfig
		wantErr bool
	}{
		{
			name:   "合法配置",
			config: RemoteConfig{TextEndpoint: "http://embed.local/v1", Dim: 768},
		},
		{
			name:    "缺少 endpoint",
			config:  RemoteConfig{Dim: 768},
			wantErr: true,
		},
		{
			name:    "非法维度",
			config:  RemoteConfig{TextEndpoint: "http://embed.local/v1", Dim: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRemoteClientEmbedText(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs := req["input"].([]interface{})

		resp := map[string]interface{}{"data": []map[string]interface{}{}}
		data := make([]map[string]interface{}, 0, len(inputs))
		for range inputs {
			data = append(data, map[string]interface{}{"embedding": []float64{0.1, 0.2}})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c, err := NewRemoteClient(&RemoteConfig{
		TextEndpoint: server.URL,
		APIKey:       "secret",
		Dim:          2,
	})
	require.NoError(t, err)

	vectors, err := c.EmbedText(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2}, vectors[0])
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestRemoteClientEmbedTextCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"vector": []float64{0.5}})
	}))
	defer server.Close()

	c, err := NewRemoteClient(&RemoteConfig{TextEndpoint: server.URL, Dim: 1, MaxRetries: 1})
	require.NoError(t, err)

	_, err = c.EmbedText(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "数量不匹配")
}

func TestRemoteClientRerankResultsShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 1, "relevance_score": 0.9},
				{"index": 0, "relevance_score": 0.3},
			},
		})
	}))
	defer server.Close()

	c, err := NewRemoteClient(&RemoteConfig{
		TextEndpoint:   server.URL,
		RerankEndpoint: server.URL,
		Dim:            2,
	})
	require.NoError(t, err)

	scores, err := c.Rerank(context.Background(), "q", []string{"d0", "d1"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.9}, scores)
}

func TestRemoteClientRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"vector": []float64{1, 2}})
	}))
	defer server.Close()

	c, err := NewRemoteClient(&RemoteConfig{TextEndpoint: server.URL, Dim: 2, MaxRetries: 3})
	require.NoError(t, err)

	vectors, err := c.EmbedText(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, vectors, 1)
}
