package vector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kart-io/logger"
)

// RemoteConfig 远端向量服务配置。
type RemoteConfig struct {
	// TextEndpoint 文本向量化接口地址。
	TextEndpoint string `json:"text_endpoint" mapstructure:"text_endpoint"`
	// ImageEndpoint 图片向量化接口地址，为空时复用 TextEndpoint。
	ImageEndpoint string `json:"image_endpoint" mapstructure:"image_endpoint"`
	// RerankEndpoint 重排接口地址，为空时重排不可用。
	RerankEndpoint string `json:"rerank_endpoint" mapstructure:"rerank_endpoint"`
	// APIKey Bearer 凭证，为空时不携带。
	APIKey string `json:"-" mapstructure:"api_key"`
	// Model 传给服务端的模型名。
	Model string `json:"model" mapstructure:"model"`
	// Dim 期望的向量维度。
	Dim int `json:"dim" mapstructure:"dim"`
	// Timeout 单次请求超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// MaxRetries 失败重试次数。
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
}

// Validate 校验配置。
func (c *RemoteConfig) Validate() error {
	if c.TextEndpoint == "" {
		return fmt.Errorf("向量服务 text_endpoint 不能为空")
	}
	if c.Dim <= 0 {
		return fmt.Errorf("向量维度必须大于 0, 当前为 %d", c.Dim)
	}
	return nil
}

// RemoteClient 基于 HTTP 的远端向量服务客户端。
type RemoteClient struct {
	config     *RemoteConfig
	httpClient *http.Client
}

// NewRemoteClient 创建远端客户端。
func NewRemoteClient(config *RemoteConfig) (*RemoteClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &RemoteClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Dim implements Client.
func (c *RemoteClient) Dim() int { return c.config.Dim }

// Name implements Client.
func (c *RemoteClient) Name() string { return "remote" }

// embedResponse 兼容常见的三种返回形态：
// {"vector": [...]}、{"embedding": [...]}、{"data": [{"embedding": [...]}]}。
type embedResponse struct {
	Vector    []float64 `json:"vector"`
	Embedding []float64 `json:"embedding"`
	Data      []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Vectors [][]float64 `json:"vectors"`
}

// vectors 归一化出批量向量结果。
func (r *embedResponse) vectors() [][]float64 {
	switch {
	case len(r.Vectors) > 0:
		return r.Vectors
	case len(r.Data) > 0:
		out := make([][]float64, 0, len(r.Data))
		for _, d := range r.Data {
			out = append(out, d.Embedding)
		}
		return out
	case len(r.Vector) > 0:
		return [][]float64{r.Vector}
	case len(r.Embedding) > 0:
		return [][]float64{r.Embedding}
	}
	return nil
}

// EmbedText implements Client.
func (c *RemoteClient) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"model": c.config.Model,
		"input": texts,
	}
	var resp embedResponse
	if err := c.doRequestWithRetry(ctx, c.config.TextEndpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("文本向量化请求失败: %w", err)
	}
	vectors := resp.vectors()
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("向量服务返回数量不匹配: 期望 %d 实际 %d", len(texts), len(vectors))
	}
	return vectors, nil
}

// EmbedImage implements Client.
func (c *RemoteClient) EmbedImage(ctx context.Context, data []byte) ([]float64, error) {
	endpoint := c.config.ImageEndpoint
	if endpoint == "" {
		endpoint = c.config.TextEndpoint
	}
	body := map[string]interface{}{
		"model": c.config.Model,
		"image": base64.StdEncoding.EncodeToString(data),
	}
	var resp embedResponse
	if err := c.doRequestWithRetry(ctx, endpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("图片向量化请求失败: %w", err)
	}
	vectors := resp.vectors()
	if len(vectors) == 0 {
		return nil, fmt.Errorf("向量服务未返回图片向量")
	}
	return vectors[0], nil
}

// rerankResponse 重排返回。
type rerankResponse struct {
	Scores  []float64 `json:"scores"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements Client.
func (c *RemoteClient) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if c.config.RerankEndpoint == "" {
		return nil, fmt.Errorf("重排服务未配置")
	}
	if len(docs) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"model":     c.config.Model,
		"query":     query,
		"documents": docs,
	}
	var resp rerankResponse
	if err := c.doRequestWithRetry(ctx, c.config.RerankEndpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("重排请求失败: %w", err)
	}

	if len(resp.Scores) == len(docs) {
		return resp.Scores, nil
	}
	scores := make([]float64, len(docs))
	for _, r := range resp.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

// doRequestWithRetry 带重试的请求。
func (c *RemoteClient) doRequestWithRetry(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	var lastErr error
	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 500 * time.Millisecond):
			}
			logger.Debugw("retrying vector request", "endpoint", endpoint, "attempt", i+1)
		}
		if err := c.doRequest(ctx, endpoint, body, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (c *RemoteClient) doRequest(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求向量服务失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("向量服务返回错误状态 %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

var _ Client = (*RemoteClient)(nil)
