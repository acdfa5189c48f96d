package vector

import (
	"context"
	"hash/crc32"
)

// fallbackDim 降级向量的默认维度。
const fallbackDim = 8

// FallbackClient 无网络依赖的确定性降级实现。
// 同一输入总是产出同一向量，保证离线环境下检索结果可复现；
// 向量本身没有语义，仅用于联调与降级运行。
type FallbackClient struct {
	dim int
}

// NewFallbackClient 创建降级客户端，dim 不正时取默认 8。
func NewFallbackClient(dim int) *FallbackClient {
	if dim <= 0 {
		dim = fallbackDim
	}
	return &FallbackClient{dim: dim}
}

// Dim implements Client.
func (c *FallbackClient) Dim() int { return c.dim }

// Name implements Client.
func (c *FallbackClient) Name() string { return "fallback" }

// EmbedText implements Client.
func (c *FallbackClient) EmbedText(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		out = append(out, c.hashVector([]byte(text)))
	}
	return out, nil
}

// EmbedImage implements Client.
// 图片向量以校验和为种子，保证同一图片字节得到同一向量。
func (c *FallbackClient) EmbedImage(_ context.Context, data []byte) ([]float64, error) {
	seed := crc32.ChecksumIEEE(data)
	vec := make([]float64, c.dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float64(seed%1000) / 1000
	}
	return vec, nil
}

// Rerank implements Client. 以文档长度为近似相关度。
func (c *FallbackClient) Rerank(_ context.Context, _ string, docs []string) ([]float64, error) {
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		scores[i] = float64(len(doc)) * 0.01
	}
	return scores, nil
}

// hashVector 逐字节累加的散列向量。
func (c *FallbackClient) hashVector(data []byte) []float64 {
	vec := make([]float64, c.dim)
	for i, b := range data {
		vec[i%c.dim] += float64(b) / 255
	}
	return vec
}

var _ Client = (*FallbackClient)(nil)
