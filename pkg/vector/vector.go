// Package vector 提供文本/图片向量化与重排客户端。
// 未配置远端服务时使用确定性的本地降级实现，保证流水线可离线运行。
package vector

import "context"

// Client 向量化客户端。
type Client interface {
	// EmbedText 批量向量化文本，返回结果与输入一一对应。
	EmbedText(ctx context.Context, texts []string) ([][]float64, error)
	// EmbedImage 向量化单张图片。
	EmbedImage(ctx context.Context, data []byte) ([]float64, error)
	// Rerank 对候选文档按与查询的相关度打分，分值越大越相关。
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
	// Dim 返回向量维度。
	Dim() int
	// Name 返回客户端标识，用于向量调用日志。
	Name() string
}
