package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kart-io/knowbase/internal/pkg/kb/segment"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/llm/resilience"
)

const segmentSystemPrompt = `你是文档结构分析助手。把输入文本切分为语义完整的章节，` +
	`以 JSON 数组返回，每个元素形如 {"title":"...","path":["..."],"text":"..."}。` +
	`path 为从根到该章节的上级标题链，不含章节自身标题。只返回 JSON，不要附加说明。`

// chatSegmenter 基于 Chat 模型的语义切分实现（structure 角色）。
type chatSegmenter struct {
	provider llm.ChatProvider
	retry    *resilience.RetryConfig
}

// NewChatSegmenter 将 Chat 供应商包装为切分引擎可用的 Segmenter。
func NewChatSegmenter(provider llm.ChatProvider) segment.Segmenter {
	return &chatSegmenter{
		provider: provider,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// SplitSections implements segment.Segmenter.
func (s *chatSegmenter) SplitSections(ctx context.Context, blockText string) ([]segment.ModelSection, error) {
	var raw string
	err := resilience.RetryWithBackoff(ctx, s.retry, func() error {
		out, err := s.provider.Generate(ctx, blockText, segmentSystemPrompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("语义切分调用失败: %w", err)
	}

	var parsed []struct {
		Title string   `json:"title"`
		Path  []string `json:"path"`
		Text  string   `json:"text"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("语义切分结果解析失败: %w", err)
	}

	sections := make([]segment.ModelSection, 0, len(parsed))
	for _, p := range parsed {
		sections = append(sections, segment.ModelSection{
			Title: p.Title,
			Path:  p.Path,
			Text:  p.Text,
		})
	}
	return sections, nil
}

// stripCodeFence 剥掉模型偶尔包裹的 markdown 代码栅栏。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
