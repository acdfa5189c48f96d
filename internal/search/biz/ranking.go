package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/pkg/llm"
)

const rewriteSystemPrompt = `你是检索查询改写助手。把用户的问题改写成一条更适合知识库检索的查询：
补全指代、去掉口语词、保留全部关键实体。只输出改写后的查询本身，不要任何解释。`

const semanticRerankSystemPrompt = `你是检索结果相关性评审。给定一个查询和若干候选文本片段，
为每个片段输出一个 0 到 1 的相关度分数。只输出 JSON 对象，格式：{"scores": [0.8, 0.1, ...]}，
分数顺序与片段顺序一致，数量必须相同。`

// QueryTransformer 查询改写器。改写失败不阻断检索，调用方保留原查询。
type QueryTransformer struct {
	provider llm.ChatProvider
}

// NewQueryTransformer 创建查询改写器。
func NewQueryTransformer(provider llm.ChatProvider) *QueryTransformer {
	return &QueryTransformer{provider: provider}
}

// Rewrite 改写查询。返回空串视为失败。
func (t *QueryTransformer) Rewrite(ctx context.Context, query string) (string, error) {
	out, err := t.provider.Generate(ctx, query, rewriteSystemPrompt)
	if err != nil {
		return "", fmt.Errorf("查询改写调用失败: %w", err)
	}
	rewritten := strings.TrimSpace(stripCodeFence(out))
	if rewritten == "" {
		return "", fmt.Errorf("查询改写返回空结果")
	}
	return rewritten, nil
}

// SemanticReranker 语义重排器，输出与候选一一对应的归一化分数。
type SemanticReranker struct {
	provider llm.ChatProvider
	weight   float64
}

// NewSemanticReranker 创建语义重排器。weight 为混合权重，(0,1]。
func NewSemanticReranker(provider llm.ChatProvider, weight float64) *SemanticReranker {
	return &SemanticReranker{provider: provider, weight: weight}
}

// Weight 返回混合权重。
func (r *SemanticReranker) Weight() float64 { return r.weight }

// Score 为候选片段打相关度分，返回归一化到 [0,1] 的分数。
func (r *SemanticReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "查询：%s\n\n候选片段：\n", query)
	for i, doc := range docs {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, textutil.TruncateString(textutil.CollapseWhitespace(doc), 400))
	}

	out, err := r.provider.Generate(ctx, sb.String(), semanticRerankSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("语义重排调用失败: %w", err)
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &parsed); err != nil {
		return nil, fmt.Errorf("语义重排结果解析失败: %w", err)
	}
	if len(parsed.Scores) != len(docs) {
		return nil, fmt.Errorf("语义重排分数数量不匹配: 期望 %d 实际 %d", len(docs), len(parsed.Scores))
	}
	return textutil.MinMaxNormalize(parsed.Scores), nil
}

// stripCodeFence 去掉模型输出外层的 Markdown 代码围栏。
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
