package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowbase/pkg/llm"
)

// stubChat 固定应答的对话模型桩。
type stubChat struct {
	response string
	err      error
	calls    int
}

func (s *stubChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubChat) Generate(_ context.Context, _ string, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubChat) Name() string { return "stub-chat" }

var _ llm.ChatProvider = (*stubChat)(nil)

func TestQueryTransformerRewrite(t *testing.T) {
	transformer := NewQueryTransformer(&stubChat{response: "milvus 集群部署步骤"})

	out, err := transformer.Rewrite(context.Background(), "那个怎么部署来着")
	require.NoError(t, err)
	assert.Equal(t, "milvus 集群部署步骤", out)
}

func TestQueryTransformerEmptyResultIsError(t *testing.T) {
	transformer := NewQueryTransformer(&stubChat{response: "   "})

	_, err := transformer.Rewrite(context.Background(), "query")
	assert.Error(t, err)
}

func TestSemanticRerankerScore(t *testing.T) {
	reranker := NewSemanticReranker(&stubChat{response: "```json\n{\"scores\": [0.2, 0.8, 0.5]}\n```"}, 0.3)

	scores, err := reranker.Score(context.Background(), "query", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	// min-max 归一化后最大为 1，最小为 0
	assert.InDelta(t, 0.0, scores[0], 1e-9)
	assert.InDelta(t, 1.0, scores[1], 1e-9)
	assert.InDelta(t, 0.5, scores[2], 1e-9)
}

func TestSemanticRerankerCountMismatch(t *testing.T) {
	reranker := NewSemanticReranker(&stubChat{response: `{"scores": [0.9]}`}, 0.3)

	_, err := reranker.Score(context.Background(), "query", []string{"a", "b"})
	assert.ErrorContains(t, err, "数量不匹配")
}

func TestSemanticRerankerBadJSON(t *testing.T) {
	reranker := NewSemanticReranker(&stubChat{response: "not json"}, 0.3)

	_, err := reranker.Score(context.Background(), "query", []string{"a"})
	assert.ErrorContains(t, err, "解析失败")
}

func TestSemanticRerankerProviderError(t *testing.T) {
	reranker := NewSemanticReranker(&stubChat{err: errors.New("boom")}, 0.3)

	_, err := reranker.Score(context.Background(), "query", []string{"a"})
	assert.ErrorContains(t, err, "调用失败")
}

func TestSemanticRerankerEmptyDocs(t *testing.T) {
	chat := &stubChat{response: `{"scores": []}`}
	reranker := NewSemanticReranker(chat, 0.3)

	scores, err := reranker.Score(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Zero(t, chat.calls)
}
