package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowbase/internal/model"
)

func TestEnrichHeuristicWithoutProvider(t *testing.T) {
	e := NewChunkEnricher()
	chunks := []*model.Chunk{
		{ChunkID: "c1", SectionTitle: "Billing", ContentText: "invoice amounts are settled monthly invoice"},
	}

	metas := e.Enrich(context.Background(), nil, chunks, 0)

	require.Len(t, metas, 1)
	require.NotNil(t, metas[0])
	assert.Equal(t, SourceHeuristic, metas[0].Source)
	assert.Equal(t, "Billing", metas[0].Title)
	assert.NotEmpty(t, metas[0].ContextSummary)
	// 词频最高的词排最前
	assert.Equal(t, "invoice", metas[0].Keywords[0])
}

func TestEnrichRemoteSuccess(t *testing.T) {
	e := NewChunkEnricher()
	chat := &stubChat{response: `{"title":"结算条款","contextSummary":"按月结算","keywords":["结算"],"confidence":0.9}`}
	chunks := []*model.Chunk{{ChunkID: "c1", ContentText: "settlement"}}

	metas := e.Enrich(context.Background(), chat, chunks, 0)

	require.Len(t, metas, 1)
	require.NotNil(t, metas[0])
	assert.Equal(t, SourceLLM, metas[0].Source)
	assert.Equal(t, "结算条款", metas[0].Title)
	assert.InDelta(t, 0.9, metas[0].Confidence, 0.001)
}

func TestEnrichRemoteFailureKeepsChunkUnenriched(t *testing.T) {
	e := NewChunkEnricher()
	// 模型持续失败：分块保持未富化，不落回启发式，也不中断整批
	chat := &stubChat{err: errors.New("model down")}
	chunks := []*model.Chunk{
		{ChunkID: "c1", SectionTitle: "Scope", ContentText: "scope of work"},
		{ChunkID: "c2", SectionTitle: "Terms", ContentText: "payment terms"},
	}

	metas := e.Enrich(context.Background(), chat, chunks, 0)

	require.Len(t, metas, 2)
	for _, m := range metas {
		assert.Nil(t, m)
	}
}

func TestEnrichBadJSONKeepsChunkUnenriched(t *testing.T) {
	e := NewChunkEnricher()
	chat := &stubChat{response: "not json at all"}
	chunks := []*model.Chunk{{ChunkID: "c1", ContentText: "text"}}

	metas := e.Enrich(context.Background(), chat, chunks, 0)

	require.Len(t, metas, 1)
	assert.Nil(t, metas[0])
}

func TestEnrichSkipsEmptyChunks(t *testing.T) {
	e := NewChunkEnricher()
	chunks := []*model.Chunk{
		{ChunkID: "c1", ContentText: "   \n\t"},
		{ChunkID: "c2", ContentText: ""},
		{ChunkID: "c3", SectionTitle: "Terms", ContentText: "payment terms"},
	}

	metas := e.Enrich(context.Background(), nil, chunks, 0)

	require.Len(t, metas, 3)
	assert.Nil(t, metas[0])
	assert.Nil(t, metas[1])
	require.NotNil(t, metas[2])
	assert.Equal(t, SourceHeuristic, metas[2].Source)
}

func TestEnrichHonorsLimit(t *testing.T) {
	e := NewChunkEnricher()
	chunks := make([]*model.Chunk, 5)
	for i := range chunks {
		chunks[i] = &model.Chunk{
			ChunkID:     fmt.Sprintf("c%d", i),
			ContentText: "some content",
		}
	}

	metas := e.Enrich(context.Background(), nil, chunks, 2)

	require.Len(t, metas, 5)
	enriched := 0
	for _, m := range metas {
		if m != nil {
			enriched++
		}
	}
	assert.Equal(t, 2, enriched)
	// 上限按输入顺序生效
	assert.NotNil(t, metas[0])
	assert.NotNil(t, metas[1])
	assert.Nil(t, metas[2])
}

func TestEnrichLimitSkipsEmptyChunksFirst(t *testing.T) {
	e := NewChunkEnricher()
	// 空分块不占用富化名额
	chunks := []*model.Chunk{
		{ChunkID: "c1", ContentText: ""},
		{ChunkID: "c2", ContentText: "real content"},
		{ChunkID: "c3", ContentText: "more content"},
	}

	metas := e.Enrich(context.Background(), nil, chunks, 2)

	require.Len(t, metas, 3)
	assert.Nil(t, metas[0])
	assert.NotNil(t, metas[1])
	assert.NotNil(t, metas[2])
}

func TestApplyDoesNotClobberWithEmpty(t *testing.T) {
	e := NewChunkEnricher()
	chunk := &model.Chunk{
		SemanticTitle: "existing",
		Keywords:      model.StringSlice{"old"},
	}

	e.Apply(chunk, &model.SemanticMetadata{ContextSummary: "new summary"})

	assert.Equal(t, "existing", chunk.SemanticTitle)
	assert.Equal(t, model.StringSlice{"old"}, chunk.Keywords)
	assert.Equal(t, "new summary", chunk.ContextSummary)
}

func TestApplyNilMeta(t *testing.T) {
	e := NewChunkEnricher()
	chunk := &model.Chunk{SemanticTitle: "keep"}

	e.Apply(chunk, nil)

	assert.Equal(t, "keep", chunk.SemanticTitle)
}
