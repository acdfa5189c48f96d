// Package biz implements the hybrid retrieval engine: multi-signal
// scoring over vector-index candidates with optional query rewrite,
// cross-encoder rerank and semantic rerank blending.
package biz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/vector"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Filters 候选过滤条件，由候选源在取数时应用。
type Filters struct {
	TenantID   string   `json:"tenantId,omitempty"`
	LibraryID  string   `json:"libraryId,omitempty"`
	DocID      string   `json:"docId,omitempty"`
	HierPrefix []string `json:"hierPrefix,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// SearchRequest 检索请求。
type SearchRequest struct {
	Query            string  `json:"query" binding:"required"`
	Limit            int     `json:"limit,omitempty"`
	IncludeNeighbors bool    `json:"includeNeighbors,omitempty"`
	Filters          Filters `json:"filters,omitempty"`
}

// NeighborChunk 命中分块的同节邻接分块摘要。
type NeighborChunk struct {
	ChunkID      string `json:"chunkId"`
	SectionTitle string `json:"sectionTitle,omitempty"`
	Snippet      string `json:"snippet,omitempty"`
}

// SearchResultChunk 单条检索结果。
type SearchResultChunk struct {
	ChunkID      string          `json:"chunkId"`
	DocID        string          `json:"docId"`
	DocTitle     string          `json:"docTitle,omitempty"`
	Title        string          `json:"title,omitempty"`
	Content      string          `json:"content"`
	HierPath     []string        `json:"hierPath"`
	PageNo       int             `json:"pageNo,omitempty"`
	Score        float64         `json:"score"`
	Signals      Signals         `json:"signals"`
	TopicLabels  []string        `json:"topicLabels,omitempty"`
	Neighbors    []NeighborChunk `json:"neighbors,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SearchResponse 检索响应。
type SearchResponse struct {
	Query   string               `json:"query"`
	Total   int                  `json:"total"`
	Results []*SearchResultChunk `json:"results"`
}

// ChunkRecord 候选源返回的打分单元。
type ChunkRecord struct {
	Chunk         *model.Chunk
	DocTitle      string
	BM25Score     *float64
	NeighborCount int
	Neighbors     []*model.Chunk
}

// CandidateSource 候选取数接口。实现负责租户/知识库/文档/标签过滤。
type CandidateSource interface {
	SearchCandidates(ctx context.Context, req *SearchRequest, queryVector []float64) ([]*ChunkRecord, error)
}

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// Weights 混合打分权重。
	Weights ScoreWeights
	// SemanticBlend 语义重排混合权重 w，0 表示关闭。
	SemanticBlend float64
}

// Retriever 混合检索器。
type Retriever struct {
	source      CandidateSource
	embedder    llm.EmbeddingProvider
	reranker    vector.Client
	transformer *QueryTransformer
	semantic    *SemanticReranker
	cfg         RetrieverConfig
	now         func() time.Time
}

// NewRetriever 创建混合检索器。transformer 与 semantic 可为 nil。
func NewRetriever(
	source CandidateSource,
	embedder llm.EmbeddingProvider,
	reranker vector.Client,
	transformer *QueryTransformer,
	semantic *SemanticReranker,
	cfg RetrieverConfig,
) *Retriever {
	zero := ScoreWeights{}
	if cfg.Weights == zero {
		cfg.Weights = DefaultScoreWeights()
	}
	if reranker == nil {
		reranker = vector.NewFallbackClient(0)
	}
	return &Retriever{
		source:      source,
		embedder:    embedder,
		reranker:    reranker,
		transformer: transformer,
		semantic:    semantic,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Search 执行混合检索。零候选时直接返回空结果，不再调用向量化与重排。
func (r *Retriever) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if req == nil || req.Query == "" {
		return nil, fmt.Errorf("检索查询不能为空")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	// 1. 可选查询改写，失败保留原查询
	query := req.Query
	if r.transformer != nil {
		rewritten, err := r.transformer.Rewrite(ctx, query)
		if err != nil {
			logger.Warnw("查询改写失败，使用原始查询", "error", err.Error())
		} else {
			query = rewritten
		}
	}

	// 2. 查询向量化并归一化
	queryVec, err := r.embedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	// 3. 取候选
	candidates, err := r.source.SearchCandidates(ctx, req, queryVec)
	if err != nil {
		return nil, fmt.Errorf("候选检索失败: %w", err)
	}
	if len(candidates) == 0 {
		return &SearchResponse{Query: query, Total: 0, Results: []*SearchResultChunk{}}, nil
	}

	// 4. 候选向量化 + 信号计算
	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Chunk.ContentText
	}
	candVecs, err := r.embedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("候选向量化失败: %w", err)
	}

	now := r.now()
	bm25Norm := normalizeBM25(candidates)
	signals := make([]Signals, len(candidates))
	hybrid := make([]float64, len(candidates))
	for i, cand := range candidates {
		chunk := cand.Chunk
		sig := Signals{
			Similarity: textutil.CosineSimilarity(queryVec, candVecs[i]),
			Hierarchy:  hierarchySignal(chunk.HierPath, req.Filters.HierPrefix),
			Recency:    recencySignal(chunk.CreatedAt, now),
			Topic:      topicSignal(req.Filters.Topics, chunk.Topics, chunk.TopicLabels),
			Neighbor:   neighborSignal(cand.NeighborCount),
		}
		if score, ok := bm25Norm[i]; ok {
			sig.Keyword = score
		} else {
			sig.Keyword = termContainment(query, chunk.ContentText)
		}
		signals[i] = sig
		hybrid[i] = sig.Hybrid(r.cfg.Weights)
	}

	// 5. 交叉编码重排加成
	boost := make([]float64, len(candidates))
	if raw, err := r.reranker.Rerank(ctx, query, texts); err != nil {
		logger.Warnw("重排调用失败，跳过重排加成", "error", err.Error())
	} else if len(raw) == len(candidates) {
		boost = textutil.MinMaxNormalize(raw)
	}

	base := make([]float64, len(candidates))
	for i := range candidates {
		base[i] = 0.6*hybrid[i] + 0.4*boost[i]
	}

	// 6. 可选语义重排混合，失败退回 base
	final := base
	if r.semantic != nil && r.cfg.SemanticBlend > 0 {
		if scores, err := r.semantic.Score(ctx, query, texts); err != nil {
			logger.Warnw("语义重排失败，使用基础分", "error", err.Error())
		} else {
			w := r.cfg.SemanticBlend
			final = make([]float64, len(candidates))
			for i := range candidates {
				final[i] = (1-w)*base[i] + w*scores[i]
			}
		}
	}

	// 7. 排序、截断、组装
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if final[order[a]] != final[order[b]] {
			return final[order[a]] > final[order[b]]
		}
		return candidates[order[a]].Chunk.ChunkID < candidates[order[b]].Chunk.ChunkID
	})
	if len(order) > limit {
		order = order[:limit]
	}

	results := make([]*SearchResultChunk, 0, len(order))
	for _, i := range order {
		results = append(results, r.buildResult(candidates[i], signals[i], final[i], req.IncludeNeighbors))
	}
	return &SearchResponse{Query: query, Total: len(results), Results: results}, nil
}

func (r *Retriever) buildResult(cand *ChunkRecord, sig Signals, score float64, withNeighbors bool) *SearchResultChunk {
	chunk := cand.Chunk
	title := chunk.SemanticTitle
	if title == "" {
		title = chunk.SectionTitle
	}
	result := &SearchResultChunk{
		ChunkID:     chunk.ChunkID,
		DocID:       chunk.DocID,
		DocTitle:    cand.DocTitle,
		Title:       title,
		Content:     chunk.ContentText,
		HierPath:    chunk.HierPath,
		PageNo:      chunk.PageNo,
		Score:       score,
		Signals:     sig,
		TopicLabels: chunk.TopicLabels,
		CreatedAt:   chunk.CreatedAt,
	}
	if withNeighbors {
		for _, n := range cand.Neighbors {
			result.Neighbors = append(result.Neighbors, NeighborChunk{
				ChunkID:      n.ChunkID,
				SectionTitle: n.SectionTitle,
				Snippet:      textutil.TruncateString(textutil.CollapseWhitespace(n.ContentText), 120),
			})
		}
	}
	return result
}

// embedText 向量化单条文本并 L2 归一化。
func (r *Retriever) embedText(ctx context.Context, text string) ([]float64, error) {
	vec, err := r.embedder.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	return textutil.NormalizeVector(toFloat64(vec)), nil
}

func (r *Retriever) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	raw, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("向量化结果数量不匹配: 期望 %d 实际 %d", len(texts), len(raw))
	}
	out := make([][]float64, len(raw))
	for i, vec := range raw {
		out[i] = textutil.NormalizeVector(toFloat64(vec))
	}
	return out, nil
}

// normalizeBM25 对带预计算 BM25 分的候选做 min-max 归一化，
// 返回下标到归一化分的映射；没有 BM25 分的候选不在映射中。
func normalizeBM25(candidates []*ChunkRecord) map[int]float64 {
	var idx []int
	var raw []float64
	for i, cand := range candidates {
		if cand.BM25Score != nil {
			idx = append(idx, i)
			raw = append(raw, *cand.BM25Score)
		}
	}
	if len(idx) == 0 {
		return nil
	}
	norm := textutil.MinMaxNormalize(raw)
	out := make(map[int]float64, len(idx))
	for j, i := range idx {
		out[i] = norm[j]
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
