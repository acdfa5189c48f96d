package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/pkg/llm"
)

const (
	// maxChunkKeywords 启发式关键词上限。
	maxChunkKeywords = 8
	// summaryMaxLen 上下文摘要最大字符数。
	summaryMaxLen = 200
)

const metadataSystemPrompt = `你是分块元数据抽取助手。为输入分块抽取语义元数据，返回 JSON 对象：` +
	`{"title":"...","contextSummary":"...","semanticTags":[],"topics":[],"keywords":[],` +
	`"envLabels":[],"bizEntities":[],"confidence":0.0}。只返回 JSON。`

// MetadataSource 元数据来源标记。
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// ChunkEnricher 分块级语义元数据富化。
// 远端模型逐块调用，单块失败保留未富化分块而不中断文档。
type ChunkEnricher struct{}

// NewChunkEnricher 创建富化器。
func NewChunkEnricher() *ChunkEnricher {
	return &ChunkEnricher{}
}

// Enrich 为一批分块生成元数据，返回值与输入分块一一对应，
// nil 表示该分块保持未富化。provider 为 nil 时走 local 启发式路径。
// 空文本分块跳过；超过 limit（0 表示不限）的分块跳过并只告警一次。
func (e *ChunkEnricher) Enrich(ctx context.Context, provider llm.ChatProvider, chunks []*model.Chunk, limit int) []*model.SemanticMetadata {
	out := make([]*model.SemanticMetadata, len(chunks))
	if limit <= 0 || limit > len(chunks) {
		limit = len(chunks)
	}

	limitWarned := false
	enriched := 0
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.ContentText) == "" {
			continue
		}
		if enriched >= limit {
			if !limitWarned {
				logger.Warnw("chunk metadata limit reached, remaining chunks skipped",
					"doc_id", chunk.DocID, "limit", limit)
				limitWarned = true
			}
			continue
		}
		enriched++

		if provider == nil {
			out[i] = e.heuristic(chunk)
			continue
		}

		meta, err := e.remote(ctx, provider, chunk)
		if err != nil {
			// 单块失败不影响后续分块，该块保持未富化
			logger.Warnw("chunk metadata extraction failed, chunk kept unenriched",
				"chunk_id", chunk.ChunkID, "error", err.Error())
			continue
		}
		out[i] = meta
	}
	return out
}

// Apply 将元数据合并进分块，已有字段不被空值覆盖。
func (e *ChunkEnricher) Apply(chunk *model.Chunk, meta *model.SemanticMetadata) {
	if meta == nil {
		return
	}
	if meta.Title != "" {
		chunk.SemanticTitle = meta.Title
	}
	if meta.ContextSummary != "" {
		chunk.ContextSummary = meta.ContextSummary
	}
	if len(meta.SemanticTags) > 0 {
		chunk.SemanticTags = model.StringSlice(meta.SemanticTags)
	}
	if len(meta.Topics) > 0 {
		chunk.Topics = model.StringSlice(meta.Topics)
	}
	if len(meta.Keywords) > 0 {
		chunk.Keywords = model.StringSlice(meta.Keywords)
	}
	if len(meta.EnvLabels) > 0 {
		chunk.EnvLabels = model.StringSlice(meta.EnvLabels)
	}
	if len(meta.BizEntities) > 0 {
		chunk.BizEntities = model.StringSlice(meta.BizEntities)
	}
	if len(meta.Entities) > 0 {
		chunk.NerEntities = model.EntityList(meta.Entities)
	}
}

func (e *ChunkEnricher) remote(ctx context.Context, provider llm.ChatProvider, chunk *model.Chunk) (*model.SemanticMetadata, error) {
	prompt := fmt.Sprintf("章节: %s\n\n内容:\n%s",
		chunk.SectionTitle, textutil.TruncateString(chunk.ContentText, 2000))

	raw, err := provider.Generate(ctx, prompt, metadataSystemPrompt)
	if err != nil {
		return nil, err
	}

	var meta model.SemanticMetadata
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &meta); err != nil {
		return nil, fmt.Errorf("元数据解析失败: %w", err)
	}
	meta.Source = SourceLLM
	return &meta, nil
}

// heuristic 进程内元数据抽取：标题取章节名或首行，关键词按词频排序。
func (e *ChunkEnricher) heuristic(chunk *model.Chunk) *model.SemanticMetadata {
	title := chunk.SectionTitle
	if title == "" {
		if line, _, _ := strings.Cut(chunk.ContentText, "\n"); line != "" {
			title = textutil.TruncateString(strings.TrimSpace(line), 64)
		}
	}

	freq := make(map[string]int)
	for _, tok := range textutil.Tokenize(chunk.ContentText) {
		freq[tok]++
	}
	keywords := make([]string, 0, len(freq))
	for k := range freq {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > maxChunkKeywords {
		keywords = keywords[:maxChunkKeywords]
	}

	summary := textutil.TruncateString(textutil.CollapseWhitespace(chunk.ContentText), summaryMaxLen)

	return &model.SemanticMetadata{
		Title:          title,
		ContextSummary: summary,
		Keywords:       keywords,
		Confidence:     0.3,
		Source:         SourceHeuristic,
	}
}
