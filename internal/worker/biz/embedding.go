package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/vector"
)

// embedBatchSize 单次向量化调用携带的分块数上限。
const embedBatchSize = 32

// EmbedResult 向量化阶段产物。失败时 Embeddings 为空，
// Logs 为全部分块补记的失败日志。
type EmbedResult struct {
	Embeddings []*model.Embedding
	Logs       []*model.VectorLogEntry
}

// Embedder 分块向量化。文本分块走 Embedding 供应商，
// 图片片段走向量客户端的 image 模态。
type Embedder struct {
	provider llm.EmbeddingProvider
	images   vector.Client
	setting  *model.ModelSetting
}

// NewEmbedder 创建向量化器。setting 提供审计日志所需的模型信息；
// images 为 nil 时图片片段使用确定性降级客户端。
func NewEmbedder(provider llm.EmbeddingProvider, images vector.Client, setting *model.ModelSetting) *Embedder {
	if images == nil {
		images = vector.NewFallbackClient(0)
	}
	return &Embedder{provider: provider, images: images, setting: setting}
}

// EmbedChunks 向量化文档的全部分块：文本分块批量调用，图片片段逐张调用。
// 任一调用失败或返回数量不一致均视为整文档失败：已产出的向量全部丢弃，
// 每个分块补记一条失败日志，保证运维侧能看到哪些向量从未落库。
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []*model.Chunk, images []*ImageFragment) (*EmbedResult, error) {
	res := &EmbedResult{}

	var textChunks []*model.Chunk
	for _, c := range chunks {
		if c.ContentType != model.ContentTypeImage {
			textChunks = append(textChunks, c)
		}
	}

	for start := 0; start < len(textChunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(textChunks) {
			end = len(textChunks)
		}
		batch := textChunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.ContentText
		}

		began := time.Now()
		vectors, err := e.provider.Embed(ctx, texts)
		elapsed := time.Since(began)

		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("向量化结果数量不匹配: 期望 %d 实际 %d", len(batch), len(vectors))
		}
		if err != nil {
			return e.failAll(chunks, elapsed, err), fmt.Errorf("向量化批次失败: %w", err)
		}

		for i, c := range batch {
			vec := make([]float64, len(vectors[i]))
			for j, v := range vectors[i] {
				vec[j] = float64(v)
			}
			e.appendSuccess(res, c, model.ModalityText, textutil.NormalizeVector(vec), elapsed)
		}
	}

	for _, frag := range images {
		began := time.Now()
		vec, err := e.images.EmbedImage(ctx, frag.Data)
		elapsed := time.Since(began)
		if err != nil {
			return e.failAll(chunks, elapsed, err), fmt.Errorf("图片向量化失败: %w", err)
		}
		e.appendSuccess(res, frag.Chunk, model.ModalityImage, textutil.NormalizeVector(vec), elapsed)
	}

	return res, nil
}

// failAll 整文档失败记账：丢弃已产出的向量与成功日志，
// 为文档的每个分块补记失败日志。
func (e *Embedder) failAll(chunks []*model.Chunk, elapsed time.Duration, cause error) *EmbedResult {
	out := &EmbedResult{}
	for _, c := range chunks {
		out.Logs = append(out.Logs, e.newLog(c, "failed", elapsed, 0, cause))
	}
	return out
}

func (e *Embedder) appendSuccess(res *EmbedResult, chunk *model.Chunk, modality model.Modality, vec []float64, elapsed time.Duration) {
	res.Embeddings = append(res.Embeddings, &model.Embedding{
		EmbID:     ulid.Make().String(),
		ChunkID:   chunk.ChunkID,
		DocID:     chunk.DocID,
		Modality:  modality,
		ModelName: e.modelName(),
		Vector:    model.Float64Slice(vec),
		Dim:       len(vec),
	})
	res.Logs = append(res.Logs, e.newLog(chunk, "success", elapsed, len(vec), nil))
}

func (e *Embedder) newLog(chunk *model.Chunk, status string, elapsed time.Duration, dim int, cause error) *model.VectorLogEntry {
	entry := &model.VectorLogEntry{
		LogID:      ulid.Make().String(),
		DocID:      chunk.DocID,
		ChunkID:    chunk.ChunkID,
		ModelRole:  model.RoleEmbedding,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
		VectorDim:  dim,
	}
	if e.setting != nil {
		entry.Provider = e.setting.Provider
		entry.ModelName = e.setting.ModelName
	}
	if e.provider != nil {
		entry.Driver = e.provider.Name()
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	return entry
}

func (e *Embedder) modelName() string {
	if e.setting != nil && e.setting.ModelName != "" {
		return e.setting.ModelName
	}
	return e.provider.Name()
}
