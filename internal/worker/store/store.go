// Package store 提供摄取 worker 的存储访问层：
// 关系库（文档/分块/向量日志）、向量索引、任务队列与对象存储。
package store

import (
	"context"

	"github.com/kart-io/knowbase/internal/model"
)

// DocumentStore 文档元信息读写。
type DocumentStore interface {
	// Get 按 docID 取文档，不存在时返回错误。
	Get(ctx context.Context, docID string) (*model.Document, error)
	// Create 新建文档记录。
	Create(ctx context.Context, doc *model.Document) error
	// UpdateStatus 更新摄取状态与错误信息。statusMeta 以合并方式写入阶段时间线。
	UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMessage string, statusMeta model.JSONMap) error
	// UpdateTags 覆盖文档级标签。
	UpdateTags(ctx context.Context, docID string, tags []string) error
}

// BundleStore 知识产物的事务性持久化。
type BundleStore interface {
	// PersistBundle 以删除后重写的方式持久化一个文档的全部产物，幂等。
	// 文本字段在写入前净化；引用未知分块的向量日志被丢弃并告警。
	PersistBundle(ctx context.Context, bundle *model.KnowledgeBundle) error
}

// ChunkStore 分块读写。
type ChunkStore interface {
	// ListByDoc 返回文档的全部分块，按主键排序。
	ListByDoc(ctx context.Context, docID string) ([]*model.Chunk, error)
	// Get 按 chunkID 取分块。
	Get(ctx context.Context, chunkID string) (*model.Chunk, error)
	// UpdateTopicLabels 覆盖分块的主题标签。
	UpdateTopicLabels(ctx context.Context, chunkID string, labels []string) error
	// UpdateMetadata 合并写入分块的语义元数据字段。
	UpdateMetadata(ctx context.Context, chunkID string, meta *model.SemanticMetadata) error
}

// VectorLogStore 向量调用日志查询。
type VectorLogStore interface {
	// ListByDoc 返回文档的全部向量调用日志，按写入顺序。
	ListByDoc(ctx context.Context, docID string) ([]*model.VectorLogEntry, error)
}

// EmbeddingStore 向量记录查询。
type EmbeddingStore interface {
	// ListByDoc 返回文档的全部向量记录。
	ListByDoc(ctx context.Context, docID string) ([]*model.Embedding, error)
}

// Factory 关系库存储工厂。
type Factory interface {
	Documents() DocumentStore
	Bundles() BundleStore
	Chunks() ChunkStore
	VectorLogs() VectorLogStore
	Embeddings() EmbeddingStore
}

// TaskHandler 队列消息处理函数。返回错误时由队列语义决定是否重投。
type TaskHandler func(ctx context.Context, task *model.IngestionTask) error

// Queue 摄取任务队列。
type Queue interface {
	// Enqueue 投递任务。
	Enqueue(ctx context.Context, task *model.IngestionTask) error
	// Consume 阻塞消费任务直到 ctx 取消。
	Consume(ctx context.Context, handler TaskHandler) error
	// Close 释放队列资源。
	Close() error
}

// ObjectStore 原始文件与附件的二进制存储。
type ObjectStore interface {
	// Put 写入对象。
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get 读取对象。
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists 判断对象是否存在。
	Exists(ctx context.Context, key string) (bool, error)
	// PutPreview 写入预览对象（图片与表格附件）。
	PutPreview(ctx context.Context, key string, data []byte, contentType string) error
	// DeletePreviewPrefix 删除前缀下的全部预览对象，前缀不存在时幂等返回。
	DeletePreviewPrefix(ctx context.Context, prefix string) error
}

// VectorMatch 向量索引检索命中。
type VectorMatch struct {
	ChunkID string
	Score   float64
}

// VectorIndex 分块向量索引。
type VectorIndex interface {
	// EnsureCollection 建表（已存在时幂等返回）。
	EnsureCollection(ctx context.Context, dim int) error
	// UpsertChunks 写入分块向量，租户与知识库取自所属文档。
	// 先删后写由调用方通过 DeleteByDoc 保证。
	UpsertChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk, embeddings []*model.Embedding) error
	// DeleteByDoc 删除文档的全部向量。
	DeleteByDoc(ctx context.Context, docID string) error
	// Search 相似度检索，按租户与知识库过滤。
	Search(ctx context.Context, vector []float64, topK int, tenantID, libraryID string) ([]VectorMatch, error)
}
