package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
)

// datastore 基于 gorm 的存储工厂实现。
type datastore struct {
	db *gorm.DB
}

// NewFactory 创建关系库存储工厂。
func NewFactory(db *gorm.DB) Factory {
	return &datastore{db: db}
}

func (ds *datastore) Documents() DocumentStore   { return newDocuments(ds.db) }
func (ds *datastore) Bundles() BundleStore       { return newBundles(ds.db) }
func (ds *datastore) Chunks() ChunkStore         { return newChunks(ds.db) }
func (ds *datastore) VectorLogs() VectorLogStore { return newVectorLogs(ds.db) }
func (ds *datastore) Embeddings() EmbeddingStore { return newEmbeddings(ds.db) }

// AutoMigrate 建表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.DocumentSection{},
		&model.Embedding{},
		&model.Attachment{},
		&model.VectorLogEntry{},
		&model.ModelSetting{},
	)
}

type documents struct {
	db *gorm.DB
}

func newDocuments(db *gorm.DB) *documents { return &documents{db: db} }

// Get implements DocumentStore.
func (s *documents) Get(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	if err := s.db.WithContext(ctx).Where("doc_id = ?", docID).First(&doc).Error; err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// Create implements DocumentStore.
func (s *documents) Create(ctx context.Context, doc *model.Document) error {
	return s.db.WithContext(ctx).Create(doc).Error
}

// UpdateStatus implements DocumentStore.
func (s *documents) UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMessage string, statusMeta model.JSONMap) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Where("doc_id = ?", docID).First(&doc).Error; err != nil {
			return err
		}

		merged := doc.StatusMeta
		if merged == nil {
			merged = model.JSONMap{}
		}
		for k, v := range statusMeta {
			merged[k] = v
		}

		updates := map[string]interface{}{
			"ingest_status": status,
			"error_message": errMessage,
			"status_meta":   merged,
			"updated_at":    time.Now(),
		}
		return tx.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(updates).Error
	})
}

// UpdateTags implements DocumentStore.
func (s *documents) UpdateTags(ctx context.Context, docID string, tags []string) error {
	return s.db.WithContext(ctx).Model(&model.Document{}).
		Where("doc_id = ?", docID).
		Update("tags", model.StringSlice(tags)).Error
}

type bundles struct {
	db *gorm.DB
}

func newBundles(db *gorm.DB) *bundles { return &bundles{db: db} }

// PersistBundle implements BundleStore.
// 同一文档重复持久化时先删除旧产物再写入新产物，保证重建索引幂等。
func (s *bundles) PersistBundle(ctx context.Context, bundle *model.KnowledgeBundle) error {
	if bundle == nil || bundle.Document == nil {
		return fmt.Errorf("知识产物缺少文档")
	}
	docID := bundle.Document.DocID

	sanitizeBundle(bundle)
	logs := dropOrphanVectorLogs(docID, bundle)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&model.Chunk{}, &model.DocumentSection{}, &model.Embedding{},
			&model.Attachment{}, &model.VectorLogEntry{},
		} {
			if err := tx.Where("doc_id = ?", docID).Delete(m).Error; err != nil {
				return fmt.Errorf("清理旧产物失败: %w", err)
			}
		}

		if len(bundle.Sections) > 0 {
			if err := tx.Create(bundle.Sections).Error; err != nil {
				return fmt.Errorf("写入章节失败: %w", err)
			}
		}
		if len(bundle.Chunks) > 0 {
			if err := tx.Create(bundle.Chunks).Error; err != nil {
				return fmt.Errorf("写入分块失败: %w", err)
			}
		}
		if len(bundle.Embeddings) > 0 {
			if err := tx.Create(bundle.Embeddings).Error; err != nil {
				return fmt.Errorf("写入向量记录失败: %w", err)
			}
		}
		if len(bundle.Attachments) > 0 {
			if err := tx.Create(bundle.Attachments).Error; err != nil {
				return fmt.Errorf("写入附件失败: %w", err)
			}
		}
		if len(logs) > 0 {
			if err := tx.Create(logs).Error; err != nil {
				return fmt.Errorf("写入向量日志失败: %w", err)
			}
		}

		updates := map[string]interface{}{
			"title":      bundle.Document.Title,
			"tags":       bundle.Document.Tags,
			"updated_at": time.Now(),
		}
		return tx.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(updates).Error
	})
}

// sanitizeBundle 在持久化前净化所有文本字段，
// 标签数组与层级路径同样来自解析或模型产出，一并净化。
func sanitizeBundle(bundle *model.KnowledgeBundle) {
	bundle.Document.Title = textutil.Sanitize(bundle.Document.Title)
	bundle.Document.Tags = sanitizeSlice(bundle.Document.Tags)
	for _, c := range bundle.Chunks {
		c.ContentText = textutil.Sanitize(c.ContentText)
		c.SectionTitle = textutil.Sanitize(c.SectionTitle)
		c.SemanticTitle = textutil.Sanitize(c.SemanticTitle)
		c.ContextSummary = textutil.Sanitize(c.ContextSummary)
		c.HierPath = sanitizeSlice(c.HierPath)
		c.ParentSectionPath = sanitizeSlice(c.ParentSectionPath)
		c.TopicLabels = sanitizeSlice(c.TopicLabels)
		c.Topics = sanitizeSlice(c.Topics)
		c.SemanticTags = sanitizeSlice(c.SemanticTags)
		c.Keywords = sanitizeSlice(c.Keywords)
		c.EnvLabels = sanitizeSlice(c.EnvLabels)
		c.BizEntities = sanitizeSlice(c.BizEntities)
	}
	for _, sec := range bundle.Sections {
		sec.Title = textutil.Sanitize(sec.Title)
		sec.Summary = textutil.Sanitize(sec.Summary)
		sec.Path = sanitizeSlice(sec.Path)
		sec.Tags = sanitizeSlice(sec.Tags)
		sec.Keywords = sanitizeSlice(sec.Keywords)
	}
}

func sanitizeSlice(in model.StringSlice) model.StringSlice {
	for i, s := range in {
		in[i] = textutil.Sanitize(s)
	}
	return in
}

// dropOrphanVectorLogs 过滤引用未知分块的向量日志。
func dropOrphanVectorLogs(docID string, bundle *model.KnowledgeBundle) []*model.VectorLogEntry {
	known := make(map[string]bool, len(bundle.Chunks))
	for _, c := range bundle.Chunks {
		known[c.ChunkID] = true
	}

	kept := make([]*model.VectorLogEntry, 0, len(bundle.VectorLogs))
	for _, entry := range bundle.VectorLogs {
		if entry.ChunkID != "" && !known[entry.ChunkID] {
			logger.Warnw("dropping vector log referencing unknown chunk",
				"doc_id", docID, "chunk_id", entry.ChunkID, "log_id", entry.LogID)
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

type chunks struct {
	db *gorm.DB
}

func newChunks(db *gorm.DB) *chunks { return &chunks{db: db} }

// ListByDoc implements ChunkStore.
func (s *chunks) ListByDoc(ctx context.Context, docID string) ([]*model.Chunk, error) {
	var out []*model.Chunk
	err := s.db.WithContext(ctx).Where("doc_id = ?", docID).Order("chunk_id").Find(&out).Error
	return out, err
}

// Get implements ChunkStore.
func (s *chunks) Get(ctx context.Context, chunkID string) (*model.Chunk, error) {
	var chunk model.Chunk
	if err := s.db.WithContext(ctx).Where("chunk_id = ?", chunkID).First(&chunk).Error; err != nil {
		return nil, fmt.Errorf("查询分块失败: %w", err)
	}
	return &chunk, nil
}

// UpdateTopicLabels implements ChunkStore.
func (s *chunks) UpdateTopicLabels(ctx context.Context, chunkID string, labels []string) error {
	return s.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("chunk_id = ?", chunkID).
		Update("topic_labels", model.StringSlice(labels)).Error
}

// UpdateMetadata implements ChunkStore.
func (s *chunks) UpdateMetadata(ctx context.Context, chunkID string, meta *model.SemanticMetadata) error {
	updates := map[string]interface{}{}
	if meta.Title != "" {
		updates["semantic_title"] = textutil.Sanitize(meta.Title)
	}
	if meta.ContextSummary != "" {
		updates["context_summary"] = textutil.Sanitize(meta.ContextSummary)
	}
	if len(meta.SemanticTags) > 0 {
		updates["semantic_tags"] = model.StringSlice(meta.SemanticTags)
	}
	if len(meta.Topics) > 0 {
		updates["topics"] = model.StringSlice(meta.Topics)
	}
	if len(meta.Keywords) > 0 {
		updates["keywords"] = model.StringSlice(meta.Keywords)
	}
	if len(meta.EnvLabels) > 0 {
		updates["env_labels"] = model.StringSlice(meta.EnvLabels)
	}
	if len(meta.BizEntities) > 0 {
		updates["biz_entities"] = model.StringSlice(meta.BizEntities)
	}
	if len(meta.Entities) > 0 {
		updates["ner_entities"] = model.EntityList(meta.Entities)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("chunk_id = ?", chunkID).
		Updates(updates).Error
}

type vectorLogs struct {
	db *gorm.DB
}

func newVectorLogs(db *gorm.DB) *vectorLogs { return &vectorLogs{db: db} }

// ListByDoc implements VectorLogStore.
func (s *vectorLogs) ListByDoc(ctx context.Context, docID string) ([]*model.VectorLogEntry, error) {
	var out []*model.VectorLogEntry
	err := s.db.WithContext(ctx).Where("doc_id = ?", docID).Order("created_at, log_id").Find(&out).Error
	return out, err
}

type embeddings struct {
	db *gorm.DB
}

func newEmbeddings(db *gorm.DB) *embeddings { return &embeddings{db: db} }

// ListByDoc implements EmbeddingStore.
func (s *embeddings) ListByDoc(ctx context.Context, docID string) ([]*model.Embedding, error) {
	var out []*model.Embedding
	err := s.db.WithContext(ctx).Where("doc_id = ?", docID).Find(&out).Error
	return out, err
}

var (
	_ DocumentStore  = (*documents)(nil)
	_ BundleStore    = (*bundles)(nil)
	_ ChunkStore     = (*chunks)(nil)
	_ VectorLogStore = (*vectorLogs)(nil)
	_ EmbeddingStore = (*embeddings)(nil)
)
