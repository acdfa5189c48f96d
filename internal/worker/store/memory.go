package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/knowbase/internal/model"
)

// MemoryFactory 进程内存储工厂，用于测试与单机试运行。
// 行为与 gorm 实现对齐：PersistBundle 先删后写，状态更新合并 StatusMeta。
type MemoryFactory struct {
	mu         sync.RWMutex
	documents  map[string]*model.Document
	chunks     map[string]*model.Chunk
	sections   map[string][]*model.DocumentSection
	embeddings map[string][]*model.Embedding
	vectorLogs map[string][]*model.VectorLogEntry
}

// NewMemoryFactory 创建内存存储工厂。
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		documents:  make(map[string]*model.Document),
		chunks:     make(map[string]*model.Chunk),
		sections:   make(map[string][]*model.DocumentSection),
		embeddings: make(map[string][]*model.Embedding),
		vectorLogs: make(map[string][]*model.VectorLogEntry),
	}
}

func (f *MemoryFactory) Documents() DocumentStore   { return (*memDocuments)(f) }
func (f *MemoryFactory) Bundles() BundleStore       { return (*memBundles)(f) }
func (f *MemoryFactory) Chunks() ChunkStore         { return (*memChunks)(f) }
func (f *MemoryFactory) VectorLogs() VectorLogStore { return (*memVectorLogs)(f) }
func (f *MemoryFactory) Embeddings() EmbeddingStore { return (*memEmbeddings)(f) }

type memDocuments MemoryFactory

func (s *memDocuments) Get(ctx context.Context, docID string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[docID]
	if !ok {
		return nil, fmt.Errorf("查询文档失败: 文档 %s 不存在", docID)
	}
	cp := *doc
	return &cp, nil
}

func (s *memDocuments) Create(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.DocID]; ok {
		return fmt.Errorf("文档 %s 已存在", doc.DocID)
	}
	cp := *doc
	s.documents[doc.DocID] = &cp
	return nil
}

func (s *memDocuments) UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMessage string, statusMeta model.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[docID]
	if !ok {
		return fmt.Errorf("文档 %s 不存在", docID)
	}
	if doc.StatusMeta == nil {
		doc.StatusMeta = model.JSONMap{}
	}
	for k, v := range statusMeta {
		doc.StatusMeta[k] = v
	}
	doc.IngestStatus = status
	doc.ErrorMessage = errMessage
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *memDocuments) UpdateTags(ctx context.Context, docID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[docID]
	if !ok {
		return fmt.Errorf("文档 %s 不存在", docID)
	}
	doc.Tags = model.StringSlice(tags)
	return nil
}

type memBundles MemoryFactory

func (s *memBundles) PersistBundle(ctx context.Context, bundle *model.KnowledgeBundle) error {
	if bundle == nil || bundle.Document == nil {
		return fmt.Errorf("知识产物缺少文档")
	}
	docID := bundle.Document.DocID

	sanitizeBundle(bundle)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.chunks {
		if c.DocID == docID {
			delete(s.chunks, id)
		}
	}
	delete(s.sections, docID)
	delete(s.embeddings, docID)
	delete(s.vectorLogs, docID)

	known := make(map[string]bool, len(bundle.Chunks))
	for _, c := range bundle.Chunks {
		cp := *c
		s.chunks[c.ChunkID] = &cp
		known[c.ChunkID] = true
	}
	s.sections[docID] = append([]*model.DocumentSection(nil), bundle.Sections...)
	s.embeddings[docID] = append([]*model.Embedding(nil), bundle.Embeddings...)
	for _, entry := range bundle.VectorLogs {
		if entry.ChunkID != "" && !known[entry.ChunkID] {
			continue
		}
		s.vectorLogs[docID] = append(s.vectorLogs[docID], entry)
	}

	if doc, ok := s.documents[docID]; ok {
		doc.Title = bundle.Document.Title
		doc.Tags = bundle.Document.Tags
		doc.UpdatedAt = time.Now()
	}
	return nil
}

type memChunks MemoryFactory

func (s *memChunks) ListByDoc(ctx context.Context, docID string) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Chunk
	for _, c := range s.chunks {
		if c.DocID == docID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func (s *memChunks) Get(ctx context.Context, chunkID string) (*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("查询分块失败: 分块 %s 不存在", chunkID)
	}
	cp := *c
	return &cp, nil
}

func (s *memChunks) UpdateTopicLabels(ctx context.Context, chunkID string, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("分块 %s 不存在", chunkID)
	}
	c.TopicLabels = model.StringSlice(labels)
	return nil
}

func (s *memChunks) UpdateMetadata(ctx context.Context, chunkID string, meta *model.SemanticMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("分块 %s 不存在", chunkID)
	}
	if meta.Title != "" {
		c.SemanticTitle = meta.Title
	}
	if meta.ContextSummary != "" {
		c.ContextSummary = meta.ContextSummary
	}
	if len(meta.SemanticTags) > 0 {
		c.SemanticTags = model.StringSlice(meta.SemanticTags)
	}
	if len(meta.Topics) > 0 {
		c.Topics = model.StringSlice(meta.Topics)
	}
	if len(meta.Keywords) > 0 {
		c.Keywords = model.StringSlice(meta.Keywords)
	}
	if len(meta.EnvLabels) > 0 {
		c.EnvLabels = model.StringSlice(meta.EnvLabels)
	}
	if len(meta.BizEntities) > 0 {
		c.BizEntities = model.StringSlice(meta.BizEntities)
	}
	if len(meta.Entities) > 0 {
		c.NerEntities = model.EntityList(meta.Entities)
	}
	return nil
}

type memVectorLogs MemoryFactory

func (s *memVectorLogs) ListByDoc(ctx context.Context, docID string) ([]*model.VectorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.VectorLogEntry(nil), s.vectorLogs[docID]...), nil
}

type memEmbeddings MemoryFactory

func (s *memEmbeddings) ListByDoc(ctx context.Context, docID string) ([]*model.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.Embedding(nil), s.embeddings[docID]...), nil
}

// MemoryVectorIndex 进程内向量索引，以暴力余弦检索实现 VectorIndex。
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string]memVector
}

type memVector struct {
	docID     string
	tenantID  string
	libraryID string
	vector    []float64
}

// NewMemoryVectorIndex 创建内存向量索引。
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{vectors: make(map[string]memVector)}
}

func (s *MemoryVectorIndex) EnsureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dim
	return nil
}

func (s *MemoryVectorIndex) UpsertChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk, embeddings []*model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		s.vectors[emb.ChunkID] = memVector{
			docID:     emb.DocID,
			tenantID:  doc.TenantID,
			libraryID: doc.LibraryID,
			vector:    append([]float64(nil), emb.Vector...),
		}
	}
	return nil
}

func (s *MemoryVectorIndex) DeleteByDoc(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.vectors {
		if v.docID == docID {
			delete(s.vectors, id)
		}
	}
	return nil
}

func (s *MemoryVectorIndex) Search(ctx context.Context, vector []float64, topK int, tenantID, libraryID string) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]VectorMatch, 0, len(s.vectors))
	for id, v := range s.vectors {
		if tenantID != "" && v.tenantID != tenantID {
			continue
		}
		if libraryID != "" && v.libraryID != libraryID {
			continue
		}
		matches = append(matches, VectorMatch{ChunkID: id, Score: dot(vector, v.vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

var (
	_ Factory     = (*MemoryFactory)(nil)
	_ VectorIndex = (*MemoryVectorIndex)(nil)
)
