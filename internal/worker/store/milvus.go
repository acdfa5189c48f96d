package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/pkg/component/milvus"
)

// MilvusIndex 基于 Milvus 的分块向量索引实现。
type MilvusIndex struct {
	client     *milvus.Client
	collection string
}

// NewMilvusIndex 创建 Milvus 向量索引。
func NewMilvusIndex(client *milvus.Client, collection string) *MilvusIndex {
	if collection == "" {
		collection = "kb_chunk_vectors"
	}
	return &MilvusIndex{client: client, collection: collection}
}

// EnsureCollection implements VectorIndex.
func (s *MilvusIndex) EnsureCollection(ctx context.Context, dim int) error {
	schema := &milvus.CollectionSchema{
		Name:        s.collection,
		Description: "knowledge base chunk vectors",
		Dimension:   dim,
		MetaFields: []milvus.MetaField{
			{Name: "doc_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "tenant_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "library_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "page_no", DataType: entity.FieldTypeInt64},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// UpsertChunks implements VectorIndex.
func (s *MilvusIndex) UpsertChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk, embeddings []*model.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	byChunk := make(map[string]*model.Chunk, len(chunks))
	for _, c := range chunks {
		byChunk[c.ChunkID] = c
	}

	data := &milvus.UpsertData{
		ChunkIDs:   make([]string, 0, len(embeddings)),
		Embeddings: make([][]float32, 0, len(embeddings)),
		Metadata: map[string][]any{
			"doc_id":     make([]any, 0, len(embeddings)),
			"tenant_id":  make([]any, 0, len(embeddings)),
			"library_id": make([]any, 0, len(embeddings)),
			"page_no":    make([]any, 0, len(embeddings)),
		},
	}

	for _, emb := range embeddings {
		chunk, ok := byChunk[emb.ChunkID]
		if !ok {
			return fmt.Errorf("向量 %s 引用了未知分块 %s", emb.EmbID, emb.ChunkID)
		}
		vec := make([]float32, len(emb.Vector))
		for i, v := range emb.Vector {
			vec[i] = float32(v)
		}

		data.ChunkIDs = append(data.ChunkIDs, emb.ChunkID)
		data.Embeddings = append(data.Embeddings, vec)
		data.Metadata["doc_id"] = append(data.Metadata["doc_id"], emb.DocID)
		data.Metadata["tenant_id"] = append(data.Metadata["tenant_id"], doc.TenantID)
		data.Metadata["library_id"] = append(data.Metadata["library_id"], doc.LibraryID)
		data.Metadata["page_no"] = append(data.Metadata["page_no"], int64(chunk.PageNo))
	}

	return s.client.Upsert(ctx, s.collection, data)
}

// DeleteByDoc implements VectorIndex.
func (s *MilvusIndex) DeleteByDoc(ctx context.Context, docID string) error {
	return s.client.DeleteByExpr(ctx, s.collection, fmt.Sprintf("doc_id == %q", docID))
}

// Search implements VectorIndex.
func (s *MilvusIndex) Search(ctx context.Context, vector []float64, topK int, tenantID, libraryID string) ([]VectorMatch, error) {
	vec := make([]float32, len(vector))
	for i, v := range vector {
		vec[i] = float32(v)
	}

	expr := ""
	if tenantID != "" {
		expr = fmt.Sprintf("tenant_id == %q", tenantID)
	}
	if libraryID != "" {
		if expr != "" {
			expr += " and "
		}
		expr += fmt.Sprintf("library_id == %q", libraryID)
	}

	results, err := s.client.Search(ctx, s.collection, vec, topK, expr, []string{"doc_id"})
	if err != nil {
		return nil, err
	}

	matches := make([]VectorMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, VectorMatch{
			ChunkID: r.ChunkID,
			Score:   float64(r.Score),
		})
	}
	return matches, nil
}

var _ VectorIndex = (*MilvusIndex)(nil)
