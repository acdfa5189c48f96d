// Package store provides candidate retrieval for the search service,
// combining the vector index with the relational chunk store.
package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/internal/search/biz"
	wstore "github.com/kart-io/knowbase/internal/worker/store"
)

const (
	// candidateMultiplier 向量召回量相对请求 limit 的放大倍数，
	// 给后置过滤与重排留余量。
	candidateMultiplier = 4
	maxCandidates       = 100
	maxNeighborsPerHit  = 3
)

// GormCandidateSource 基于关系库与向量索引的候选源。
type GormCandidateSource struct {
	db    *gorm.DB
	index wstore.VectorIndex
}

// NewGormCandidateSource 创建候选源。
func NewGormCandidateSource(db *gorm.DB, index wstore.VectorIndex) *GormCandidateSource {
	return &GormCandidateSource{db: db, index: index}
}

var _ biz.CandidateSource = (*GormCandidateSource)(nil)

// SearchCandidates 取候选分块。有查询向量时走向量索引，
// 否则退化为词面匹配；再按过滤条件裁剪并补充邻接信息。
func (s *GormCandidateSource) SearchCandidates(ctx context.Context, req *biz.SearchRequest, queryVector []float64) ([]*biz.ChunkRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	topK := limit * candidateMultiplier
	if topK > maxCandidates {
		topK = maxCandidates
	}

	var chunks []*model.Chunk
	var err error
	if len(queryVector) > 0 {
		chunks, err = s.vectorCandidates(ctx, queryVector, topK, req.Filters)
	} else {
		chunks, err = s.lexicalCandidates(ctx, req.Query, topK, req.Filters)
	}
	if err != nil {
		return nil, err
	}

	chunks = filterChunks(chunks, req.Filters)
	if len(chunks) == 0 {
		return nil, nil
	}

	docs, err := s.loadDocuments(ctx, chunks)
	if err != nil {
		return nil, err
	}
	chunks = filterByDocument(chunks, docs, req.Filters)
	if len(chunks) == 0 {
		return nil, nil
	}

	neighbors, err := s.loadNeighbors(ctx, chunks)
	if err != nil {
		return nil, err
	}

	records := make([]*biz.ChunkRecord, 0, len(chunks))
	for _, chunk := range chunks {
		record := &biz.ChunkRecord{Chunk: chunk}
		if doc, ok := docs[chunk.DocID]; ok {
			record.DocTitle = doc.Title
		}
		if siblings, ok := neighbors[chunk.ParentSectionID]; ok && chunk.ParentSectionID != "" {
			for _, sib := range siblings {
				if sib.ChunkID == chunk.ChunkID {
					continue
				}
				record.NeighborCount++
				if req.IncludeNeighbors && len(record.Neighbors) < maxNeighborsPerHit {
					record.Neighbors = append(record.Neighbors, sib)
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *GormCandidateSource) vectorCandidates(ctx context.Context, queryVector []float64, topK int, f biz.Filters) ([]*model.Chunk, error) {
	matches, err := s.index.Search(ctx, queryVector, topK, f.TenantID, f.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("向量索引检索失败: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
	}
	var chunks []*model.Chunk
	if err := s.db.WithContext(ctx).Where("chunk_id IN ?", ids).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("加载候选分块失败: %w", err)
	}

	// 保持向量命中的先后顺序
	byID := make(map[string]*model.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	ordered := make([]*model.Chunk, 0, len(matches))
	for _, m := range matches {
		if c, ok := byID[m.ChunkID]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

func (s *GormCandidateSource) lexicalCandidates(ctx context.Context, query string, topK int, f biz.Filters) ([]*model.Chunk, error) {
	terms := textutil.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	tx := s.db.WithContext(ctx).Model(&model.Chunk{}).
		Joins("JOIN kb_documents ON kb_documents.doc_id = kb_chunks.doc_id")
	if f.TenantID != "" {
		tx = tx.Where("kb_documents.tenant_id = ?", f.TenantID)
	}
	if f.LibraryID != "" {
		tx = tx.Where("kb_documents.library_id = ?", f.LibraryID)
	}
	for _, term := range terms {
		tx = tx.Where("kb_chunks.content_text LIKE ?", "%"+term+"%")
	}

	var chunks []*model.Chunk
	if err := tx.Order("kb_chunks.chunk_id").Limit(topK).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("词面候选检索失败: %w", err)
	}
	return chunks, nil
}

func (s *GormCandidateSource) loadDocuments(ctx context.Context, chunks []*model.Chunk) (map[string]*model.Document, error) {
	seen := make(map[string]struct{}, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.DocID]; !ok {
			seen[c.DocID] = struct{}{}
			ids = append(ids, c.DocID)
		}
	}
	var docs []*model.Document
	if err := s.db.WithContext(ctx).Where("doc_id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("加载候选文档失败: %w", err)
	}
	out := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		out[d.DocID] = d
	}
	return out, nil
}

func (s *GormCandidateSource) loadNeighbors(ctx context.Context, chunks []*model.Chunk) (map[string][]*model.Chunk, error) {
	seen := make(map[string]struct{})
	var sectionIDs []string
	for _, c := range chunks {
		if c.ParentSectionID == "" {
			continue
		}
		if _, ok := seen[c.ParentSectionID]; !ok {
			seen[c.ParentSectionID] = struct{}{}
			sectionIDs = append(sectionIDs, c.ParentSectionID)
		}
	}
	if len(sectionIDs) == 0 {
		return nil, nil
	}

	var siblings []*model.Chunk
	if err := s.db.WithContext(ctx).
		Where("parent_section_id IN ?", sectionIDs).
		Order("chunk_id").
		Find(&siblings).Error; err != nil {
		return nil, fmt.Errorf("加载邻接分块失败: %w", err)
	}
	out := make(map[string][]*model.Chunk)
	for _, sib := range siblings {
		out[sib.ParentSectionID] = append(out[sib.ParentSectionID], sib)
	}
	return out, nil
}

// filterChunks 应用分块级过滤（文档、主题）。
func filterChunks(chunks []*model.Chunk, f biz.Filters) []*model.Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if f.DocID != "" && c.DocID != f.DocID {
			continue
		}
		if len(f.Topics) > 0 && !hasAnyFold(c.Topics, f.Topics) && !hasAnyFold(c.TopicLabels, f.Topics) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterByDocument 应用文档级过滤（文档标签）。
func filterByDocument(chunks []*model.Chunk, docs map[string]*model.Document, f biz.Filters) []*model.Chunk {
	if len(f.Tags) == 0 {
		return chunks
	}
	out := chunks[:0]
	for _, c := range chunks {
		doc, ok := docs[c.DocID]
		if !ok || !hasAnyFold(doc.Tags, f.Tags) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func hasAnyFold(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
