package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/knowbase/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func seedDocument(t *testing.T, ds Factory, docID string) {
	t.Helper()
	err := ds.Documents().Create(context.Background(), &model.Document{
		DocID:        docID,
		TenantID:     "acme",
		LibraryID:    "contracts",
		Title:        "Service Agreement",
		IngestStatus: model.StatusUploaded,
	})
	require.NoError(t, err)
}

func sampleBundle(docID string) *model.KnowledgeBundle {
	return &model.KnowledgeBundle{
		Document: &model.Document{DocID: docID, Title: "Service Agreement", Tags: model.StringSlice{"contract"}},
		Sections: []*model.DocumentSection{
			{SectionID: docID + "-s1", DocID: docID, Title: "Scope", Level: 1, Path: model.StringSlice{"Scope"}},
		},
		Chunks: []*model.Chunk{
			{ChunkID: docID + "-c1", DocID: docID, HierPath: model.StringSlice{"Scope"}, ContentText: "scope of work", ContentType: model.ContentTypeText},
			{ChunkID: docID + "-c2", DocID: docID, HierPath: model.StringSlice{"Scope"}, ContentText: "deliverables", ContentType: model.ContentTypeText},
		},
		Embeddings: []*model.Embedding{
			{EmbID: docID + "-e1", ChunkID: docID + "-c1", DocID: docID, Modality: model.ModalityText, ModelName: "test", Vector: model.Float64Slice{0.1, 0.2}, Dim: 2},
		},
		VectorLogs: []*model.VectorLogEntry{
			{LogID: docID + "-l1", DocID: docID, ChunkID: docID + "-c1", ModelRole: model.RoleEmbedding, Status: "success"},
		},
	}
}

func TestDocumentStatusMetaMerge(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")

	err := ds.Documents().UpdateStatus(ctx, "doc-1", model.StatusParsed, "", model.JSONMap{"parsing": "done"})
	require.NoError(t, err)
	err = ds.Documents().UpdateStatus(ctx, "doc-1", model.StatusIndexed, "", model.JSONMap{"persisting": "done"})
	require.NoError(t, err)

	doc, err := ds.Documents().Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.IngestStatus)
	// 阶段时间线逐次合并而不是覆盖
	assert.Equal(t, "done", doc.StatusMeta["parsing"])
	assert.Equal(t, "done", doc.StatusMeta["persisting"])
}

func TestPersistBundleIdempotent(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")

	require.NoError(t, ds.Bundles().PersistBundle(ctx, sampleBundle("doc-1")))
	require.NoError(t, ds.Bundles().PersistBundle(ctx, sampleBundle("doc-1")))

	chunks, err := ds.Chunks().ListByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	embs, err := ds.Embeddings().ListByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, embs, 1)

	logs, err := ds.VectorLogs().ListByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestPersistBundleDropsOrphanLogs(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")

	bundle := sampleBundle("doc-1")
	bundle.VectorLogs = append(bundle.VectorLogs,
		&model.VectorLogEntry{LogID: "orphan", DocID: "doc-1", ChunkID: "ghost-chunk", ModelRole: model.RoleEmbedding, Status: "failed"},
		// ChunkID 为空的批级日志合法保留
		&model.VectorLogEntry{LogID: "batch", DocID: "doc-1", ModelRole: model.RoleEmbedding, Status: "failed"},
	)
	require.NoError(t, ds.Bundles().PersistBundle(ctx, bundle))

	logs, err := ds.VectorLogs().ListByDoc(ctx, "doc-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(logs))
	for _, l := range logs {
		ids = append(ids, l.LogID)
	}
	assert.NotContains(t, ids, "orphan")
	assert.Contains(t, ids, "batch")
	assert.Contains(t, ids, "doc-1-l1")
}

func TestPersistBundleSanitizesText(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")

	bundle := sampleBundle("doc-1")
	bundle.Chunks[0].ContentText = "clean\x00 text\x08 here"
	require.NoError(t, ds.Bundles().PersistBundle(ctx, bundle))

	chunk, err := ds.Chunks().Get(ctx, "doc-1-c1")
	require.NoError(t, err)
	assert.Equal(t, "clean text here", chunk.ContentText)
}

func TestPersistBundleSanitizesTagsAndPaths(t *testing.T) {
	db := newTestDB(t)
	ds := NewFactory(db)
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")

	bundle := sampleBundle("doc-1")
	bundle.Document.Tags = model.StringSlice{"tag\x00one", "tag\x08two"}
	bundle.Chunks[0].HierPath = model.StringSlice{"Sco\x00pe", "条\x0B款"}
	bundle.Chunks[0].TopicLabels = model.StringSlice{"bill\x00ing"}
	bundle.Chunks[0].Keywords = model.StringSlice{"scope\x7F"}
	bundle.Sections[0].Path = model.StringSlice{"Sco\x00pe"}
	bundle.Sections[0].Tags = model.StringSlice{"leg\x08al"}
	require.NoError(t, ds.Bundles().PersistBundle(ctx, bundle))

	doc, err := ds.Documents().Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"tagone", "tagtwo"}, doc.Tags)

	chunk, err := ds.Chunks().Get(ctx, "doc-1-c1")
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"Scope", "条款"}, chunk.HierPath)
	assert.Equal(t, model.StringSlice{"billing"}, chunk.TopicLabels)
	assert.Equal(t, model.StringSlice{"scope"}, chunk.Keywords)

	var section model.DocumentSection
	require.NoError(t, db.Where("section_id = ?", "doc-1-s1").First(&section).Error)
	assert.Equal(t, model.StringSlice{"Scope"}, section.Path)
	assert.Equal(t, model.StringSlice{"legal"}, section.Tags)
}

func TestPersistBundleRequiresDocument(t *testing.T) {
	ds := NewFactory(newTestDB(t))

	err := ds.Bundles().PersistBundle(context.Background(), &model.KnowledgeBundle{})
	assert.Error(t, err)
}

func TestChunkUpdateMetadataPartial(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")
	require.NoError(t, ds.Bundles().PersistBundle(ctx, sampleBundle("doc-1")))

	err := ds.Chunks().UpdateMetadata(ctx, "doc-1-c1", &model.SemanticMetadata{
		Title:    "Scope of Work",
		Keywords: []string{"scope", "work"},
	})
	require.NoError(t, err)

	chunk, err := ds.Chunks().Get(ctx, "doc-1-c1")
	require.NoError(t, err)
	assert.Equal(t, "Scope of Work", chunk.SemanticTitle)
	assert.Equal(t, model.StringSlice{"scope", "work"}, chunk.Keywords)
	// 未提供的字段保持原值
	assert.Equal(t, "scope of work", chunk.ContentText)
}

func TestChunkUpdateTopicLabels(t *testing.T) {
	ds := NewFactory(newTestDB(t))
	ctx := context.Background()
	seedDocument(t, ds, "doc-1")
	require.NoError(t, ds.Bundles().PersistBundle(ctx, sampleBundle("doc-1")))

	require.NoError(t, ds.Chunks().UpdateTopicLabels(ctx, "doc-1-c1", []string{"billing", "terms"}))

	chunk, err := ds.Chunks().Get(ctx, "doc-1-c1")
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"billing", "terms"}, chunk.TopicLabels)
}

func TestDocumentGetMissing(t *testing.T) {
	ds := NewFactory(newTestDB(t))

	_, err := ds.Documents().Get(context.Background(), "nope")
	assert.Error(t, err)
}
