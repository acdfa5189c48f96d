package biz

import (
	"context"
	"fmt"
	"path"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/parsing"
	"github.com/kart-io/knowbase/internal/worker/store"
)

// AttachmentBuilder 把图片分块与表格元素落对象存储并建立附件记录。
type AttachmentBuilder struct {
	objects store.ObjectStore
}

// NewAttachmentBuilder 创建附件构建器。objects 为 nil 时 Build 直接返回空。
func NewAttachmentBuilder(objects store.ObjectStore) *AttachmentBuilder {
	return &AttachmentBuilder{objects: objects}
}

// Build 为图片分块与表格元素生成预览附件。对象键按
// {tenant}/{doc}/{images|tables}/{asset} 布局，图片以分块 ID 为资产名，
// 附件记录回链分块。重摄取前先清空两个预览前缀，避免残留旧对象。
func (b *AttachmentBuilder) Build(ctx context.Context, doc *model.Document, elements []parsing.Element, fragments []*ImageFragment) ([]*model.Attachment, error) {
	if b.objects == nil {
		return nil, nil
	}

	for _, prefix := range []string{
		path.Join(doc.TenantID, doc.DocID, "images"),
		path.Join(doc.TenantID, doc.DocID, "tables"),
	} {
		if err := b.objects.DeletePreviewPrefix(ctx, prefix); err != nil {
			return nil, fmt.Errorf("清理预览前缀失败: %w", err)
		}
	}

	var out []*model.Attachment
	for _, frag := range fragments {
		key := path.Join(doc.TenantID, doc.DocID, "images", frag.Chunk.ChunkID+".png")
		if err := b.objects.PutPreview(ctx, key, frag.Data, frag.MimeType); err != nil {
			return nil, fmt.Errorf("写入图片附件失败: %w", err)
		}
		out = append(out, &model.Attachment{
			AssetID:   ulid.Make().String(),
			DocID:     doc.DocID,
			ChunkID:   frag.Chunk.ChunkID,
			AssetType: model.AttachmentImage,
			ObjectKey: key,
			MimeType:  frag.MimeType,
			PageNo:    frag.Chunk.PageNo,
		})
	}

	for _, el := range elements {
		if el.Type != parsing.ElementTypeTable || el.Text == "" {
			continue
		}
		assetID := ulid.Make().String()
		key := path.Join(doc.TenantID, doc.DocID, "tables", assetID+".txt")
		if err := b.objects.PutPreview(ctx, key, []byte(el.Text), "text/plain; charset=utf-8"); err != nil {
			return nil, fmt.Errorf("写入表格附件失败: %w", err)
		}
		out = append(out, &model.Attachment{
			AssetID:   assetID,
			DocID:     doc.DocID,
			AssetType: model.AttachmentTable,
			ObjectKey: key,
			MimeType:  "text/plain",
			PageNo:    el.PageNo,
		})
	}
	return out, nil
}
