package biz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/parsing"
)

// ImageFragment 图片元素构建出的分块及其二进制载荷。
// 图片不走文本切分：每个带数据的 image 元素直接成为一个
// contentType=image 的分块，向量化阶段以 image 模态单独处理。
type ImageFragment struct {
	Chunk    *model.Chunk
	Data     []byte
	MimeType string
}

// BuildImageFragments 为带数据的图片元素构建图片分块。
// hierPath 取 [文档标题, 图片 N]，与文本分块同一寻址空间。
func BuildImageFragments(doc *model.Document, elements []parsing.Element) []*ImageFragment {
	var out []*ImageFragment
	for _, el := range elements {
		if el.Type != parsing.ElementTypeImage || len(el.Data) == 0 {
			continue
		}
		title := fmt.Sprintf("图片 %d", len(out)+1)
		chunk := &model.Chunk{
			ChunkID:      uuid.NewString(),
			DocID:        doc.DocID,
			HierPath:     model.StringSlice{doc.Title, title},
			SectionTitle: title,
			ContentType:  model.ContentTypeImage,
			PageNo:       el.PageNo,
		}
		out = append(out, &ImageFragment{Chunk: chunk, Data: el.Data, MimeType: "image/png"})
	}
	return out
}
