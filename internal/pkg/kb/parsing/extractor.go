package parsing

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
)

// Result 提取结果。Elements 为空表示全通道都没有产出内容，
// 由调用方决定是否判定文档失败。
type Result struct {
	Elements []Element
	// UsedOCR 内容是否来自 OCR 回退。
	UsedOCR bool
	// Discarded 解析结果因过于琐碎而被丢弃的次数。
	Discarded int
}

// Extractor 解析编排：解析器链 → 琐碎结果丢弃 → OCR 回退。
type Extractor struct {
	chain      *CompositeParser
	ocr        OCRClient
	ocrEnabled bool
}

// NewExtractor 创建提取编排器。ocr 可以为 nil，此时即使开启开关也不回退。
func NewExtractor(chain *CompositeParser, ocr OCRClient, ocrEnabled bool) *Extractor {
	if chain == nil {
		chain = NewCompositeParser(NewPlainTextParser())
	}
	return &Extractor{chain: chain, ocr: ocr, ocrEnabled: ocrEnabled}
}

// Extract 执行完整的内容提取流程：
//   - 图片输入不解析文本，直接产出单个 image 元素；
//   - PDF 解析结果过于琐碎（≤1 个元素且不足 200 字符）时整体丢弃，
//     使其进入 OCR 通道而不是带着近空结果继续；
//   - OCR 仅在开关开启、输入为 PDF 且解析产出为零时尝试，
//     产出元素全部打上 OCR 标记；
//   - 解析与 OCR 均无产出时返回空 Result 而非错误。
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if IsImage(in.MimeType, in.FileName) {
		return &Result{Elements: []Element{{Type: ElementTypeImage, Data: in.Data}}}, nil
	}

	elements, err := e.chain.Parse(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("解析文档失败: %w", err)
	}

	res := &Result{}
	if IsPDF(in.MimeType, in.FileName) && len(elements) > 0 && TrivialPDFResult(elements) {
		logger.Warnw("discarding trivial pdf parse result",
			"doc_id", in.DocID, "elements", len(elements))
		elements = nil
		res.Discarded++
	}

	if len(elements) == 0 && e.shouldOCR(in) {
		ocrElements, err := e.ocr.Extract(ctx, OCRRequest{Data: in.Data, Language: in.Language})
		if err != nil {
			return nil, fmt.Errorf("OCR 提取失败: %w", err)
		}
		for i := range ocrElements {
			ocrElements[i].OCR = true
		}
		elements = ocrElements
		res.UsedOCR = len(elements) > 0
	}

	res.Elements = elements
	return res, nil
}

// shouldOCR OCR 回退资格：开关开启、客户端可用、且输入为 PDF。
func (e *Extractor) shouldOCR(in Input) bool {
	return e.ocrEnabled && e.ocr != nil && IsPDF(in.MimeType, in.FileName)
}
