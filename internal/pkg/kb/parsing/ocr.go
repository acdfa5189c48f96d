package parsing

import (
	"context"
	"path/filepath"
	"strings"
)

// OCRRequest OCR 提取请求。
type OCRRequest struct {
	Data     []byte
	Language string
}

// OCRClient 外部 OCR 引擎契约。实现逐页渲染 PDF 并提取文本。
type OCRClient interface {
	// Extract 返回每页一个或多个元素，调用方负责打 OCR 标记。
	Extract(ctx context.Context, req OCRRequest) ([]Element, error)
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true,
}

var legacyOfficeExts = map[string]bool{
	".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true,
}

// IsPDF 判断输入是否为 PDF。
func IsPDF(mimeType, fileName string) bool {
	if mimeType == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".pdf")
}

// IsImage 判断输入是否为图片。图片文件不走 OCR 回退，直接构建图片分块。
func IsImage(mimeType, fileName string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	return imageExts[strings.ToLower(filepath.Ext(fileName))]
}

// IsOfficeDocument 判断是否为 Office 文档。Office 格式依赖自身解析器，不做 OCR。
func IsOfficeDocument(mimeType, fileName string) bool {
	if strings.Contains(mimeType, "officedocument") || strings.Contains(mimeType, "msword") ||
		strings.Contains(mimeType, "ms-excel") || strings.Contains(mimeType, "ms-powerpoint") {
		return true
	}
	return legacyOfficeExts[strings.ToLower(filepath.Ext(fileName))]
}

// trivialPDFTextMax 低于该字符数的单元素 PDF 解析结果视为无效。
const trivialPDFTextMax = 200

// TrivialPDFResult 判断 PDF 解析结果是否小到应当丢弃：
// 不超过一个元素且累计字符数低于 200。扫描件常见此形态，
// 丢弃后走 OCR 通道才能拿到真实内容。
func TrivialPDFResult(elements []Element) bool {
	if len(elements) > 1 {
		return false
	}
	total := 0
	for _, el := range elements {
		total += len(el.Text)
	}
	return total < trivialPDFTextMax
}
