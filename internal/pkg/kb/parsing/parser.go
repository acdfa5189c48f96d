// Package parsing 负责从原始文件字节中提取结构化元素，
// 并在解析结果不可用时决策 OCR 回退。
package parsing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// ElementType 解析元素类型。
type ElementType string

const (
	ElementTypeText    ElementType = "text"
	ElementTypeHeading ElementType = "heading"
	ElementTypeTable   ElementType = "table"
	ElementTypeImage   ElementType = "image"
)

// Element 解析器产出的最小结构单元。
type Element struct {
	Type   ElementType `json:"type"`
	Text   string      `json:"text"`
	PageNo int         `json:"page_no"`
	// Level 标题层级，仅 heading 元素有意义。
	Level int `json:"level,omitempty"`
	// OCR 元素是否来自 OCR 通道。
	OCR bool `json:"ocr,omitempty"`
	// Data 二进制载荷，仅 image 元素携带。
	Data []byte `json:"-"`
}

// Input 解析输入。
type Input struct {
	DocID    string
	FileName string
	MimeType string
	Language string
	Data     []byte
}

// Parser 单一格式解析器。
type Parser interface {
	// Supports 判断是否能处理该 MIME 类型/文件名。
	Supports(mimeType, fileName string) bool
	// Parse 提取结构化元素。无内容时返回空切片而非错误。
	Parse(ctx context.Context, in Input) ([]Element, error)
}

// PlainTextParser 纯文本与 Markdown 解析器。
// Markdown 标题行产出 heading 元素，其余按空行分段产出 text 元素。
type PlainTextParser struct{}

// NewPlainTextParser 创建纯文本解析器。
func NewPlainTextParser() *PlainTextParser { return &PlainTextParser{} }

var plainTextExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".log": true, ".csv": true,
}

// Supports implements Parser.
func (p *PlainTextParser) Supports(mimeType, fileName string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	if mimeType == "application/json" {
		return true
	}
	return plainTextExts[strings.ToLower(filepath.Ext(fileName))]
}

// Parse implements Parser.
func (p *PlainTextParser) Parse(_ context.Context, in Input) ([]Element, error) {
	text := string(in.Data)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var elements []Element
	var para []string

	flush := func() {
		if len(para) > 0 {
			elements = append(elements, Element{
				Type: ElementTypeText,
				Text: strings.Join(para, "\n"),
			})
			para = nil
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			title := strings.TrimSpace(trimmed[level:])
			if level <= 6 && title != "" {
				flush()
				elements = append(elements, Element{
					Type:  ElementTypeHeading,
					Text:  title,
					Level: level,
				})
				continue
			}
		}
		para = append(para, line)
	}
	flush()

	return elements, nil
}

var _ Parser = (*PlainTextParser)(nil)

// CompositeParser 按顺序尝试多个解析器，首个产出非空结果者胜出。
// 单个解析器报错不终止链条，全部失败时汇总返回。
type CompositeParser struct {
	parsers []Parser
}

// NewCompositeParser 创建解析器链。
func NewCompositeParser(parsers ...Parser) *CompositeParser {
	return &CompositeParser{parsers: parsers}
}

// Parse 依次尝试所有支持该输入的解析器。
// 没有解析器支持、或全部返回空结果时，返回空元素列表而非错误。
func (c *CompositeParser) Parse(ctx context.Context, in Input) ([]Element, error) {
	var errs []string
	tried := 0

	for _, p := range c.parsers {
		if !p.Supports(in.MimeType, in.FileName) {
			continue
		}
		tried++
		elements, err := p.Parse(ctx, in)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if len(elements) > 0 {
			return elements, nil
		}
	}

	if tried > 0 && len(errs) == tried {
		return nil, fmt.Errorf("所有解析器均失败: %s", strings.Join(errs, "; "))
	}
	return nil, nil
}
