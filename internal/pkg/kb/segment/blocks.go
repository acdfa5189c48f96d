package segment

import (
	"strings"
	"unicode/utf8"
)

// Block 标题界定的粗块，是 token 打包阶段的输入。
type Block struct {
	// Title 粗块前导标题，无标题时为空。
	Title string
	// Level 标题层级，0 表示无标题。
	Level int
	// PageNo 粗块起始页码，无页信息时为 0。
	PageNo int
	// Paragraphs 重排后的段落。
	Paragraphs []string
}

const noiseLineMax = 6

// isFenceLine 判断是否为代码/公式围栏行。
func isFenceLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || trimmed == "$$"
}

// ReflowParagraphs 将原始行序列重排为段落：
//   - 空行分段
//   - 连字符换行重接（"exam-\nple" → "example"）
//   - 软换行合并为一段
//   - 丢弃不超过 6 个字符的噪声行
//   - 围栏内的行原样保留为一个整体段落
func ReflowParagraphs(lines []string) []string {
	var paragraphs []string
	var buf strings.Builder
	var fence []string
	inFence := false

	flush := func() {
		if buf.Len() > 0 {
			paragraphs = append(paragraphs, buf.String())
			buf.Reset()
		}
	}

	for _, line := range lines {
		if inFence {
			fence = append(fence, line)
			if isFenceLine(line) {
				paragraphs = append(paragraphs, strings.Join(fence, "\n"))
				fence = nil
				inFence = false
			}
			continue
		}
		if isFenceLine(line) {
			flush()
			fence = append(fence, line)
			inFence = true
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if utf8.RuneCountInString(trimmed) <= noiseLineMax {
			continue
		}

		if buf.Len() == 0 {
			buf.WriteString(trimmed)
			continue
		}
		prev := buf.String()
		if strings.HasSuffix(prev, "-") {
			// 连字符换行：去掉连字符直接拼接
			buf.Reset()
			buf.WriteString(strings.TrimSuffix(prev, "-"))
			buf.WriteString(trimmed)
		} else {
			buf.WriteString(" ")
			buf.WriteString(trimmed)
		}
	}

	// 未闭合围栏按原样保留
	if len(fence) > 0 {
		paragraphs = append(paragraphs, strings.Join(fence, "\n"))
	}
	flush()

	return paragraphs
}

// BuildCoarseBlocks 将整篇文本切成标题界定的粗块。
// 标题行本身不进入块内容，作为块的 Title/层级。
func BuildCoarseBlocks(text string, det BoundaryDetector) []Block {
	if det == nil {
		det = NewHeuristicDetector()
	}

	var blocks []Block
	current := Block{}
	var lines []string
	inFence := false

	flush := func() {
		paragraphs := ReflowParagraphs(lines)
		lines = nil
		if len(paragraphs) == 0 {
			return
		}
		current.Paragraphs = paragraphs
		blocks = append(blocks, current)
	}

	for _, line := range strings.Split(text, "\n") {
		if isFenceLine(line) {
			inFence = !inFence
			lines = append(lines, line)
			continue
		}
		if inFence {
			lines = append(lines, line)
			continue
		}
		if title, level, ok := det.DetectHeading(line); ok {
			flush()
			current = Block{Title: title, Level: level}
			continue
		}
		lines = append(lines, line)
	}
	flush()

	return blocks
}
