// Package segment 实现文档文本的两阶段切分：
// 先按标题边界切出粗块，再按 token 上限打包成分块。
package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// BoundaryDetector 判定一行文本是否构成标题边界。
// 启发式策略误报率较高（短句可能被误判为标题），因此做成可替换接口，
// 便于按语料调优而不动打包算法。
type BoundaryDetector interface {
	// DetectHeading 返回标题文本与层级（1 为最高）。非标题行返回 ok=false。
	DetectHeading(line string) (title string, level int, ok bool)
}

var (
	markdownHeadingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numberedHeadingRegex = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)
	chapterHeadingRegex  = regexp.MustCompile(`^(?i)(chapter|section|part)\s+\d+\b[.:]?\s*(.*)$`)
	cjkHeadingRegex      = regexp.MustCompile(`^第[一二三四五六七八九十百\d]+[章节篇部条]\s*(.*)$`)
)

// HeuristicDetector 正则 + 短行启发式的默认实现。
type HeuristicDetector struct {
	// ShortLineMax 短行标题的最大字符数，默认 12。
	ShortLineMax int
}

// NewHeuristicDetector 创建默认探测器。
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{ShortLineMax: 12}
}

// DetectHeading implements BoundaryDetector.
func (d *HeuristicDetector) DetectHeading(line string) (string, int, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", 0, false
	}

	if m := markdownHeadingRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[2]), len(m[1]), true
	}

	if m := numberedHeadingRegex.FindStringSubmatch(trimmed); m != nil {
		level := strings.Count(m[1], ".") + 1
		if level <= 4 {
			return strings.TrimSpace(m[2]), level, true
		}
	}

	if m := chapterHeadingRegex.FindStringSubmatch(trimmed); m != nil {
		level := 1
		if strings.EqualFold(m[1], "section") {
			level = 2
		}
		title := strings.TrimSpace(m[2])
		if title == "" {
			title = trimmed
		}
		return title, level, true
	}

	if m := cjkHeadingRegex.FindStringSubmatch(trimmed); m != nil {
		title := strings.TrimSpace(m[1])
		if title == "" {
			title = trimmed
		}
		return title, 1, true
	}

	// 短行且不以终结标点结尾，视为三级标题
	maxLen := d.ShortLineMax
	if maxLen <= 0 {
		maxLen = 12
	}
	if utf8.RuneCountInString(trimmed) <= maxLen && !strings.ContainsAny(trimmed, ".。!！?？,，;；") {
		return trimmed, 3, true
	}

	return "", 0, false
}

var _ BoundaryDetector = (*HeuristicDetector)(nil)
