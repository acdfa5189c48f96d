// Package textutil 提供知识库摄取与检索相关的文本处理工具函数。
package textutil

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	controlCharRegex   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	trailingSpaceRegex = regexp.MustCompile(`(?m)[ \t]+$`)
	excessNewlineRegex = regexp.MustCompile(`\n{3,}`)
	tokenRegex         = regexp.MustCompile(`[\p{L}\p{N}]{2,}`)
)

// stopWords 通用停用词，打标与关键词抽取时过滤。
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "from": {}, "that": {},
	"have": {}, "this": {}, "will": {}, "shall": {},
	"合同": {}, "文件": {}, "数据": {},
}

// PreprocessResult 规范化结果。
type PreprocessResult struct {
	Text                 string
	RemovedCharacters    int
	NormalizedWhitespace bool
}

// Preprocess 规范化原始文本：剔除控制字符、统一换行、压缩多余空白。
func Preprocess(raw string) PreprocessResult {
	removed := len(controlCharRegex.FindAllString(raw, -1))
	text := controlCharRegex.ReplaceAllString(raw, " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = trailingSpaceRegex.ReplaceAllString(text, "")
	normalized := excessNewlineRegex.MatchString(text)
	text = excessNewlineRegex.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	return PreprocessResult{
		Text:                 text,
		RemovedCharacters:    removed,
		NormalizedWhitespace: normalized,
	}
}

// Sanitize 清理持久化前的自由文本：去除控制字符与非法 Unicode 序列。
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		// 未配对的代理区码点无法合法编码为 UTF-8
		if r >= 0xD800 && r <= 0xDFFF {
			continue
		}
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7F {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// EstimateTokens 以空白分词估算 token 数。
func EstimateTokens(s string) int {
	return len(strings.Fields(s))
}

// Tokenize 抽取长度不小于 2 的字母数字序列，转小写并过滤停用词。
// 单个 token 最长保留 24 个字符。
func Tokenize(s string) []string {
	matches := tokenRegex.FindAllString(s, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		t := strings.ToLower(m)
		if runes := []rune(t); len(runes) > 24 {
			t = string(runes[:24])
		}
		if _, ok := stopWords[t]; ok {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// IsStopWord 判断是否为停用词。
func IsStopWord(s string) bool {
	_, ok := stopWords[strings.ToLower(s)]
	return ok
}

// MergeTags 合并已有标签与新标签：去首尾空白、大小写不敏感去重、保序保留先出现者。
// limit 大于 0 时截断到该上限。幂等：重复合并同一输入结果不变。
func MergeTags(existing, generated []string, limit int) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0, len(existing)+len(generated))
	for _, group := range [][]string{existing, generated} {
		for _, tag := range group {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, tag)
		}
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，维度不一致或零向量时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeVector 将向量归一化为单位 L2 范数。零向量原样返回。
func NormalizeVector(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// MinMaxNormalize 将一组分数线性缩放到 [0, 1]。
// 所有分数相同时返回全 0。
func MinMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	minV, maxV := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minV {
			minV = s
		}
		if s > maxV {
			maxV = s
		}
	}
	out := make([]float64, len(scores))
	if maxV == minV {
		return out
	}
	for i, s := range scores {
		out[i] = (s - minV) / (maxV - minV)
	}
	return out
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// CollapseWhitespace 将连续空白压缩为单个空格。
func CollapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
