package segment

import (
	"regexp"
	"strings"

	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
)

var (
	sentenceSplitRegex = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]*`)
	clauseSplitRegex   = regexp.MustCompile(`[^,;:，；：]+[,;:，；：]*`)
)

// Packer 将段落打包成不超过 MaxTokens 的文本段。
type Packer struct {
	// MaxTokens 单段 token 上限（空白分词估算）。
	MaxTokens int
}

// NewPacker 创建打包器，maxTokens 不正时取默认 400。
func NewPacker(maxTokens int) *Packer {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &Packer{MaxTokens: maxTokens}
}

// isAtomic 围栏代码与公式段不可拆分。
func isAtomic(paragraph string) bool {
	trimmed := strings.TrimSpace(paragraph)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "$$")
}

// Pack 将一个粗块的段落序列打包为若干文本段。
// 单独超限的段落按 句子 → 子句 → 贪心词组 逐级细分；
// 原子段（围栏）超限时整段保留，不在其内部切分。
func (p *Packer) Pack(paragraphs []string) []string {
	var segments []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) > 0 {
			segments = append(segments, strings.Join(buf, "\n\n"))
			buf = nil
			bufTokens = 0
		}
	}

	appendPiece := func(piece string) {
		tokens := textutil.EstimateTokens(piece)
		if bufTokens > 0 && bufTokens+tokens > p.MaxTokens {
			flush()
		}
		buf = append(buf, piece)
		bufTokens += tokens
	}

	for _, para := range paragraphs {
		tokens := textutil.EstimateTokens(para)
		if tokens <= p.MaxTokens || isAtomic(para) {
			appendPiece(para)
			continue
		}
		for _, piece := range p.splitOversized(para) {
			appendPiece(piece)
		}
	}
	flush()

	return segments
}

// splitOversized 将超限段落逐级细分为不超限的片段。
func (p *Packer) splitOversized(paragraph string) []string {
	var pieces []string
	for _, sentence := range splitNonEmpty(sentenceSplitRegex, paragraph) {
		if textutil.EstimateTokens(sentence) <= p.MaxTokens {
			pieces = append(pieces, sentence)
			continue
		}
		for _, clause := range splitNonEmpty(clauseSplitRegex, sentence) {
			if textutil.EstimateTokens(clause) <= p.MaxTokens {
				pieces = append(pieces, clause)
				continue
			}
			pieces = append(pieces, p.wordWrap(clause)...)
		}
	}
	return p.regroup(pieces)
}

// regroup 将细分片段贪心重组，避免产生大量碎片段。
func (p *Packer) regroup(pieces []string) []string {
	var out []string
	var buf []string
	bufTokens := 0
	for _, piece := range pieces {
		tokens := textutil.EstimateTokens(piece)
		if bufTokens > 0 && bufTokens+tokens > p.MaxTokens {
			out = append(out, strings.Join(buf, " "))
			buf = nil
			bufTokens = 0
		}
		buf = append(buf, piece)
		bufTokens += tokens
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, " "))
	}
	return out
}

// wordWrap 按词贪心切分，单个超长 token 独立成段。
func (p *Packer) wordWrap(text string) []string {
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += p.MaxTokens {
		end := start + p.MaxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func splitNonEmpty(re *regexp.Regexp, s string) []string {
	matches := re.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}
