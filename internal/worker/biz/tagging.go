package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/llm/resilience"
)

const (
	// maxDocTags 文档级标签上限。
	maxDocTags = 6
	// maxTagSnippets 远端打标时最多携带的分块片段数。
	maxTagSnippets = 6
	// tagSnippetMaxLen 单个片段的最大字符数。
	tagSnippetMaxLen = 400
	// remoteTagConcurrency 远端打标的进程级并发上限。
	remoteTagConcurrency = 3
)

const taggingSystemPrompt = `你是文档打标助手。根据标题与正文片段给文档生成不超过 6 个主题标签，` +
	`以 JSON 字符串数组返回，例如 ["合同","结算"]。只返回 JSON。`

var (
	taggingPool     *ants.Pool
	taggingPoolOnce sync.Once
)

// 打标并发池进程级共享，多文档并行摄取时也不会超过上限。
func getTaggingPool() *ants.Pool {
	taggingPoolOnce.Do(func() {
		taggingPool, _ = ants.NewPool(remoteTagConcurrency)
	})
	return taggingPool
}

// DocTagger 文档级标签生成器。
// 启发式标签永远计算；远端模型可用时两者合并。
type DocTagger struct {
	retry *resilience.RetryConfig
}

// NewDocTagger 创建打标器。远端重试固定为 3 次尝试、1s/2s/4s 退避。
func NewDocTagger() *DocTagger {
	return &DocTagger{
		retry: &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Second,
			MaxDelay:        10 * time.Second,
			Multiplier:      2.0,
			RetryableErrors: func(error) bool { return true },
		},
	}
}

// HeuristicTags 基于词频加权的本地标签抽取：
// 分块主题标签权重 3，文档标题与章节标题权重 2，正文词权重 1。
func (g *DocTagger) HeuristicTags(doc *model.Document, chunks []*model.Chunk, sections []*model.DocumentSection) []string {
	scores := make(map[string]int)
	display := make(map[string]string)

	add := func(term string, weight int) {
		term = strings.TrimSpace(term)
		if term == "" || textutil.IsStopWord(term) {
			return
		}
		key := strings.ToLower(term)
		scores[key] += weight
		if _, ok := display[key]; !ok {
			display[key] = term
		}
	}

	for _, tok := range textutil.Tokenize(doc.Title) {
		add(tok, 2)
	}
	for _, sec := range sections {
		for _, tok := range textutil.Tokenize(sec.Title) {
			add(tok, 2)
		}
	}
	for _, c := range chunks {
		for _, label := range c.TopicLabels {
			add(label, 3)
		}
		for _, tok := range textutil.Tokenize(c.ContentText) {
			add(tok, 1)
		}
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})

	if len(keys) > maxDocTags {
		keys = keys[:maxDocTags]
	}
	tags := make([]string, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, display[k])
	}
	return tags
}

// RemoteTags 调用打标模型生成标签。重试耗尽返回错误，由调用方决定文档命运。
func (g *DocTagger) RemoteTags(ctx context.Context, provider llm.ChatProvider, doc *model.Document, chunks []*model.Chunk) ([]string, error) {
	prompt := buildTagPrompt(doc, chunks)

	// 并发池按单次尝试占位：退避等待期间不占用池槽，
	// 3 路并发上限约束的是在途的模型调用本身
	var raw string
	attempt := func() error {
		done := make(chan error, 1)
		if err := getTaggingPool().Submit(func() {
			out, err := provider.Generate(ctx, prompt, taggingSystemPrompt)
			if err == nil {
				raw = out
			}
			done <- err
		}); err != nil {
			return fmt.Errorf("提交打标任务失败: %w", err)
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := resilience.RetryWithBackoff(ctx, g.retry, attempt); err != nil {
		return nil, fmt.Errorf("远端打标失败: %w", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &tags); err != nil {
		return nil, fmt.Errorf("打标结果解析失败: %w", err)
	}
	if len(tags) > maxDocTags {
		tags = tags[:maxDocTags]
	}
	return tags, nil
}

// Merge 合并启发式与远端标签：已有在前、生成在后，大小写不敏感去重。
func (g *DocTagger) Merge(heuristic, remote []string) []string {
	return textutil.MergeTags(heuristic, remote, maxDocTags)
}

func buildTagPrompt(doc *model.Document, chunks []*model.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "标题: %s\n\n正文片段:\n", doc.Title)
	for i, c := range chunks {
		if i >= maxTagSnippets {
			break
		}
		fmt.Fprintf(&b, "- %s\n", textutil.TruncateString(textutil.CollapseWhitespace(c.ContentText), tagSnippetMaxLen))
	}
	return b.String()
}
