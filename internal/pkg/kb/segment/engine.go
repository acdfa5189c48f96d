package segment

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
)

var (
	// ErrSegmenterNotConfigured 语义切分模型未配置。
	ErrSegmenterNotConfigured = errors.New("semantic segmentation model not configured")
	// ErrNoSections 整篇文档未产出任何章节。
	ErrNoSections = errors.New("segmentation produced no sections")
)

// ModelSection 语义切分模型返回的章节。
type ModelSection struct {
	Title string
	Path  []string
	Text  string
}

// Segmenter 语义切分模型客户端（structure 角色）。
type Segmenter interface {
	// SplitSections 将一个粗块切分为语义章节。
	SplitSections(ctx context.Context, blockText string) ([]ModelSection, error)
}

// Page 带页码的文本片段。页变更构成强边界。
type Page struct {
	No   int
	Text string
}

// Input 切分输入。
type Input struct {
	DocID    string
	DocTitle string
	// Pages 预处理后的分页文本。无页信息时传单个 No=0 的页。
	Pages []Page
}

// Result 切分产物。
type Result struct {
	Chunks   []*model.Chunk
	Sections []*model.DocumentSection
}

// Mode 切分模式。
type Mode string

const (
	// ModeHeuristic 纯启发式切分，不依赖模型。
	ModeHeuristic Mode = "heuristic"
	// ModeModel 语义切分模型驱动，粗块内章节由模型给出。
	ModeModel Mode = "model"
)

// Engine 两阶段切分引擎。
type Engine struct {
	detector  BoundaryDetector
	packer    *Packer
	segmenter Segmenter
	mode      Mode
}

// NewEngine 创建切分引擎。mode 为 ModeModel 时 segmenter 必须在 Segment 调用前配置。
func NewEngine(det BoundaryDetector, packer *Packer, segmenter Segmenter, mode Mode) *Engine {
	if det == nil {
		det = NewHeuristicDetector()
	}
	if packer == nil {
		packer = NewPacker(0)
	}
	if mode == "" {
		mode = ModeHeuristic
	}
	return &Engine{detector: det, packer: packer, segmenter: segmenter, mode: mode}
}

// Segment 执行切分，产出分块与章节大纲。
// 模型模式下单个粗块的模型失败降级为整块一个章节；
// 全文档零章节为终态错误。
func (e *Engine) Segment(ctx context.Context, in Input) (*Result, error) {
	if e.mode == ModeModel && e.segmenter == nil {
		return nil, ErrSegmenterNotConfigured
	}

	res := &Result{}
	segIdx := 0
	orderNo := 0
	// 按层级维护祖先章节，用于 parent 链接与路径
	var ancestry []*model.DocumentSection

	for _, page := range in.Pages {
		for _, block := range BuildCoarseBlocks(page.Text, e.detector) {
			block.PageNo = page.No
			sections := e.blockSections(ctx, block)
			for _, sec := range sections {
				level := sec.level
				if level <= 0 {
					level = 1
				}
				for len(ancestry) > 0 && ancestry[len(ancestry)-1].Level >= level {
					ancestry = ancestry[:len(ancestry)-1]
				}
				section := &model.DocumentSection{
					SectionID: uuid.NewString(),
					DocID:     in.DocID,
					Title:     sec.title,
					Level:     level,
					OrderNo:   orderNo,
				}
				orderNo++
				if len(ancestry) > 0 {
					parent := ancestry[len(ancestry)-1]
					section.ParentSectionID = parent.SectionID
					section.Path = append(append(model.StringSlice{}, parent.Path...), sec.title)
				} else {
					section.Path = model.StringSlice{sec.title}
				}
				ancestry = append(ancestry, section)
				res.Sections = append(res.Sections, section)

				for _, text := range e.packer.Pack(sec.paragraphs) {
					chunk := &model.Chunk{
						ChunkID:         uuid.NewString(),
						DocID:           in.DocID,
						HierPath:        e.hierPath(in, segIdx, sec, section),
						SectionTitle:    sec.title,
						ContentText:     text,
						ContentType:     model.ContentTypeText,
						PageNo:          block.PageNo,
						ParentSectionID: section.SectionID,
						ParentSectionPath: append(model.StringSlice{},
							section.Path...),
					}
					res.Chunks = append(res.Chunks, chunk)
					segIdx++
				}
			}
		}
	}

	if len(res.Sections) == 0 {
		return nil, ErrNoSections
	}
	return res, nil
}

// blockSection 引擎内部的章节表示。
type blockSection struct {
	title      string
	level      int
	path       []string
	paragraphs []string
}

// blockSections 将一个粗块展开为章节列表。
func (e *Engine) blockSections(ctx context.Context, block Block) []blockSection {
	fallback := []blockSection{{
		title:      block.Title,
		level:      block.Level,
		paragraphs: block.Paragraphs,
	}}

	if e.mode != ModeModel {
		return fallback
	}

	text := strings.Join(block.Paragraphs, "\n\n")
	sections, err := e.segmenter.SplitSections(ctx, text)
	if err != nil {
		logger.Warnw("semantic segmenter failed, keeping block as one section",
			"block_title", block.Title, "error", err.Error())
		return fallback
	}
	if len(sections) == 0 {
		return fallback
	}

	out := make([]blockSection, 0, len(sections))
	for _, sec := range sections {
		if strings.TrimSpace(sec.Text) == "" {
			continue
		}
		title := sec.Title
		if title == "" {
			title = block.Title
		}
		out = append(out, blockSection{
			title:      title,
			level:      maxInt(block.Level, 1),
			path:       sec.Path,
			paragraphs: ReflowParagraphs(strings.Split(sec.Text, "\n")),
		})
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// hierPath 启发式模式为 [段序号, 标题]；模型模式为 [文档标题, ...章节路径, 标题]。
func (e *Engine) hierPath(in Input, segIdx int, sec blockSection, section *model.DocumentSection) model.StringSlice {
	if e.mode == ModeModel {
		path := model.StringSlice{in.DocTitle}
		path = append(path, sec.path...)
		path = append(path, sec.title)
		return path
	}
	title := sec.title
	if title == "" {
		title = in.DocTitle
	}
	return model.StringSlice{strconv.Itoa(segIdx), title}
}

// EstimateChunkTokens 返回分块的估算 token 数，用于质量检查。
func EstimateChunkTokens(c *model.Chunk) int {
	return textutil.EstimateTokens(c.ContentText)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

