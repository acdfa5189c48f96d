package segment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
)

func TestHeuristicDetector(t *testing.T) {
	det := NewHeuristicDetector()

	tests := []struct {
		name      string
		line      string
		wantTitle string
		wantLevel int
		wantOK    bool
	}{
		{
			name:      "Markdown 一级标题",
			line:      "# Overview",
			wantTitle: "Overview",
			wantLevel: 1,
			wantOK:    true,
		},
		{
			name:      "编号标题",
			line:      "2.1 Payment Terms",
			wantTitle: "Payment Terms",
			wantLevel: 2,
			wantOK:    true,
		},
		{
			name:      "Chapter 标题",
			line:      "Chapter 3: Delivery",
			wantTitle: "Delivery",
			wantLevel: 1,
			wantOK:    true,
		},
		{
			name:      "中文章节标题",
			line:      "第三章 交付条款",
			wantTitle: "交付条款",
			wantLevel: 1,
			wantOK:    true,
		},
		{
			name:      "短行视为标题",
			line:      "Appendix",
			wantTitle: "Appendix",
			wantLevel: 3,
			wantOK:    true,
		},
		{
			name:   "普通长句不是标题",
			line:   "This paragraph describes the obligations of both parties in detail.",
			wantOK: false,
		},
		{
			name:   "带句号的短句不是标题",
			line:   "It works.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, level, ok := det.DetectHeading(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTitle, title)
				assert.Equal(t, tt.wantLevel, level)
			}
		})
	}
}

func TestReflowParagraphs(t *testing.T) {
	t.Run("空行分段与软换行合并", func(t *testing.T) {
		lines := []string{
			"The first sentence continues",
			"on the next line.",
			"",
			"Second paragraph here.",
		}
		got := ReflowParagraphs(lines)
		require.Len(t, got, 2)
		assert.Equal(t, "The first sentence continues on the next line.", got[0])
		assert.Equal(t, "Second paragraph here.", got[1])
	})

	t.Run("连字符换行重接", func(t *testing.T) {
		lines := []string{"An exam-", "ple of hyphenation."}
		got := ReflowParagraphs(lines)
		require.Len(t, got, 1)
		assert.Equal(t, "An example of hyphenation.", got[0])
	})

	t.Run("噪声短行被丢弃", func(t *testing.T) {
		lines := []string{"ok", "A real paragraph with content."}
		got := ReflowParagraphs(lines)
		require.Len(t, got, 1)
		assert.Equal(t, "A real paragraph with content.", got[0])
	})

	t.Run("围栏整体保留", func(t *testing.T) {
		lines := []string{"```go", "x := 1", "```"}
		got := ReflowParagraphs(lines)
		require.Len(t, got, 1)
		assert.Equal(t, "```go\nx := 1\n```", got[0])
	})
}

func TestBuildCoarseBlocks(t *testing.T) {
	text := "# Introduction\n\nThe opening paragraph of the document.\n\n# Terms\n\nPayment is due within thirty days."
	blocks := BuildCoarseBlocks(text, nil)

	require.Len(t, blocks, 2)
	assert.Equal(t, "Introduction", blocks[0].Title)
	assert.Equal(t, 1, blocks[0].Level)
	assert.Equal(t, []string{"The opening paragraph of the document."}, blocks[0].Paragraphs)
	assert.Equal(t, "Terms", blocks[1].Title)
}

func TestPackerTokenBound(t *testing.T) {
	words := make([]string, 120)
	for i := range words {
		words[i] = "word"
	}
	paragraphs := []string{
		strings.Join(words[:50], " "),
		strings.Join(words[:50], " "),
		strings.Join(words, " "), // 单段超限
	}

	p := NewPacker(60)
	segments := p.Pack(paragraphs)
	require.NotEmpty(t, segments)
	for _, seg := range segments {
		assert.LessOrEqual(t, textutil.EstimateTokens(seg), 60,
			"every segment must respect the token bound")
	}
}

func TestPackerKeepsFencedBlockIntact(t *testing.T) {
	fence := "```\n" + strings.Repeat("code line here\n", 40) + "```"
	p := NewPacker(10)
	segments := p.Pack([]string{fence})
	require.Len(t, segments, 1)
	assert.Equal(t, fence, segments[0])
}

func TestPackerNoContentLoss(t *testing.T) {
	paragraphs := []string{
		"Alpha beta gamma delta epsilon.",
		"Zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau.",
	}
	p := NewPacker(5)
	segments := p.Pack(paragraphs)

	joined := strings.Join(segments, " ")
	for _, para := range paragraphs {
		for _, word := range strings.Fields(para) {
			assert.Contains(t, joined, word)
		}
	}
}

func TestEngineHeuristicMode(t *testing.T) {
	e := NewEngine(nil, NewPacker(100), nil, ModeHeuristic)
	text := "# Scope\n\nThis agreement covers managed hosting services.\n\n## Fees\n\nFees are billed monthly in arrears to the customer."

	res, err := e.Segment(context.Background(), Input{
		DocID:    "doc-1",
		DocTitle: "Service Agreement",
		Pages:    []Page{{No: 0, Text: text}},
	})
	require.NoError(t, err)
	require.Len(t, res.Sections, 2)
	require.Len(t, res.Chunks, 2)

	assert.Equal(t, "Scope", res.Sections[0].Title)
	assert.Equal(t, "Fees", res.Sections[1].Title)
	assert.Equal(t, res.Sections[0].SectionID, res.Sections[1].ParentSectionID)

	for _, c := range res.Chunks {
		require.NotEmpty(t, c.HierPath, "hierPath must never be empty")
		assert.Equal(t, "doc-1", c.DocID)
		assert.NotEmpty(t, c.ChunkID)
	}
	assert.Equal(t, []string{"0", "Scope"}, []string(res.Chunks[0].HierPath))
}

func TestEngineEmptyDocument(t *testing.T) {
	e := NewEngine(nil, nil, nil, ModeHeuristic)
	_, err := e.Segment(context.Background(), Input{
		DocID: "doc-1",
		Pages: []Page{{No: 0, Text: "   \n\n  "}},
	})
	assert.ErrorIs(t, err, ErrNoSections)
}

func TestEngineModelModeRequiresSegmenter(t *testing.T) {
	e := NewEngine(nil, nil, nil, ModeModel)
	_, err := e.Segment(context.Background(), Input{
		DocID: "doc-1",
		Pages: []Page{{No: 0, Text: "some content for the segmenter"}},
	})
	assert.ErrorIs(t, err, ErrSegmenterNotConfigured)
}

type failingSegmenter struct{}

func (failingSegmenter) SplitSections(context.Context, string) ([]ModelSection, error) {
	return nil, errors.New("model unavailable")
}

func TestEngineModelFailureFallsBackToBlock(t *testing.T) {
	e := NewEngine(nil, NewPacker(100), failingSegmenter{}, ModeModel)
	res, err := e.Segment(context.Background(), Input{
		DocID:    "doc-1",
		DocTitle: "Doc",
		Pages:    []Page{{No: 0, Text: "# Title\n\nBody paragraph that survives the model outage."}},
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Contains(t, res.Chunks[0].ContentText, "survives the model outage")
}

type staticSegmenter struct{ sections []ModelSection }

func (s staticSegmenter) SplitSections(context.Context, string) ([]ModelSection, error) {
	return s.sections, nil
}

func TestEngineModelModeHierPath(t *testing.T) {
	seg := staticSegmenter{sections: []ModelSection{
		{Title: "Billing", Path: []string{"Commercial"}, Text: "Invoices are issued monthly to the account owner."},
	}}
	e := NewEngine(nil, NewPacker(100), seg, ModeModel)
	res, err := e.Segment(context.Background(), Input{
		DocID:    "doc-1",
		DocTitle: "Service Agreement",
		Pages:    []Page{{No: 0, Text: "# Contract\n\nInvoices are issued monthly to the account owner."}},
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t,
		[]string{"Service Agreement", "Commercial", "Billing"},
		[]string(res.Chunks[0].HierPath))
}
