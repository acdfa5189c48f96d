package biz

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/modelrole"
	"github.com/kart-io/knowbase/internal/pkg/kb/parsing"
	"github.com/kart-io/knowbase/internal/pkg/kb/segment"
	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
	"github.com/kart-io/knowbase/internal/worker/metrics"
	"github.com/kart-io/knowbase/internal/worker/store"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/vector"
)

// ErrNoContent 文档全通道无产出，任务不可重投。
var ErrNoContent = errors.New("文档未产出任何内容")

// PipelineConfig 流水线配置。
type PipelineConfig struct {
	// OCREnabled 是否允许 PDF 的 OCR 回退。
	OCREnabled bool
	// ChunkMaxTokens 分块 token 上限，0 用默认值。
	ChunkMaxTokens int
	// MetadataLimit 单文档参与元数据富化的分块数上限，0 表示不限。
	MetadataLimit int
	// EmbedCache 可选的向量缓存包装，nil 表示不缓存。
	EmbedCache func(llm.EmbeddingProvider) llm.EmbeddingProvider
	// ImageEmbedder 图片向量化客户端，nil 时使用确定性降级实现。
	ImageEmbedder vector.Client
	// Observer 阶段回调，可为 nil。
	Observer Observer
}

// Pipeline 摄取流水线编排器。一次任务按固定阶段推进：
// parsing → preprocess → chunking → tagging_meta → embedding → persisting。
type Pipeline struct {
	stores      store.Factory
	index       store.VectorIndex
	objects     store.ObjectStore
	resolver    *modelrole.Resolver
	extractor   *parsing.Extractor
	tagger      *DocTagger
	enricher    *ChunkEnricher
	attachments *AttachmentBuilder
	cfg         PipelineConfig
}

// NewPipeline 创建流水线。
func NewPipeline(
	stores store.Factory,
	index store.VectorIndex,
	objects store.ObjectStore,
	resolver *modelrole.Resolver,
	extractor *parsing.Extractor,
	cfg PipelineConfig,
) *Pipeline {
	if extractor == nil {
		extractor = parsing.NewExtractor(nil, nil, false)
	}
	return &Pipeline{
		stores:      stores,
		index:       index,
		objects:     objects,
		resolver:    resolver,
		extractor:   extractor,
		tagger:      NewDocTagger(),
		enricher:    NewChunkEnricher(),
		attachments: NewAttachmentBuilder(objects),
		cfg:         cfg,
	}
}

// HandleTask 实现 store.TaskHandler。
func (p *Pipeline) HandleTask(ctx context.Context, task *model.IngestionTask) error {
	began := time.Now()
	err := p.process(ctx, task)
	metrics.GetIngestMetrics().RecordTask(err)
	if err != nil {
		logger.Errorw("ingestion task failed",
			"doc_id", task.DocID, "job_id", task.JobID, "elapsed", time.Since(began), "error", err)
		return err
	}
	logger.Infow("ingestion task completed",
		"doc_id", task.DocID, "job_id", task.JobID, "elapsed", time.Since(began))
	return nil
}

func (p *Pipeline) process(ctx context.Context, task *model.IngestionTask) error {
	doc, err := p.stores.Documents().Get(ctx, task.DocID)
	if err != nil {
		return err
	}
	tracker := NewStageTracker(p.stores.Documents(), doc.DocID, p.cfg.Observer)

	// 1. 解析
	result, err := p.runParsing(ctx, tracker, doc)
	if err != nil {
		return p.fail(ctx, tracker, err)
	}
	if len(result.Elements) == 0 {
		// 全通道无产出：终态失败且不重投，重试不会改变结果
		return p.fail(ctx, tracker, store.NonRetryable(ErrNoContent))
	}

	// 2. 预处理
	pages, err := p.runPreprocess(ctx, tracker, result.Elements)
	if err != nil {
		return p.fail(ctx, tracker, err)
	}

	// 3. 切分：文本走切分引擎，图片元素直接构建 image 分块
	segRes, fragments, err := p.runChunking(ctx, tracker, doc, pages, result.Elements)
	if err != nil {
		if errors.Is(err, segment.ErrNoSections) {
			err = store.NonRetryable(err)
		}
		return p.fail(ctx, tracker, err)
	}

	// 4. 打标与元数据富化
	tags, err := p.runTagging(ctx, tracker, doc, segRes)
	if err != nil {
		return p.fail(ctx, tracker, err)
	}

	// 5. 向量化
	embRes, err := p.runEmbedding(ctx, tracker, doc, segRes.Chunks, fragments)
	if err != nil {
		// 整文档失败的补记日志仍然落库，供审计定位
		p.persistFailureLogs(ctx, doc, segRes, tags, embRes)
		return p.fail(ctx, tracker, err)
	}

	// 6. 持久化
	if err := p.runPersisting(ctx, tracker, doc, segRes, tags, embRes, result.Elements, fragments); err != nil {
		return p.fail(ctx, tracker, err)
	}

	return tracker.Complete(ctx)
}

func (p *Pipeline) fail(ctx context.Context, tracker *StageTracker, cause error) error {
	if err := tracker.Fail(ctx, cause); err != nil {
		logger.Errorw("marking document failed", "doc_id", tracker.docID, "error", err)
	}
	return cause
}

func (p *Pipeline) runParsing(ctx context.Context, tracker *StageTracker, doc *model.Document) (*parsing.Result, error) {
	if err := tracker.Enter(ctx, StageParsing, nil); err != nil {
		return nil, err
	}
	began := time.Now()

	raw, err := p.objects.Get(ctx, rawObjectKey(doc))
	if err != nil {
		metrics.GetIngestMetrics().RecordStage(string(StageParsing), 0, err)
		return nil, fmt.Errorf("读取原始文件失败: %w", err)
	}

	result, err := p.extractor.Extract(ctx, parsing.Input{
		DocID:    doc.DocID,
		FileName: fileNameOf(doc),
		MimeType: doc.MimeType,
		Language: doc.Language,
		Data:     raw,
	})
	metrics.GetIngestMetrics().RecordStage(string(StageParsing), time.Since(began), err)
	if err != nil {
		return nil, err
	}

	if result.UsedOCR {
		metrics.GetIngestMetrics().RecordOCRFallback()
	}
	for i := 0; i < result.Discarded; i++ {
		metrics.GetIngestMetrics().RecordTrivialDiscard()
	}
	return result, nil
}

func (p *Pipeline) runPreprocess(ctx context.Context, tracker *StageTracker, elements []parsing.Element) ([]segment.Page, error) {
	began := time.Now()

	// 逐页聚合元素文本，标题还原为 markdown 以便边界探测
	byPage := make(map[int][]string)
	var order []int
	removed := 0
	for _, el := range elements {
		cleaned := textutil.Preprocess(el.Text)
		removed += cleaned.RemovedCharacters
		text := cleaned.Text
		if text == "" {
			continue
		}
		if el.Type == parsing.ElementTypeHeading {
			level := el.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			text = strings.Repeat("#", level) + " " + text
		}
		if _, ok := byPage[el.PageNo]; !ok {
			order = append(order, el.PageNo)
		}
		byPage[el.PageNo] = append(byPage[el.PageNo], text)
	}

	pages := make([]segment.Page, 0, len(order))
	for _, no := range order {
		pages = append(pages, segment.Page{No: no, Text: strings.Join(byPage[no], "\n\n")})
	}

	// 清洗统计随阶段转移写入时间线
	if err := tracker.Enter(ctx, StagePreprocess, model.JSONMap{"removed_chars": removed}); err != nil {
		return nil, err
	}
	metrics.GetIngestMetrics().RecordStage(string(StagePreprocess), time.Since(began), nil)
	return pages, nil
}

func (p *Pipeline) runChunking(ctx context.Context, tracker *StageTracker, doc *model.Document, pages []segment.Page, elements []parsing.Element) (*segment.Result, []*ImageFragment, error) {
	if err := tracker.Enter(ctx, StageChunking, nil); err != nil {
		return nil, nil, err
	}
	began := time.Now()

	fragments := BuildImageFragments(doc, elements)

	// 纯图片文档没有可切分文本，跳过切分引擎直接使用图片分块
	res := &segment.Result{}
	if len(pages) > 0 {
		mode := segment.ModeHeuristic
		var segmenter segment.Segmenter

		provider, _, err := p.resolver.ChatProvider(ctx, doc.TenantID, doc.LibraryID, model.RoleStructure)
		switch {
		case err != nil && errors.Is(err, modelrole.ErrNotConfigured):
			// 未配置语义切分模型时回落启发式
		case err != nil:
			metrics.GetIngestMetrics().RecordStage(string(StageChunking), 0, err)
			return nil, nil, err
		case provider != nil:
			mode = segment.ModeModel
			segmenter = NewChatSegmenter(provider)
		}

		engine := segment.NewEngine(nil, segment.NewPacker(p.cfg.ChunkMaxTokens), segmenter, mode)
		res, err = engine.Segment(ctx, segment.Input{
			DocID:    doc.DocID,
			DocTitle: doc.Title,
			Pages:    pages,
		})
		if err != nil {
			metrics.GetIngestMetrics().RecordStage(string(StageChunking), time.Since(began), err)
			return nil, nil, err
		}
	}

	for _, frag := range fragments {
		res.Chunks = append(res.Chunks, frag.Chunk)
	}
	if len(res.Chunks) == 0 {
		err := segment.ErrNoSections
		metrics.GetIngestMetrics().RecordStage(string(StageChunking), time.Since(began), err)
		return nil, nil, err
	}

	metrics.GetIngestMetrics().RecordStage(string(StageChunking), time.Since(began), nil)
	return res, fragments, nil
}

func (p *Pipeline) runTagging(ctx context.Context, tracker *StageTracker, doc *model.Document, segRes *segment.Result) ([]string, error) {
	if err := tracker.Enter(ctx, StageTagging, nil); err != nil {
		return nil, err
	}
	began := time.Now()

	// 分块级元数据先行：启发式文档标签依赖富化产出的主题标签。
	// metadata 角色未配置时整体跳过，分块保持未富化；
	// local 供应商走 Enrich 内部的启发式路径。
	metaProvider, _, err := p.resolver.ChatProvider(ctx, doc.TenantID, doc.LibraryID, model.RoleMetadata)
	switch {
	case err != nil && errors.Is(err, modelrole.ErrNotConfigured):
	case err != nil:
		metrics.GetIngestMetrics().RecordStage(string(StageTagging), 0, err)
		return nil, err
	default:
		for i, meta := range p.enricher.Enrich(ctx, metaProvider, segRes.Chunks, p.cfg.MetadataLimit) {
			p.enricher.Apply(segRes.Chunks[i], meta)
		}
	}

	heuristic := p.tagger.HeuristicTags(doc, segRes.Chunks, segRes.Sections)
	autoTags := heuristic

	provider, _, err := p.resolver.ChatProvider(ctx, doc.TenantID, doc.LibraryID, model.RoleTagging)
	switch {
	case err != nil && errors.Is(err, modelrole.ErrNotConfigured):
	case err != nil:
		metrics.GetIngestMetrics().RecordStage(string(StageTagging), 0, err)
		return nil, err
	case provider != nil:
		remote, rerr := p.tagger.RemoteTags(ctx, provider, doc, segRes.Chunks)
		metrics.GetIngestMetrics().RecordModelCall(rerr)
		if rerr != nil {
			// 重试已在 RemoteTags 内耗尽，文档级失败
			metrics.GetIngestMetrics().RecordStage(string(StageTagging), 0, rerr)
			return nil, rerr
		}
		autoTags = p.tagger.Merge(heuristic, remote)
	}

	// 上传时携带的标签优先保留，生成标签补足到上限
	tags := textutil.MergeTags(doc.Tags, autoTags, maxDocTags)

	metrics.GetIngestMetrics().RecordStage(string(StageTagging), time.Since(began), nil)
	return tags, nil
}

func (p *Pipeline) runEmbedding(ctx context.Context, tracker *StageTracker, doc *model.Document, chunks []*model.Chunk, fragments []*ImageFragment) (*EmbedResult, error) {
	if err := tracker.Enter(ctx, StageEmbedding, nil); err != nil {
		return nil, err
	}
	began := time.Now()

	provider, setting, err := p.resolver.EmbeddingProvider(ctx, doc.TenantID, doc.LibraryID, model.RoleEmbedding)
	if err != nil && !errors.Is(err, modelrole.ErrNotConfigured) {
		metrics.GetIngestMetrics().RecordStage(string(StageEmbedding), 0, err)
		return nil, err
	}
	if provider == nil {
		// 未配置或 local：进程内确定性向量，保证流水线可独立运行
		provider = newLocalEmbeddingProvider()
	}
	if p.cfg.EmbedCache != nil {
		provider = p.cfg.EmbedCache(provider)
	}

	res, err := NewEmbedder(provider, p.cfg.ImageEmbedder, setting).EmbedChunks(ctx, chunks, fragments)
	metrics.GetIngestMetrics().RecordModelCall(err)
	metrics.GetIngestMetrics().RecordStage(string(StageEmbedding), time.Since(began), err)
	return res, err
}

func (p *Pipeline) runPersisting(
	ctx context.Context,
	tracker *StageTracker,
	doc *model.Document,
	segRes *segment.Result,
	tags []string,
	embRes *EmbedResult,
	elements []parsing.Element,
	fragments []*ImageFragment,
) error {
	if err := tracker.Enter(ctx, StagePersisting, nil); err != nil {
		return err
	}
	began := time.Now()

	attachments, err := p.attachments.Build(ctx, doc, elements, fragments)
	if err != nil {
		metrics.GetIngestMetrics().RecordStage(string(StagePersisting), 0, err)
		return err
	}

	doc.Tags = model.StringSlice(tags)
	bundle := &model.KnowledgeBundle{
		Document:    doc,
		Chunks:      segRes.Chunks,
		Sections:    segRes.Sections,
		Embeddings:  embRes.Embeddings,
		Attachments: attachments,
		VectorLogs:  embRes.Logs,
	}
	if err := p.stores.Bundles().PersistBundle(ctx, bundle); err != nil {
		metrics.GetIngestMetrics().RecordStage(string(StagePersisting), 0, err)
		return err
	}

	if p.index != nil && len(embRes.Embeddings) > 0 {
		dim := embRes.Embeddings[0].Dim
		if err := p.index.EnsureCollection(ctx, dim); err != nil {
			metrics.GetIngestMetrics().RecordStage(string(StagePersisting), 0, err)
			return err
		}
		if err := p.index.DeleteByDoc(ctx, doc.DocID); err != nil {
			metrics.GetIngestMetrics().RecordStage(string(StagePersisting), 0, err)
			return err
		}
		if err := p.index.UpsertChunks(ctx, doc, segRes.Chunks, embRes.Embeddings); err != nil {
			metrics.GetIngestMetrics().RecordStage(string(StagePersisting), 0, err)
			return err
		}
	}

	metrics.GetIngestMetrics().RecordStage(string(StagePersisting), time.Since(began), nil)
	metrics.GetIngestMetrics().RecordIndexed(len(segRes.Chunks), len(segRes.Sections))
	return nil
}

// persistFailureLogs 向量化失败后仍落库分块与补记的失败日志。
func (p *Pipeline) persistFailureLogs(ctx context.Context, doc *model.Document, segRes *segment.Result, tags []string, embRes *EmbedResult) {
	if embRes == nil || len(embRes.Logs) == 0 {
		return
	}
	doc.Tags = model.StringSlice(tags)
	bundle := &model.KnowledgeBundle{
		Document:   doc,
		Chunks:     segRes.Chunks,
		Sections:   segRes.Sections,
		VectorLogs: embRes.Logs,
	}
	if err := p.stores.Bundles().PersistBundle(ctx, bundle); err != nil {
		logger.Errorw("persisting failure logs", "doc_id", doc.DocID, "error", err)
	}
}

// rawObjectKey 原始文件的对象键。SourceURI 已是对象键时直接使用。
func rawObjectKey(doc *model.Document) string {
	if doc.SourceURI != "" && !strings.Contains(doc.SourceURI, "://") {
		return doc.SourceURI
	}
	return path.Join(doc.TenantID, doc.DocID, "raw", fileNameOf(doc))
}

func fileNameOf(doc *model.Document) string {
	if doc.SourceURI != "" {
		return path.Base(doc.SourceURI)
	}
	return doc.Title
}

// localEmbeddingProvider 进程内确定性向量实现，复用 vector 包的哈希向量。
type localEmbeddingProvider struct {
	client *vector.FallbackClient
}

func newLocalEmbeddingProvider() *localEmbeddingProvider {
	return &localEmbeddingProvider{client: vector.NewFallbackClient(0)}
}

func (l *localEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := l.client.EmbedText(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		row := make([]float32, len(v))
		for j, x := range v {
			row[j] = float32(x)
		}
		out[i] = row
	}
	return out, nil
}

func (l *localEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := l.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (l *localEmbeddingProvider) Name() string { return "local" }

var _ llm.EmbeddingProvider = (*localEmbeddingProvider)(nil)
