// Package metrics 提供摄取 worker 的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IngestMetrics 摄取流水线业务指标。
type IngestMetrics struct {
	// 任务指标
	tasksTotal     uint64 // 总处理任务数
	tasksCompleted uint64 // 成功完成任务数
	tasksFailed    uint64 // 失败任务数
	tasksRetried   uint64 // 重投任务数

	// 阶段指标
	stageDuration map[string]*float64 // 各阶段总耗时（秒）
	stageErrors   map[string]*uint64  // 各阶段错误次数

	// 解析指标
	ocrFallbacks     uint64 // OCR 回退次数
	trivialDiscarded uint64 // 琐碎解析结果丢弃次数

	// 产出指标
	documentsIndexed uint64 // 已索引文档数
	chunksIndexed    uint64 // 已索引分块数
	sectionsIndexed  uint64 // 已索引章节数

	// 模型调用指标
	modelCallsTotal  uint64 // 模型总调用次数
	modelCallsErrors uint64 // 模型调用错误次数
	modelCallRetries uint64 // 模型重试次数

	startTime  time.Time
	durationMu sync.Mutex
}

var pipelineStages = []string{
	"parsing", "preprocess", "chunking", "tagging_meta", "embedding", "persisting",
}

var (
	globalIngestMetrics *IngestMetrics
	ingestMetricsOnce   sync.Once
)

// GetIngestMetrics 获取全局摄取指标实例。
func GetIngestMetrics() *IngestMetrics {
	ingestMetricsOnce.Do(func() {
		globalIngestMetrics = newIngestMetrics()
	})
	return globalIngestMetrics
}

func newIngestMetrics() *IngestMetrics {
	m := &IngestMetrics{
		startTime:     time.Now(),
		stageDuration: make(map[string]*float64, len(pipelineStages)),
		stageErrors:   make(map[string]*uint64, len(pipelineStages)),
	}
	for _, s := range pipelineStages {
		m.stageDuration[s] = new(float64)
		m.stageErrors[s] = new(uint64)
	}
	return m
}

// RecordTask 记录一次任务结束。
func (m *IngestMetrics) RecordTask(err error) {
	atomic.AddUint64(&m.tasksTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.tasksFailed, 1)
		return
	}
	atomic.AddUint64(&m.tasksCompleted, 1)
}

// RecordRetry 记录任务重投。
func (m *IngestMetrics) RecordRetry() {
	atomic.AddUint64(&m.tasksRetried, 1)
}

// RecordStage 记录阶段耗时与结果。
func (m *IngestMetrics) RecordStage(stage string, duration time.Duration, err error) {
	if err != nil {
		if c, ok := m.stageErrors[stage]; ok {
			atomic.AddUint64(c, 1)
		}
		return
	}
	if d, ok := m.stageDuration[stage]; ok {
		m.durationMu.Lock()
		*d += duration.Seconds()
		m.durationMu.Unlock()
	}
}

// RecordOCRFallback 记录 OCR 回退。
func (m *IngestMetrics) RecordOCRFallback() {
	atomic.AddUint64(&m.ocrFallbacks, 1)
}

// RecordTrivialDiscard 记录琐碎解析结果丢弃。
func (m *IngestMetrics) RecordTrivialDiscard() {
	atomic.AddUint64(&m.trivialDiscarded, 1)
}

// RecordIndexed 记录一个文档的索引产出。
func (m *IngestMetrics) RecordIndexed(chunks, sections int) {
	atomic.AddUint64(&m.documentsIndexed, 1)
	atomic.AddUint64(&m.chunksIndexed, uint64(chunks))
	atomic.AddUint64(&m.sectionsIndexed, uint64(sections))
}

// RecordModelCall 记录一次模型调用。
func (m *IngestMetrics) RecordModelCall(err error) {
	atomic.AddUint64(&m.modelCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.modelCallsErrors, 1)
	}
}

// RecordModelRetry 记录模型重试。
func (m *IngestMetrics) RecordModelRetry() {
	atomic.AddUint64(&m.modelCallRetries, 1)
}

// Stats 返回当前指标快照。
func (m *IngestMetrics) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"tasks_total":        atomic.LoadUint64(&m.tasksTotal),
		"tasks_completed":    atomic.LoadUint64(&m.tasksCompleted),
		"tasks_failed":       atomic.LoadUint64(&m.tasksFailed),
		"tasks_retried":      atomic.LoadUint64(&m.tasksRetried),
		"ocr_fallbacks":      atomic.LoadUint64(&m.ocrFallbacks),
		"trivial_discarded":  atomic.LoadUint64(&m.trivialDiscarded),
		"documents_indexed":  atomic.LoadUint64(&m.documentsIndexed),
		"chunks_indexed":     atomic.LoadUint64(&m.chunksIndexed),
		"sections_indexed":   atomic.LoadUint64(&m.sectionsIndexed),
		"model_calls_total":  atomic.LoadUint64(&m.modelCallsTotal),
		"model_calls_errors": atomic.LoadUint64(&m.modelCallsErrors),
		"model_call_retries": atomic.LoadUint64(&m.modelCallRetries),
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
	}

	m.durationMu.Lock()
	for _, s := range pipelineStages {
		stats["stage_duration_seconds_"+s] = *m.stageDuration[s]
	}
	m.durationMu.Unlock()
	for _, s := range pipelineStages {
		stats["stage_errors_"+s] = atomic.LoadUint64(m.stageErrors[s])
	}

	return stats
}

// Export 以 Prometheus 文本格式导出指标。
func (m *IngestMetrics) Export() string {
	var b strings.Builder

	writeCounter := func(name, help string, value uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, value)
	}

	writeCounter("ingest_tasks_total", "Total ingestion tasks processed.", atomic.LoadUint64(&m.tasksTotal))
	writeCounter("ingest_tasks_completed", "Ingestion tasks completed successfully.", atomic.LoadUint64(&m.tasksCompleted))
	writeCounter("ingest_tasks_failed", "Ingestion tasks failed.", atomic.LoadUint64(&m.tasksFailed))
	writeCounter("ingest_tasks_retried", "Ingestion tasks redelivered.", atomic.LoadUint64(&m.tasksRetried))
	writeCounter("ingest_ocr_fallbacks_total", "OCR fallback activations.", atomic.LoadUint64(&m.ocrFallbacks))
	writeCounter("ingest_trivial_discarded_total", "Trivial parse results discarded.", atomic.LoadUint64(&m.trivialDiscarded))
	writeCounter("ingest_documents_indexed", "Documents fully indexed.", atomic.LoadUint64(&m.documentsIndexed))
	writeCounter("ingest_chunks_indexed", "Chunks persisted to the index.", atomic.LoadUint64(&m.chunksIndexed))
	writeCounter("ingest_model_calls_total", "Model calls issued by the pipeline.", atomic.LoadUint64(&m.modelCallsTotal))
	writeCounter("ingest_model_calls_errors", "Model calls that returned an error.", atomic.LoadUint64(&m.modelCallsErrors))

	fmt.Fprintf(&b, "# HELP ingest_stage_duration_seconds Cumulative stage duration in seconds.\n")
	fmt.Fprintf(&b, "# TYPE ingest_stage_duration_seconds counter\n")
	m.durationMu.Lock()
	for _, s := range pipelineStages {
		fmt.Fprintf(&b, "ingest_stage_duration_seconds{stage=%q} %f\n", s, *m.stageDuration[s])
	}
	m.durationMu.Unlock()

	fmt.Fprintf(&b, "# HELP ingest_stage_errors_total Stage errors by stage.\n")
	fmt.Fprintf(&b, "# TYPE ingest_stage_errors_total counter\n")
	for _, s := range pipelineStages {
		fmt.Fprintf(&b, "ingest_stage_errors_total{stage=%q} %d\n", s, atomic.LoadUint64(m.stageErrors[s]))
	}

	return b.String()
}

// Reset 重置所有指标，仅用于测试。
func (m *IngestMetrics) Reset() {
	atomic.StoreUint64(&m.tasksTotal, 0)
	atomic.StoreUint64(&m.tasksCompleted, 0)
	atomic.StoreUint64(&m.tasksFailed, 0)
	atomic.StoreUint64(&m.tasksRetried, 0)
	atomic.StoreUint64(&m.ocrFallbacks, 0)
	atomic.StoreUint64(&m.trivialDiscarded, 0)
	atomic.StoreUint64(&m.documentsIndexed, 0)
	atomic.StoreUint64(&m.chunksIndexed, 0)
	atomic.StoreUint64(&m.sectionsIndexed, 0)
	atomic.StoreUint64(&m.modelCallsTotal, 0)
	atomic.StoreUint64(&m.modelCallsErrors, 0)
	atomic.StoreUint64(&m.modelCallRetries, 0)

	m.durationMu.Lock()
	for _, s := range pipelineStages {
		*m.stageDuration[s] = 0
	}
	m.durationMu.Unlock()
	for _, s := range pipelineStages {
		atomic.StoreUint64(m.stageErrors[s], 0)
	}
}
