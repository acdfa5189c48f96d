package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordTask(t *testing.T) {
	m := newIngestMetrics()

	m.RecordTask(nil)
	m.RecordTask(nil)
	m.RecordTask(errors.New("boom"))

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats["tasks_total"])
	assert.Equal(t, uint64(2), stats["tasks_completed"])
	assert.Equal(t, uint64(1), stats["tasks_failed"])
}

func TestRecordStage(t *testing.T) {
	m := newIngestMetrics()

	m.RecordStage("parsing", 2*time.Second, nil)
	m.RecordStage("parsing", time.Second, nil)
	m.RecordStage("embedding", 0, errors.New("timeout"))
	m.RecordStage("unknown-stage", time.Second, nil) // 未知阶段静默忽略

	stats := m.Stats()
	assert.InDelta(t, 3.0, stats["stage_duration_seconds_parsing"], 0.001)
	assert.Equal(t, uint64(1), stats["stage_errors_embedding"])
}

func TestRecordIndexed(t *testing.T) {
	m := newIngestMetrics()

	m.RecordIndexed(10, 3)
	m.RecordIndexed(5, 2)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats["documents_indexed"])
	assert.Equal(t, uint64(15), stats["chunks_indexed"])
	assert.Equal(t, uint64(5), stats["sections_indexed"])
}

func TestExportFormat(t *testing.T) {
	m := newIngestMetrics()
	m.RecordTask(nil)
	m.RecordOCRFallback()
	m.RecordStage("chunking", time.Second, nil)

	out := m.Export()
	assert.Contains(t, out, "# TYPE ingest_tasks_total counter")
	assert.Contains(t, out, "ingest_tasks_total 1")
	assert.Contains(t, out, "ingest_ocr_fallbacks_total 1")
	assert.Contains(t, out, `ingest_stage_duration_seconds{stage="chunking"}`)
	assert.False(t, strings.Contains(out, "NaN"))
}

func TestReset(t *testing.T) {
	m := newIngestMetrics()
	m.RecordTask(nil)
	m.RecordStage("parsing", time.Second, nil)

	m.Reset()

	stats := m.Stats()
	assert.Equal(t, uint64(0), stats["tasks_total"])
	assert.InDelta(t, 0.0, stats["stage_duration_seconds_parsing"], 0.001)
}

func TestGetIngestMetricsSingleton(t *testing.T) {
	a := GetIngestMetrics()
	b := GetIngestMetrics()
	assert.Same(t, a, b)
}
