package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/worker/metrics"
)

// MemoryQueue 进程内任务队列，用于单机部署与测试。
// 语义与 RedisQueue 对齐：失败任务按 RetryCount 重投，超限丢弃。
type MemoryQueue struct {
	ch         chan *model.IngestionTask
	maxRetries int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryQueue 创建进程内队列。
func NewMemoryQueue(buffer, maxRetries int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MemoryQueue{
		ch:         make(chan *model.IngestionTask, buffer),
		maxRetries: maxRetries,
		closed:     make(chan struct{}),
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, task *model.IngestionTask) error {
	select {
	case <-q.closed:
		return fmt.Errorf("队列已关闭")
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	}
}

// Consume implements Queue.
func (q *MemoryQueue) Consume(ctx context.Context, handler TaskHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return nil
		case task := <-q.ch:
			err := handler(ctx, task)
			if err == nil || IsNonRetryable(err) {
				continue
			}
			if task.RetryCount >= q.maxRetries {
				logger.Errorw("ingest task exhausted retries", "doc_id", task.DocID, "retry_count", task.RetryCount, "error", err)
				continue
			}
			task.RetryCount++
			metrics.GetIngestMetrics().RecordRetry()
			if enqErr := q.Enqueue(ctx, task); enqErr != nil {
				logger.Errorw("redelivering ingest task failed", "doc_id", task.DocID, "error", enqErr)
			}
		}
	}
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
