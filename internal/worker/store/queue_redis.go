package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/worker/metrics"
)

const (
	defaultStream        = "kb:ingest:tasks"
	defaultConsumerGroup = "kb-ingest-workers"
	defaultBlockTimeout  = 5 * time.Second
)

// RedisQueue 基于 Redis Streams 的摄取任务队列。
// 使用消费组保证同一任务只被一个 worker 处理；处理失败且未超过
// 重投上限的任务会以 RetryCount+1 重新入流。
type RedisQueue struct {
	rdb        *goredis.Client
	stream     string
	group      string
	consumer   string
	maxRetries int
}

// NewRedisQueue 创建 Redis 队列。consumer 为当前 worker 的唯一标识。
func NewRedisQueue(rdb *goredis.Client, consumer string, maxRetries int) *RedisQueue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RedisQueue{
		rdb:        rdb,
		stream:     defaultStream,
		group:      defaultConsumerGroup,
		consumer:   consumer,
		maxRetries: maxRetries,
	}
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task *model.IngestionTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化摄取任务失败: %w", err)
	}
	return q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"task": string(payload)},
	}).Err()
}

// Consume implements Queue.
func (q *RedisQueue) Consume(ctx context.Context, handler TaskHandler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    defaultBlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnw("reading ingest stream failed", "stream", q.stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg goredis.XMessage, handler TaskHandler) {
	// 消息无论处理成败都确认，失败重投通过重新入流实现，
	// 避免毒消息在 pending 列表里无限滞留。
	defer func() {
		if err := q.rdb.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
			logger.Warnw("acking ingest message failed", "message_id", msg.ID, "error", err)
		}
	}()

	raw, ok := msg.Values["task"].(string)
	if !ok {
		logger.Warnw("dropping malformed ingest message", "message_id", msg.ID)
		return
	}

	var task model.IngestionTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		logger.Warnw("dropping undecodable ingest message", "message_id", msg.ID, "error", err)
		return
	}

	err := handler(ctx, &task)
	if err == nil {
		return
	}

	if IsNonRetryable(err) {
		logger.Warnw("ingest task failed permanently", "doc_id", task.DocID, "error", err)
		return
	}

	if task.RetryCount >= q.maxRetries {
		logger.Errorw("ingest task exhausted retries", "doc_id", task.DocID, "retry_count", task.RetryCount, "error", err)
		return
	}

	task.RetryCount++
	metrics.GetIngestMetrics().RecordRetry()
	logger.Warnw("redelivering ingest task", "doc_id", task.DocID, "retry_count", task.RetryCount, "error", err)
	if enqErr := q.Enqueue(ctx, &task); enqErr != nil {
		logger.Errorw("redelivering ingest task failed", "doc_id", task.DocID, "error", enqErr)
	}
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("创建消费组失败: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	return nil
}

var _ Queue = (*RedisQueue)(nil)
