package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowbase/internal/model"
)

func TestMemoryQueueDelivers(t *testing.T) {
	q := NewMemoryQueue(8, 3)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *model.IngestionTask, 1)

	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, task *model.IngestionTask) error {
			done <- task
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(ctx, &model.IngestionTask{JobID: "j1", DocID: "doc-1"}))

	select {
	case task := <-done:
		assert.Equal(t, "doc-1", task.DocID)
	case <-time.After(2 * time.Second):
		t.Fatal("任务未被消费")
	}
	cancel()
}

func TestMemoryQueueRedeliversUntilExhausted(t *testing.T) {
	q := NewMemoryQueue(8, 2)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var attempts int32
	exhausted := make(chan struct{})

	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, task *model.IngestionTask) error {
			if atomic.AddInt32(&attempts, 1) == 3 { // 首投 + 2 次重投
				close(exhausted)
			}
			return errors.New("transient")
		})
	}()

	require.NoError(t, q.Enqueue(ctx, &model.IngestionTask{JobID: "j1", DocID: "doc-1"}))

	select {
	case <-exhausted:
	case <-time.After(2 * time.Second):
		t.Fatal("重投次数不足")
	}

	// 超限后不再重投
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	cancel()
}

func TestMemoryQueueNonRetryableNotRedelivered(t *testing.T) {
	q := NewMemoryQueue(8, 3)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var attempts int32
	first := make(chan struct{}, 1)

	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, task *model.IngestionTask) error {
			atomic.AddInt32(&attempts, 1)
			first <- struct{}{}
			return NonRetryable(errors.New("no content produced"))
		})
	}()

	require.NoError(t, q.Enqueue(ctx, &model.IngestionTask{JobID: "j1", DocID: "doc-1"}))

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("任务未被消费")
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	cancel()
}

func TestMemoryQueueEnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), &model.IngestionTask{JobID: "j1"})
	assert.Error(t, err)
}

func TestNonRetryableWrapping(t *testing.T) {
	base := errors.New("not OCR-eligible")
	wrapped := NonRetryable(base)

	assert.True(t, IsNonRetryable(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsNonRetryable(base))
	assert.Nil(t, NonRetryable(nil))
}
