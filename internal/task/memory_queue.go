package task

import (
	"context"
	"log/slog"
	"sync"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/pkg/logger"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 是基于 channel 的进程内队列，重启后未处理的任务会丢失。
type MemoryQueue struct {
	tasks chan string

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{tasks: make(chan string, size)}
}

// Publish 投递任务，队列已满时阻塞到有空位或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case q.tasks <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 消费队列直到 ctx 结束或队列关闭，处理失败的任务放回队尾。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consumeWith(ctx, workerCount, func(ctx context.Context) error {
		for {
			var taskID string
			select {
			case <-ctx.Done():
				return nil
			case id, ok := <-q.tasks:
				if !ok {
					return nil
				}
				taskID = id
			}
			if err := handler(ctx, taskID); err == nil || ctx.Err() != nil {
				continue
			}
			if err := q.Publish(ctx, taskID); err != nil {
				logger.L().Warn("内存队列重新投递失败", slog.String("task_id", taskID), slog.Any("error", err))
			}
		}
	})
}

// Len 返回等待处理的任务数。
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close 关闭队列，之后的 Publish 返回错误。可重复调用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
