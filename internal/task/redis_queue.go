package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// DefaultRedisQueue 是未配置队列名时使用的 list 键。
const DefaultRedisQueue = "openmcp:messages"

// RedisQueue 使用 Redis list 实现消息任务队列。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 取任务，处理失败的任务 RPUSH 回队尾。Redis 出错时全部工作协程退出。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consumeWith(ctx, workerCount, func(ctx context.Context) error {
		for ctx.Err() == nil {
			taskID, err := q.pop(ctx)
			switch {
			case err != nil:
				return err
			case taskID == "":
				continue
			}
			if handler(ctx, taskID) == nil || ctx.Err() != nil {
				continue
			}
			if err := q.client.RPush(ctx, q.queue, taskID).Err(); err != nil {
				logger.L().Error("Redis 重新投递任务失败", slog.String("task_id", taskID), slog.Any("error", err))
			}
		}
		return nil
	})
}

// pop 阻塞等待一个任务，等待超时返回空字符串。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil && ctx.Err() != nil:
		return "", nil
	case errors.Is(err, redis.ErrClosed):
		return "", xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 连接已关闭")
	case err != nil:
		return "", fmt.Errorf("Redis 取任务失败: %w", err)
	case len(values) != 2:
		return "", nil
	}
	return values[1], nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
