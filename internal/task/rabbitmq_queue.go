package task

import (
	"context"
	"log/slog"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultRabbitMQQueue 是未配置队列名时声明的队列。
const DefaultRabbitMQQueue = "openmcp.messages"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认交换机把任务 ID 投递到同名队列。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	q := &RabbitMQQueue{queue: cfg.Queue}
	if q.queue == "" {
		q.queue = DefaultRabbitMQQueue
	}

	var err error
	if q.conn, err = amqp.Dial(cfg.URL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	if err := q.setup(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	var err error
	if q.ch, err = q.conn.Channel(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := q.ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ prefetch 失败")
		}
	}
	if _, err := q.ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return nil
}

// Publish 以持久化消息投递任务。
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    taskID,
		Body:         []byte(taskID),
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 以手动确认模式消费。处理失败的消息 Nack 后由 broker 重新入队；
// 投递通道被 broker 关闭时返回错误。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	return consumeWith(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					if ctx.Err() != nil {
						return nil
					}
					return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
				}
				q.settle(ctx, d, handler(ctx, string(d.Body)))
			}
		}
	})
}

func (q *RabbitMQQueue) settle(ctx context.Context, d amqp.Delivery, handlerErr error) {
	var err error
	switch {
	case handlerErr == nil:
		err = d.Ack(false)
	case ctx.Err() != nil:
		// 关停期间不确认，连接关闭后 broker 会自行重投。
		return
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		logger.L().Warn("RabbitMQ 确认消息失败", slog.String("task_id", string(d.Body)), slog.Any("error", err))
	}
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
