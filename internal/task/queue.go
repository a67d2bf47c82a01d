package task

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Handler 处理一条任务 ID。返回错误表示任务尚未开始执行，队列应当重新投递。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递任务 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以若干工作协程消费任务，阻塞到 ctx 结束或底层连接失效。
// ctx 结束属于正常退出，返回 nil。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产与消费能力。
type Queue interface {
	Producer
	Consumer
}

// consumeWith 以 workers 个协程运行 work，任一协程出错时其余协程随之退出。
func consumeWith(ctx context.Context, workers int, work func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error { return work(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
