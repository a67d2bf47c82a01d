package task

import (
	"context"

	xerrors "OpenMCP-EVM/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把待处理任务原子地切换为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	// MarkFailed 记录失败；terminal 为 false 时任务回到待处理状态等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result *Result, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
