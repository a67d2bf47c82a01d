package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/pkg/logger"
)

// SubmitRequest 描述一条待分发的用户消息。
type SubmitRequest struct {
	// ID 可选，用作幂等键；重复提交同一 ID 返回已有任务。
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// Service 负责消息任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建消息任务并投递到队列。带 ID 的重复提交返回已有任务，不会重复入队。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, xerrors.New(CodeTaskValidation, "消息内容不能为空")
	}
	if err := s.ready(true); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	} else if existing, err := s.existing(ctx, id); existing != nil || err != nil {
		return existing, err
	}

	task := &Task{
		ID:         id,
		UserID:     strings.TrimSpace(req.UserID),
		Text:       text,
		Action:     strings.TrimSpace(req.Action),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		// 并发提交同一 ID 时，输掉竞争的一方返回胜者创建的任务。
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.existing(ctx, id); existing != nil || getErr != nil {
				return existing, getErr
			}
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, id); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		logger.L().Error("任务入队失败", slog.String("task_id", id), slog.Any("error", err))
		if markErr := s.store.MarkFailed(ctx, id, CodeTaskPublish, wrapped.Error(), nil, true); markErr != nil {
			logger.L().Warn("记录入队失败状态失败", slog.String("task_id", id), slog.Any("error", markErr))
		}
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", id),
		slog.String("user_id", task.UserID),
		slog.String("action", task.Action),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// existing 返回已存在的任务；不存在时两个返回值都为 nil。
func (s *Service) existing(ctx context.Context, id string) (*Task, error) {
	task, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return task, nil
	case stdErrors.Is(err, ErrTaskNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Service) ready(needProducer bool) error {
	if s.store == nil || (needProducer && s.producer == nil) {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return nil
}

// Get 返回指定任务。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 按状态统计符合过滤条件的任务。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if err := s.ready(false); err != nil {
		return TaskStats{}, err
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 关闭存储与生产者，返回全部关闭错误。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询直到任务进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
