package task

import (
	"cmp"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/observability/alerting"
	"OpenMCP-EVM/pkg/logger"
)

// Dispatcher 是处理器需要的智能体能力，*agent.Agent 满足该接口。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg agent.Message, cb agent.Callback) (*agent.Outcome, error)
}

// Observer 在任务进入终态或重新排队后被调用。
type Observer func(status Status, code string)

// Processor 从队列取出任务 ID，领取后交给智能体分发并记录结果。
//
// 只有尚未分发的失败会重新排队。动作一旦被调用，无论成功与否都是终态，
// 否则同一笔空投可能被广播两次。
type Processor struct {
	dispatcher Dispatcher
	store      Store
	consumer   Consumer
	producer   Producer
	workers    int
	log        *slog.Logger
	alerter    alerting.Dispatcher
	observer   Observer
}

// ProcessorOption 配置 Processor。
type ProcessorOption func(*Processor)

// WithProcessorLogger 替换默认的 "task" 日志器。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithWorkerCount 设置消费协程数，默认 1。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) { p.workers = max(workers, 1) }
}

func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = dispatcher }
}

func WithObserver(observer Observer) ProcessorOption {
	return func(p *Processor) { p.observer = observer }
}

func NewProcessor(dispatcher Dispatcher, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		dispatcher: dispatcher,
		store:      store,
		consumer:   consumer,
		producer:   producer,
		workers:    1,
		log:        logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞消费直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workers, p.handle)
}

// 这些领取错误说明任务已有归宿，消息直接丢弃。
var settled = []error{ErrTaskNotFound, ErrTaskCompleted, ErrTaskExhausted, ErrTaskConflict}

// handle 实现 Handler。返回错误即要求队列重新投递。
func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.dispatcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	switch {
	case err != nil && slices.ContainsFunc(settled, func(target error) bool { return stdErrors.Is(err, target) }):
		p.log.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
		return nil
	case err != nil:
		p.log.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.alert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	outcome, err := p.dispatcher.Dispatch(ctx, task.message(), nil)
	switch {
	case err != nil:
		return p.dispatchFailed(ctx, task, outcome, err)
	case outcome == nil || !outcome.Success:
		p.actionFailed(ctx, task, resultFrom(outcome))
	default:
		p.succeeded(ctx, task, resultFrom(outcome))
	}
	return nil
}

func (p *Processor) succeeded(ctx context.Context, task *Task, result Result) {
	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		p.storeFailed(ctx, task, err, "record_success")
		return
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("user_id", task.UserID),
		slog.String("action", result.Action),
	)
	p.observe(StatusSucceeded, "")
}

// actionFailed 记录动作失败。任务上的错误码固定为 CodeActionFailed，
// 告警则按回复中携带的错误码分级。
func (p *Processor) actionFailed(ctx context.Context, task *Task, result Result) {
	if err := p.store.MarkFailed(ctx, task.ID, CodeActionFailed, result.Text, &result, true); err != nil {
		p.storeFailed(ctx, task, err, "record_failure")
		return
	}
	cause := replyError(result)
	logger.Audit().Warn("动作执行失败",
		slog.String("task_id", task.ID),
		slog.String("action", result.Action),
		slog.String("reply", result.Text),
		slog.String("error_code", string(cause.Code())),
	)
	p.alert(ctx, task, cause.Code(), cause, "action")
	p.observe(StatusFailed, string(CodeActionFailed))
}

// replyError 从失败回复的 code 与 metadata 字段还原错误。
// 缺失或未登记的错误码归为 CodeActionFailed。
func replyError(result Result) *xerrors.Error {
	code, _ := result.Content["code"].(string)
	if _, ok := xerrors.Lookup(xerrors.Code(code)); !ok || xerrors.Code(code) == xerrors.CodeUnknown {
		code = string(CodeActionFailed)
	}
	var opts []xerrors.Option
	switch md := result.Content["metadata"].(type) {
	case map[string]string:
		for k, v := range md {
			opts = append(opts, xerrors.WithMetadata(k, v))
		}
	case map[string]any:
		for k, v := range md {
			if s, ok := v.(string); ok {
				opts = append(opts, xerrors.WithMetadata(k, s))
			}
		}
	}
	return xerrors.New(xerrors.Code(code), cmp.Or(result.Text, "action reported failure"), opts...)
}

// failureStage 归类一次分发失败，terminal 表示不再重试。
func failureStage(task *Task, dispatched, retryable bool) (stage string, terminal bool) {
	switch {
	case dispatched:
		return "dispatched", true
	case !retryable:
		return "non_retryable", true
	case task.Attempts >= task.MaxRetries:
		return "terminal", true
	default:
		return "retry", false
	}
}

func (p *Processor) dispatchFailed(ctx context.Context, task *Task, outcome *agent.Outcome, cause error) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	dispatched := outcome != nil
	stage, terminal := failureStage(task, dispatched, xerrors.RetryableError(cause))

	var result *Result
	if dispatched {
		r := resultFrom(outcome)
		result = &r
	}
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), result, terminal); err != nil {
		p.storeFailed(ctx, task, err, "record_failure")
		if dispatched {
			return nil
		}
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	p.alert(ctx, task, code, cause, stage)

	if terminal {
		p.observe(StatusFailed, string(code))
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.observe(StatusPending, string(code))
	p.log.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) storeFailed(ctx context.Context, task *Task, err error, stage string) {
	p.log.Error("记录任务状态失败", slog.Any("error", err), slog.String("task_id", task.ID), slog.String("stage", stage))
	p.alert(ctx, task, xerrors.CodeStorageFailure, err, stage)
}

func resultFrom(outcome *agent.Outcome) Result {
	if outcome == nil {
		return Result{}
	}
	last := outcome.LastResponse()
	return Result{
		Action:  outcome.Action,
		Success: outcome.Success,
		Text:    last.Text,
		Content: maps.Clone(last.Content),
	}
}

func (p *Processor) observe(status Status, code string) {
	if p.observer != nil {
		p.observer(status, code)
	}
}

// alert 把失败转成告警事件，cause 上的 metadata 一并带出。
// 错误码注册为不告警时直接忽略。
func (p *Processor) alert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	attrs := xerrors.AttributesOf(code)
	if p.alerter == nil || !attrs.Alert {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
		if e, ok := xerrors.From(cause); ok {
			maps.Copy(event.Metadata, e.Metadata())
		}
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.log.Error("告警通知失败", slog.Any("error", err), slog.String("task_id", task.ID), slog.String("stage", stage))
	}
}
