package task

import (
	stdErrors "errors"
	"maps"
	"slices"
	"time"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
)

// Status 是任务的生命周期状态：pending → running → succeeded | failed，
// 可重试的失败会从 running 回到 pending。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var statuses = []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed}

// IsValidStatus 检查状态是否为已知取值。
func IsValidStatus(status Status) bool {
	return slices.Contains(statuses, status)
}

// Terminal 报告状态是否不会再变化。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Result 是一次分发的结果，Text 与 Content 取自动作的最后一条回复。
type Result struct {
	Action  string         `json:"action"`
	Success bool           `json:"success"`
	Text    string         `json:"text"`
	Content map[string]any `json:"content,omitempty"`
}

// Task 是一条排队等待智能体处理的用户消息。
type Task struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
	// Action 为空时由智能体按关键字推断。
	Action     string  `json:"action,omitempty"`
	Status     Status  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// message 还原出交给智能体的消息。
func (t *Task) message() agent.Message {
	return agent.Message{
		ID:        t.ID,
		UserID:    t.UserID,
		Text:      t.Text,
		Action:    t.Action,
		CreatedAt: time.Unix(t.CreatedAt, 0).UTC(),
	}
}

func (t *Task) clone() *Task {
	dup := *t
	if t.Result != nil {
		r := *t.Result
		r.Content = maps.Clone(t.Result.Content)
		dup.Result = &r
	}
	return &dup
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
	// CodeActionFailed 表示动作已执行但报告失败，交易可能已上链，不可重放。
	CodeActionFailed xerrors.Code = "TASK_ACTION_FAILED"
)

var (
	ErrTaskNotFound  = xerrors.Sentinel(CodeTaskNotFound)
	ErrTaskConflict  = xerrors.Sentinel(CodeTaskConflict)
	ErrTaskCompleted = xerrors.Sentinel(CodeTaskCompleted)
	// ErrTaskExhausted 表示任务已终止或重试次数耗尽。
	ErrTaskExhausted = xerrors.Sentinel(CodeTaskExhausted)
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeTaskNotFound:   {Message: "task not found", Severity: xerrors.SeverityInfo},
		CodeTaskConflict:   {Message: "task conflict", Severity: xerrors.SeverityWarning},
		CodeTaskCompleted:  {Message: "task already completed", Severity: xerrors.SeverityInfo},
		CodeTaskExhausted:  {Message: "task retries exhausted", Severity: xerrors.SeverityCritical, Alert: true},
		CodeTaskValidation: {Message: "task validation failed", Severity: xerrors.SeverityInfo},
		CodeTaskPublish:    {Message: "failed to publish task", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true},
		CodeTaskProcessing: {Message: "task execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true},
		CodeActionFailed:   {Message: "action reported failure", Severity: xerrors.SeverityWarning, Alert: true},
	} {
		xerrors.Register(code, attr)
	}
}

// IsTaskError 判断错误链中是否带有指定的任务错误码。
func IsTaskError(err error, target xerrors.Code) bool {
	return err != nil && stdErrors.Is(err, xerrors.Sentinel(target))
}
