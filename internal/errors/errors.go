package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 是跨模块共享的错误码，API 层据此映射 HTTP 状态。
type Code string

// Severity 决定告警级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认属性，可被单个错误的 Option 覆盖。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeConfigurationFailure  Code = "CONFIGURATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var codes = struct {
	sync.RWMutex
	attrs map[Code]Attributes
}{attrs: map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
	CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeConfigurationFailure:  {Message: "invalid configuration", Severity: SeverityCritical, Alert: true},
	CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeUpstreamFailure:       {Message: "upstream service failure", Severity: SeverityWarning, Retryable: true},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
}}

// Register 在 init 阶段登记模块自有的错误码，同名覆盖。
func Register(code Code, attr Attributes) {
	codes.Lock()
	codes.attrs[code] = attr
	codes.Unlock()
}

// AttributesOf 查询错误码属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := Lookup(code); ok {
		return attr
	}
	attr, _ := Lookup(CodeUnknown)
	return attr
}

// Lookup 查询错误码属性，ok 表示该错误码已登记。
func Lookup(code Code) (Attributes, bool) {
	codes.RLock()
	defer codes.RUnlock()
	attr, ok := codes.attrs[code]
	return attr, ok
}

// Error 携带错误码、属性快照与可选的上下文字段。
//
// Error() 只输出 "message: cause"，错误码不进入面向用户的文本。
type Error struct {
	code     Code
	attrs    Attributes
	cause    error
	metadata map[string]string
}

// Option 调整单个错误。
type Option func(*Error)

// WithMetadata 附加一个上下文字段，告警会原样带出。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attrs.Retryable = retryable }
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attrs.Severity = sev }
}

// New 创建错误，message 为空时取错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, attrs: AttributesOf(code)}
	if message != "" {
		e.attrs.Message = message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，并记录底层原因。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Sentinel 返回仅用于 errors.Is 比较的错误值。
func Sentinel(code Code) *Error {
	return New(code, "")
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return e.attrs.Message
	default:
		return e.attrs.Message + ": " + e.cause.Error()
	}
}

// Describe 在 Error() 前加上错误码，供日志使用。
func (e *Error) Describe() string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.Error())
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.attrs.Message
}

// Metadata 返回上下文字段的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool { return e != nil && e.attrs.Retryable }

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attrs.Severity
}

// From 取错误链中最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误链中的错误码，普通 error 视为 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// RetryableError 判断错误是否值得重新投递。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// SeverityOf 返回错误的严重程度，普通 error 视为 critical。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
