package task

import (
	"slices"
	"strings"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
)

// SortOrder 是按 updated_at 排序的方向，取值与 API 的 order 参数一致。
type SortOrder string

const (
	// NewestFirst 最近更新的任务排在前面，是默认顺序。
	NewestFirst SortOrder = "desc"
	// OldestFirst 最早更新的任务排在前面。
	OldestFirst SortOrder = "asc"
)

// ParseSortOrder 解析 asc / desc，大小写不敏感。
func ParseSortOrder(raw string) (SortOrder, error) {
	switch order := SortOrder(strings.ToLower(strings.TrimSpace(raw))); order {
	case NewestFirst, OldestFirst:
		return order, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "order 只支持 asc 或 desc")
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOptions 描述列表与统计查询的过滤条件。时间边界均为闭区间，零值表示不限。
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	UpdatedSince time.Time
	UpdatedUntil time.Time
	HasResult    *bool
	Order        SortOrder
	// Query 在消息文本、动作、错误与回复中做子串匹配。
	Query  string
	UserID string
	// Action 同时匹配请求的动作与实际执行的动作，大小写不敏感。
	Action string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultPageSize
	case opts.Limit > maxPageSize:
		opts.Limit = maxPageSize
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = normalizeStatuses(opts.Statuses)
	if opts.Order != OldestFirst {
		opts.Order = NewestFirst
	}
	opts.Query = strings.TrimSpace(opts.Query)
	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.Action = strings.ToLower(strings.TrimSpace(opts.Action))
}

// updatedWindow 以 Unix 秒返回时间边界，0 表示该侧不限。
func (opts ListOptions) updatedWindow() (since, until int64) {
	if !opts.UpdatedSince.IsZero() {
		since = opts.UpdatedSince.Unix()
	}
	if !opts.UpdatedUntil.IsZero() {
		until = opts.UpdatedUntil.Unix()
	}
	return since, until
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 设置每页数量，超出上限时截断为 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只返回处于给定状态的任务。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = slices.Clone(statuses) }
}

// WithUpdatedSince 只返回不早于 ts 更新的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedSince = ts }
}

// WithUpdatedUntil 只返回不晚于 ts 更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedUntil = ts }
}

// WithResultPresence 按是否已记录动作回复过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 设置子串检索关键字。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

// WithUserID 只返回某个用户发送的消息。
func WithUserID(userID string) ListOption {
	return func(opts *ListOptions) { opts.UserID = userID }
}

// WithAction 只返回交给指定动作处理的任务。
func WithAction(action string) ListOption {
	return func(opts *ListOptions) { opts.Action = action }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// normalizeStatuses 去掉未知与重复的状态，保持原有顺序。
func normalizeStatuses(input []Status) []Status {
	var out []Status
	for _, status := range input {
		if IsValidStatus(status) && !slices.Contains(out, status) {
			out = append(out, status)
		}
	}
	return out
}

// match 在内存中执行与 SQLStore 相同的过滤。
func (opts ListOptions) match(task *Task) bool {
	if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, task.Status) {
		return false
	}
	since, until := opts.updatedWindow()
	if (since > 0 && task.UpdatedAt < since) || (until > 0 && task.UpdatedAt > until) {
		return false
	}
	if opts.HasResult != nil && (task.Result != nil) != *opts.HasResult {
		return false
	}
	if opts.UserID != "" && task.UserID != opts.UserID {
		return false
	}

	fields := []string{task.ID, task.Text, task.Action, task.LastError}
	actions := []string{strings.ToLower(task.Action)}
	if task.Result != nil {
		fields = append(fields, task.Result.Action, task.Result.Text)
		actions = append(actions, strings.ToLower(task.Result.Action))
	}
	if opts.Action != "" && !slices.Contains(actions, opts.Action) {
		return false
	}
	if opts.Query != "" && !slices.ContainsFunc(fields, func(f string) bool { return strings.Contains(f, opts.Query) }) {
		return false
	}
	return true
}
