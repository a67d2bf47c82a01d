package task

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
)

// MemoryStore 把任务保存在进程内，适合单进程部署与测试。
// 读写都经过副本，调用方拿到的 *Task 与存储互不影响。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: map[string]*Task{}}
}

func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return xerrors.New(CodeTaskConflict, "任务已存在", xerrors.WithMetadata("task_id", task.ID))
	}
	now := time.Now().Unix()
	task.CreatedAt = cmp.Or(task.CreatedAt, now)
	task.UpdatedAt = now
	m.tasks[task.ID] = task.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if task, ok := m.tasks[id]; ok {
		return task.clone(), nil
	}
	return nil, notFound(id)
}

// Claim 把可领取的任务切换为运行中。被拒绝时同时返回任务当前快照。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	return m.update(id, func(task *Task) error {
		if err := claimable(task); err != nil {
			return err
		}
		task.Status = StatusRunning
		task.Attempts++
		task.LastError, task.ErrorCode = "", ""
		return nil
	})
}

func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	result.Content = maps.Clone(result.Content)
	_, err := m.update(id, func(task *Task) error {
		task.Status = StatusSucceeded
		task.Result = &result
		task.LastError, task.ErrorCode = "", ""
		return nil
	})
	return err
}

// MarkFailed 记录失败，terminal 为 false 时任务回到 pending。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, result *Result, terminal bool) error {
	if result != nil {
		r := *result
		r.Content = maps.Clone(result.Content)
		result = &r
	}
	_, err := m.update(id, func(task *Task) error {
		task.Status = StatusPending
		if terminal {
			task.Status = StatusFailed
		}
		if result != nil {
			task.Result = result
		}
		task.LastError, task.ErrorCode = lastError, string(code)
		return nil
	})
	return err
}

// update 在写锁内修改任务，fn 返回 nil 时刷新 UpdatedAt。
// 无论 fn 是否成功都返回修改后的快照。
func (m *MemoryStore) update(id string, fn func(*Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, notFound(id)
	}
	if err := fn(task); err != nil {
		return task.clone(), err
	}
	task.UpdatedAt = time.Now().Unix()
	return task.clone(), nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	m.mu.RLock()
	matched := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.match(task) {
			matched = append(matched, task.clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *Task) int {
		if opts.Order == OldestFirst {
			return compareRecency(a, b)
		}
		return compareRecency(b, a)
	})
	if opts.Offset >= len(matched) {
		return []*Task{}, nil
	}
	matched = matched[opts.Offset:]
	return matched[:min(len(matched), opts.Limit)], nil
}

// compareRecency 按 updated_at、created_at、id 升序比较。
func compareRecency(a, b *Task) int {
	return cmp.Or(
		cmp.Compare(a.UpdatedAt, b.UpdatedAt),
		cmp.Compare(a.CreatedAt, b.CreatedAt),
		cmp.Compare(a.ID, b.ID),
	)
}

func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats TaskStats
	for _, task := range m.tasks {
		if opts.match(task) {
			stats.add(task)
		}
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }

func notFound(id string) error {
	return xerrors.New(CodeTaskNotFound, "任务不存在", xerrors.WithMetadata("task_id", id))
}

// claimable 返回任务不能被领取的原因。
func claimable(task *Task) error {
	switch {
	case task.Status == StatusSucceeded:
		return ErrTaskCompleted
	case task.Status == StatusRunning:
		return ErrTaskConflict
	case task.Status == StatusFailed, task.Attempts >= task.MaxRetries:
		return ErrTaskExhausted
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
