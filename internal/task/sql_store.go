package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"OpenMCP-EVM/deploy/migrations"
	xerrors "OpenMCP-EVM/internal/errors"
)

// SQLConfig 描述 SQL 任务存储的连接参数。
type SQLConfig struct {
	// Driver 取值 mysql 或 sqlite。
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 使用 MySQL 或 SQLite 记录任务状态。
type SQLStore struct {
	db     *sql.DB
	driver string
	// lock 只在 sqlite 下使用，防止多个进程同时写同一个数据库文件。
	// flock 对同一实例可重入，进程内的写者由 writeMu 串行化。
	lock    *flock.Flock
	writeMu sync.Mutex
}

const taskColumns = `id, user_id, text, action, status, attempts, max_retries, last_error, error_code,
        result_action, result_success, result_text, result_content, has_result, created_at, updated_at`

// NewSQLStore 打开数据库并执行嵌入的迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务存储 DSN 不能为空")
	}

	var (
		db       *sql.DB
		err      error
		store    = &SQLStore{driver: cfg.Driver}
		migrDir  string
		migrFile = migrations.MySQL
	)
	switch cfg.Driver {
	case "mysql":
		db, err = sql.Open("mysql", cfg.DSN)
		migrDir = "mysql"
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 SQLite 目录失败")
		}
		db, err = sql.Open("sqlite", cfg.DSN)
		migrDir = "sqlite"
		migrFile = migrations.SQLite
		store.lock = flock.New(cfg.DSN + ".lock")
	default:
		return nil, xerrors.New(xerrors.CodeConfigurationFailure, fmt.Sprintf("未知的任务存储驱动: %s", cfg.Driver))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开任务数据库失败")
	}
	store.db = db

	if cfg.Driver == "sqlite" {
		// SQLite 只允许单写者，连接池限制为 1 以避免 SQLITE_BUSY。
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;", "PRAGMA busy_timeout=5000;"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 SQLite 失败")
			}
		}
	} else {
		db.SetMaxOpenConns(valueOr(cfg.MaxOpenConns, 20))
		db.SetMaxIdleConns(valueOr(cfg.MaxIdleConns, 10))
		lifetime := cfg.ConnMaxLifetime
		if lifetime <= 0 {
			lifetime = 10 * time.Minute
		}
		db.SetConnMaxLifetime(lifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到任务数据库")
	}
	if err := runMigrations(ctx, db, migrFile, migrDir); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// withWriteLock 在 sqlite 下持有文件锁执行写操作。
func (s *SQLStore) withWriteLock(ctx context.Context, fn func() error) error {
	if s.lock == nil {
		return fn()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取任务库文件锁失败")
	}
	if !locked {
		return xerrors.New(xerrors.CodeStorageFailure, "获取任务库文件锁超时")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	const stmt = `INSERT INTO message_tasks
        (id, user_id, text, action, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	return s.withWriteLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, stmt,
			task.ID,
			task.UserID,
			task.Text,
			task.Action,
			string(task.Status),
			task.Attempts,
			task.MaxRetries,
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return xerrors.Wrap(CodeTaskConflict, err, "任务已存在")
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
		}
		return nil
	})
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task          Task
		status        string
		lastError     sql.NullString
		resultAction  string
		resultSuccess int
		resultText    sql.NullString
		resultContent sql.NullString
		hasResult     int
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Text,
		&task.Action,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&lastError,
		&task.ErrorCode,
		&resultAction,
		&resultSuccess,
		&resultText,
		&resultContent,
		&hasResult,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastError.String
	if hasResult != 0 {
		task.Result = &Result{Action: resultAction, Success: resultSuccess != 0, Text: resultText.String}
		if resultContent.Valid && strings.TrimSpace(resultContent.String) != "" {
			if err := json.Unmarshal([]byte(resultContent.String), &task.Result.Content); err != nil {
				return nil, fmt.Errorf("解析结果内容失败: %w", err)
			}
		}
	}
	return &task, nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM message_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const stmt = `UPDATE message_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	var affected int64
	err := s.withWriteLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), time.Now().Unix(), id, string(StatusPending))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if reason := claimable(task); reason != nil {
			return task, reason
		}
		return task, ErrTaskConflict
	}
	return task, nil
}

// MarkSucceeded 将任务标记为成功。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result Result) error {
	return s.finish(ctx, id, StatusSucceeded, "", "", &result)
}

// MarkFailed 将任务标记为失败；非终止失败回到待处理状态。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result *Result, terminal bool) error {
	status := StatusFailed
	if !terminal {
		status = StatusPending
	}
	return s.finish(ctx, id, status, string(code), lastError, result)
}

func (s *SQLStore) finish(ctx context.Context, id string, status Status, code, lastError string, result *Result) error {
	stmt := `UPDATE message_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ?`
	args := []any{string(status), lastError, code, time.Now().Unix()}
	if result != nil {
		content := sql.NullString{}
		if len(result.Content) > 0 {
			raw, err := json.Marshal(result.Content)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码结果内容失败")
			}
			content = sql.NullString{String: string(raw), Valid: true}
		}
		stmt += `, result_action = ?, result_success = ?, result_text = ?, result_content = ?, has_result = 1`
		success := 0
		if result.Success {
			success = 1
		}
		args = append(args, result.Action, success, result.Text, content)
	}
	stmt += ` WHERE id = ?`
	args = append(args, id)

	return s.withWriteLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务结果失败")
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return notFound(id)
		}
		return nil
	})
}

// List 返回符合过滤条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM message_tasks`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == OldestFirst {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM message_tasks`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	since, until := opts.updatedWindow()
	if since > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, since)
	}
	if until > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, until)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "has_result = 1")
		} else {
			conditions = append(conditions, "has_result = 0")
		}
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Action != "" {
		conditions = append(conditions, "(LOWER(action) = ? OR LOWER(result_action) = ?)")
		args = append(args, opts.Action, opts.Action)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR text LIKE ? OR action LIKE ? OR last_error LIKE ? OR result_action LIKE ? OR result_text LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
