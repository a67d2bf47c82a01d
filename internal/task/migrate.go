package task

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// migration 是一个 .sql 文件，文件名中第一个 "_" 之前的部分是版本号。
type migration struct {
	version string
	name    string
	body    string
}

// statements 以 ";" 切分 SQL，迁移文件中不允许出现字符串内的分号。
func (m migration) statements() []string {
	var out []string
	for _, stmt := range strings.Split(m.body, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

// runMigrations 按版本顺序执行 dir 下尚未记录在 schema_migrations 中的迁移，
// 每个文件一个事务。
func runMigrations(ctx context.Context, db *sql.DB, files fs.FS, dir string) error {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	pending, err := readMigrations(files, dir)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if done[m.version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("执行迁移 %s 失败: %w", m.name, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	done := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range m.statements() {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func readMigrations(files fs.FS, dir string) ([]migration, error) {
	names, err := fs.Glob(files, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}
	out := make([]migration, 0, len(names))
	for _, full := range names {
		body, err := fs.ReadFile(files, full)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", full, err)
		}
		name := path.Base(full)
		version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		out = append(out, migration{version: version, name: name, body: string(body)})
	}
	slices.SortFunc(out, func(a, b migration) int {
		return cmp.Or(cmp.Compare(a.version, b.version), cmp.Compare(a.name, b.name))
	})
	return out, nil
}
