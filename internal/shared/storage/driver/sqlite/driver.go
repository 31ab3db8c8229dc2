// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"rag-indexer/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.RebindToQuestion(query)
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:indexer.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- runs：Run 账本（永不删除，保留用于审计和 replay）
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(64) PRIMARY KEY,
    index_name VARCHAR(200) NOT NULL,
    dataset VARCHAR(200) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    fail_step VARCHAR(32) DEFAULT '',
    fail_mode VARCHAR(32) DEFAULT 'never',
    fail_fired INTEGER NOT NULL DEFAULT 0,
    error TEXT DEFAULT '',
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs(status, created_at);

-- run_steps：固定顺序的步骤记录
CREATE TABLE IF NOT EXISTS run_steps (
    run_id VARCHAR(64) NOT NULL REFERENCES runs(id),
    step VARCHAR(32) NOT NULL,
    step_order INTEGER NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    started_at DATETIME,
    finished_at DATETIME,
    error TEXT DEFAULT '',
    artifact_ref TEXT DEFAULT '',
    PRIMARY KEY (run_id, step)
);

-- index_versions：版本历史，只追加不删除
CREATE TABLE IF NOT EXISTS index_versions (
    index_name VARCHAR(200) NOT NULL,
    version INTEGER NOT NULL,
    namespace VARCHAR(200) NOT NULL,
    promoted INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT (datetime('now')),
    PRIMARY KEY (index_name, version)
);

-- index_pointers：每个索引单行的 active 指针，rev 用于乐观并发检查
CREATE TABLE IF NOT EXISTS index_pointers (
    index_name VARCHAR(200) PRIMARY KEY,
    active_version INTEGER,
    rev INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT (datetime('now'))
);
`
