// Package eventbus Run 执行日志总线
//
// worker 在每个步骤的关键节点追加一条日志，API 侧按 Run 读取，
// 用于排障和观察 replay 行为。日志是尽力而为的观测数据，
// 追加失败不会影响流水线执行。
package eventbus

import (
	"context"
	"time"
)

// LogEntry 一条 Run 执行日志
type LogEntry struct {
	ID      string    `json:"id,omitempty"`
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// RunLog Run 执行日志接口
type RunLog interface {
	// Append 追加一条日志
	Append(ctx context.Context, runID, stage, message string) error

	// Read 按时间顺序读取 Run 的全部日志（最多 limit 条）
	Read(ctx context.Context, runID string, limit int64) ([]*LogEntry, error)

	Close() error
}
