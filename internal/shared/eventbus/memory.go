// Package eventbus 内存实现（测试用）
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog 内存 Run 日志
type MemoryLog struct {
	mu      sync.Mutex
	seq     int64
	entries map[string][]*LogEntry
}

var _ RunLog = (*MemoryLog)(nil)

// NewMemoryLog 创建内存日志
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]*LogEntry)}
}

func (l *MemoryLog) Append(ctx context.Context, runID, stage, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.entries[runID] = append(l.entries[runID], &LogEntry{
		ID:      fmt.Sprintf("mem-%d", l.seq),
		Time:    time.Now().UTC(),
		Stage:   stage,
		Message: message,
	})
	return nil
}

func (l *MemoryLog) Read(ctx context.Context, runID string, limit int64) ([]*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[runID]
	if limit > 0 && int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	out := make([]*LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (l *MemoryLog) Close() error {
	return nil
}
