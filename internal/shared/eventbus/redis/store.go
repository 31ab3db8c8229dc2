// Package redis 基于 Redis Streams 的 Run 日志实现
//
// 每个 Run 一条流，键为 indexer:runlog:<run_id>，限长防止无界增长。
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-indexer/internal/shared/eventbus"
)

const (
	keyRunLogPrefix = "indexer:runlog:"
	maxLogEntries   = 1000
)

// Store Redis Run 日志
type Store struct {
	client *redis.Client
}

var _ eventbus.RunLog = (*Store)(nil)

// NewStore 基于已有客户端创建 Run 日志
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func runLogKey(runID string) string {
	return keyRunLogPrefix + runID
}

// Append 追加一条日志
func (s *Store) Append(ctx context.Context, runID, stage, message string) error {
	args := &redis.XAddArgs{
		Stream: runLogKey(runID),
		MaxLen: maxLogEntries,
		Approx: true,
		Values: map[string]interface{}{
			"time":    time.Now().UTC().Format(time.RFC3339Nano),
			"stage":   stage,
			"message": message,
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return nil
}

// Read 按时间顺序读取 Run 的全部日志
func (s *Store) Read(ctx context.Context, runID string, limit int64) ([]*eventbus.LogEntry, error) {
	msgs, err := s.client.XRangeN(ctx, runLogKey(runID), "-", "+", limit).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	var entries []*eventbus.LogEntry
	for _, msg := range msgs {
		e := &eventbus.LogEntry{ID: msg.ID}
		if ts, ok := msg.Values["time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				e.Time = t
			}
		}
		if stage, ok := msg.Values["stage"].(string); ok {
			e.Stage = stage
		}
		if message, ok := msg.Values["message"].(string); ok {
			e.Message = message
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close 关闭（客户端由创建方持有，此处不关闭连接）
func (s *Store) Close() error {
	return nil
}
