// Package redis Redis Streams 队列实现
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-indexer/internal/shared/queue"
)

// Store Redis Streams 任务队列
// 实现了 queue.TaskQueue 接口
type Store struct {
	client *redis.Client
}

var _ queue.TaskQueue = (*Store)(nil)

// NewStore 基于已有客户端创建队列
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewStoreFromURL 从 Redis URL 创建队列
// url 示例: "redis://localhost:6379/0"
func NewStoreFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Client 返回底层客户端（供 eventbus 等共享连接）
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}
