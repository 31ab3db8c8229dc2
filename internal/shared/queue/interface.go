// Package queue 任务队列抽象接口
//
// 提供 at-least-once 投递语义的任务分发能力，当前由 Redis Streams 实现，
// 测试环境使用内存实现。
//
// 语义约定：
//   - ack：消息处理完成（成功或确定性失败），从 pending 集合移除
//   - nack：不做任何操作，消息留在 pending 集合，等待租约超时后被 Reclaim 重新投递
//   - 投递次数超过上限的消息移入死信流并 ack，避免毒消息无限循环
package queue

import (
	"context"
	"time"

	"rag-indexer/internal/shared/model"
)

// TaskQueue 任务队列接口
type TaskQueue interface {
	// Enqueue 将任务写入队列，返回消息 ID
	Enqueue(ctx context.Context, task *model.Task) (string, error)

	// CreateConsumerGroup 创建 worker 消费者组（幂等）
	CreateConsumerGroup(ctx context.Context) error

	// Consume 以指定消费者身份读取新消息，无消息时阻塞至 blockTimeout
	Consume(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*TaskMessage, error)

	// Ack 确认消息已处理
	Ack(ctx context.Context, messageID string) error

	// Reclaim 认领空闲超过 minIdle 的 pending 消息（崩溃/nack 后的重新投递）
	// 返回的消息 Deliveries 字段包含累计投递次数
	Reclaim(ctx context.Context, consumerID string, minIdle time.Duration, count int64) ([]*TaskMessage, error)

	// DeadLetter 将消息移入死信流并 ack
	DeadLetter(ctx context.Context, msg *TaskMessage, reason string) error

	// PendingCount 返回已投递未确认的消息数量
	PendingCount(ctx context.Context) (int64, error)

	Close() error
}
