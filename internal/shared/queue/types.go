// Package queue 队列消息类型和键定义
package queue

import (
	"time"

	"rag-indexer/internal/shared/model"
)

// ============================================================================
// Redis 键定义
// ============================================================================

const (
	// StreamTasks 任务流
	StreamTasks = "indexer:tasks"

	// StreamDeadLetters 死信流（投递超限的毒消息）
	StreamDeadLetters = "indexer:tasks:dead"

	// WorkerConsumerGroup worker 消费者组
	WorkerConsumerGroup = "indexer-workers"
)

// ============================================================================
// 消息类型
// ============================================================================

// TaskMessage 队列中的任务消息
type TaskMessage struct {
	// ID 队列消息 ID（ack/claim 时使用）
	ID string `json:"id"`

	// Task 任务载荷
	Task model.Task `json:"task"`

	// Deliveries 累计投递次数（首次投递为 1）
	Deliveries int64 `json:"deliveries"`

	// EnqueuedAt 入队时间
	EnqueuedAt time.Time `json:"enqueued_at"`
}
