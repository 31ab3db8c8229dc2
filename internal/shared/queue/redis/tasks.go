// Package redis 任务流操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/queue"
)

// Enqueue 将任务写入任务流
func (s *Store) Enqueue(ctx context.Context, task *model.Task) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: queue.StreamTasks,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"kind":        string(task.Kind),
			"run_id":      task.RunID,
			"task":        string(payload),
			"enqueued_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	msgID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[Redis/Queue] Enqueued task: kind=%s run=%s msg_id=%s", task.Kind, task.RunID, msgID)
	return msgID, nil
}

// CreateConsumerGroup 创建 worker 消费者组
func (s *Store) CreateConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.StreamTasks, queue.WorkerConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Consume 读取新消息
func (s *Store) Consume(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.TaskMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.WorkerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.StreamTasks, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume tasks: %w", err)
	}

	var messages []*queue.TaskMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m, err := parseTaskMessage(msg)
			if err != nil {
				log.Printf("[Redis/Queue] Dropping malformed message: id=%s err=%v", msg.ID, err)
				s.client.XAck(ctx, queue.StreamTasks, queue.WorkerConsumerGroup, msg.ID)
				continue
			}
			m.Deliveries = 1
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// Ack 确认消息已处理
func (s *Store) Ack(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.StreamTasks, queue.WorkerConsumerGroup, messageID).Err()
}

// Reclaim 认领空闲超过 minIdle 的 pending 消息
//
// 先通过 XPENDING 拿到候选消息及其投递计数，再用 XCLAIM 转移所有权。
// XCLAIM 会再次递增投递计数，因此 Deliveries = RetryCount + 1。
func (s *Store) Reclaim(ctx context.Context, consumerID string, minIdle time.Duration, count int64) ([]*queue.TaskMessage, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: queue.StreamTasks,
		Group:  queue.WorkerConsumerGroup,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	retries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		retries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   queue.StreamTasks,
		Group:    queue.WorkerConsumerGroup,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}

	var messages []*queue.TaskMessage
	for _, msg := range claimed {
		m, err := parseTaskMessage(msg)
		if err != nil {
			log.Printf("[Redis/Queue] Dropping malformed pending message: id=%s err=%v", msg.ID, err)
			s.client.XAck(ctx, queue.StreamTasks, queue.WorkerConsumerGroup, msg.ID)
			continue
		}
		m.Deliveries = retries[msg.ID] + 1
		messages = append(messages, m)
	}

	if len(messages) > 0 {
		log.Printf("[Redis/Queue] Reclaimed %d stale tasks: consumer=%s", len(messages), consumerID)
	}
	return messages, nil
}

// DeadLetter 将消息移入死信流并 ack
func (s *Store) DeadLetter(ctx context.Context, msg *queue.TaskMessage, reason string) error {
	payload, err := json.Marshal(msg.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: queue.StreamDeadLetters,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"origin_id":  msg.ID,
			"kind":       string(msg.Task.Kind),
			"run_id":     msg.Task.RunID,
			"task":       string(payload),
			"deliveries": msg.Deliveries,
			"reason":     reason,
			"dead_at":    time.Now().Format(time.RFC3339Nano),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter task: %w", err)
	}

	log.Printf("[Redis/Queue] Dead-lettered task: run=%s deliveries=%d reason=%s", msg.Task.RunID, msg.Deliveries, reason)
	return s.Ack(ctx, msg.ID)
}

// PendingCount 返回已投递未确认的消息数量
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.StreamTasks, queue.WorkerConsumerGroup).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, err
	}
	return pending.Count, nil
}

// parseTaskMessage 解析流消息中的任务载荷
func parseTaskMessage(msg redis.XMessage) (*queue.TaskMessage, error) {
	raw, ok := msg.Values["task"].(string)
	if !ok {
		return nil, fmt.Errorf("missing task payload")
	}
	m := &queue.TaskMessage{ID: msg.ID}
	if err := json.Unmarshal([]byte(raw), &m.Task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if enqueuedAt, ok := msg.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			m.EnqueuedAt = t
		}
	}
	return m, nil
}
