// Package queue 内存队列实现
//
// 行为与 Redis Streams 实现对齐（消费者组、pending 集合、重新投递），
// 用于单元测试和无 Redis 的本地开发。
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rag-indexer/internal/shared/model"
)

// MemoryQueue 内存任务队列
type MemoryQueue struct {
	mu       sync.Mutex
	seq      int64
	ready    []*TaskMessage       // 未投递的消息
	inflight map[string]*delivery // 已投递未确认的消息
	dead     []*TaskMessage       // 死信
}

var _ TaskQueue = (*MemoryQueue)(nil)

type delivery struct {
	msg         *TaskMessage
	deliveredAt time.Time
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: make(map[string]*delivery)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *model.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	msg := &TaskMessage{
		ID:         fmt.Sprintf("mem-%d", q.seq),
		Task:       *task,
		EnqueuedAt: time.Now().UTC(),
	}
	q.ready = append(q.ready, msg)
	return msg.ID, nil
}

func (q *MemoryQueue) CreateConsumerGroup(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*TaskMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int(count)
	if n > len(q.ready) {
		n = len(q.ready)
	}
	if n == 0 {
		return nil, nil
	}

	var out []*TaskMessage
	for _, msg := range q.ready[:n] {
		msg.Deliveries++
		q.inflight[msg.ID] = &delivery{msg: msg, deliveredAt: time.Now()}
		copied := *msg
		out = append(out, &copied)
	}
	q.ready = q.ready[n:]
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, messageID)
	return nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context, consumerID string, minIdle time.Duration, count int64) ([]*TaskMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-minIdle)
	var out []*TaskMessage
	for _, d := range q.inflight {
		if int64(len(out)) >= count {
			break
		}
		if d.deliveredAt.After(cutoff) {
			continue
		}
		d.msg.Deliveries++
		d.deliveredAt = time.Now()
		copied := *d.msg
		out = append(out, &copied)
	}
	return out, nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, msg *TaskMessage, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *msg
	q.dead = append(q.dead, &copied)
	delete(q.inflight, msg.ID)
	return nil
}

func (q *MemoryQueue) PendingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.inflight)), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

// DeadLetters 返回死信快照（仅用于测试）
func (q *MemoryQueue) DeadLetters() []*TaskMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*TaskMessage, len(q.dead))
	copy(out, q.dead)
	return out
}

// ReadyCount 返回未投递消息数量（仅用于测试）
func (q *MemoryQueue) ReadyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}
