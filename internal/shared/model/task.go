// Package model 定义核心数据模型
//
// task.go 包含队列任务的数据模型定义：
//   - TaskKind：任务种类枚举（build / replay / rollback）
//   - Task：队列消息载荷
package model

import (
	"time"
)

// TaskKind 队列任务种类
type TaskKind string

const (
	// TaskKindBuild 从第一步开始执行一次构建
	TaskKindBuild TaskKind = "build"

	// TaskKindReplay 从指定步骤恢复一次 failed 的 Run
	TaskKindReplay TaskKind = "replay"

	// TaskKindRollback 将索引 active 指针回退 N 个版本（不经过流水线）
	TaskKindRollback TaskKind = "rollback"
)

// ValidTaskKind 判断是否为已知任务种类
func ValidTaskKind(k TaskKind) bool {
	return k == TaskKindBuild || k == TaskKindReplay || k == TaskKindRollback
}

// Task 队列任务载荷
//
// 每个因果独立的请求恰好产生一条任务；broker 可能重复投递，
// 消费侧必须在重复投递下安全（幂等跳过 / no-op 应答）。
// 载荷只携带恢复执行所需的最小信息，其余状态以账本为准。
type Task struct {
	// Kind 任务种类
	Kind TaskKind `json:"kind"`

	// RunID build/replay 的目标 Run
	RunID string `json:"run_id,omitempty"`

	// Index rollback 的目标索引
	Index string `json:"index,omitempty"`

	// FromStep replay 的起始步骤
	FromStep Step `json:"from_step,omitempty"`

	// Steps rollback 回退的版本数
	Steps int `json:"steps,omitempty"`

	// SubmittedAt 提交时间
	SubmittedAt time.Time `json:"submitted_at"`
}
