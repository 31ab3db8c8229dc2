// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/（MongoDB）、
//     etcd/（仅目录指针）
//   - 初始化时通过依赖注入传入实现
//
// 并发约定：
//   - Run 账本条目仅由持有该 Run 任务租约的 worker 修改
//   - 索引 active 指针是跨进程共享的竞争资源，所有修改必须带
//     expectedRev 走乐观并发检查，修订不匹配返回包裹
//     errdefs.ErrConflict 的错误
package storage

import (
	"context"
	"time"

	"rag-indexer/internal/shared/model"
)

// RunStore Run 账本存储接口
type RunStore interface {
	// CreateRun 持久化一个新 Run（含全部步骤记录）
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun 获取 Run 及其按固定顺序排列的步骤记录；不存在时返回 (nil, nil)
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// UpdateRunStatus 更新 Run 状态和错误信息（errMsg 为空表示清除）
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg string) error

	// SetRunInjection 覆盖 Run 的故障注入指令（replay 提交时持久化意图）
	SetRunInjection(ctx context.Context, id string, failStep model.Step, failMode model.FailMode) error

	// MarkFailFired 置位 once 注入模式的触发闩锁
	MarkFailFired(ctx context.Context, id string) error

	// UpdateStep 更新单个步骤记录
	UpdateStep(ctx context.Context, runID string, rec *model.StepRecord) error

	// ResetStepsFrom 将 from（含）之后的步骤重置为 pending，
	// 清除其产物引用/错误/时间戳，并清除 Run 级错误
	ResetStepsFrom(ctx context.Context, runID string, from model.Step) error

	// ListStalePendingRuns 列出最近一次更新后超过阈值仍为 pending 的 Run
	// （用于补偿入队：持久化成功但入队失败/崩溃的情况）
	ListStalePendingRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error)
}

// CatalogStore 索引目录存储接口
type CatalogStore interface {
	// GetIndexHistory 返回单一一致快照下的完整版本历史和 active 指针。
	// 索引从未晋升时返回空历史（Rev == 0），不返回错误。
	GetIndexHistory(ctx context.Context, index string) (*model.IndexHistory, error)

	// PromoteVersion 追加新版本并把 active 指针切到该版本，二者为
	// 单个原子操作；expectedRev 与当前指针修订不符、或版本号已存在时
	// 返回 errdefs.ErrConflict
	PromoteVersion(ctx context.Context, index string, v *model.IndexVersion, expectedRev int64) error

	// SetActiveVersion 仅移动 active 指针（rollback 路径），不创建版本；
	// 同样的乐观并发语义
	SetActiveVersion(ctx context.Context, index string, version int64, expectedRev int64) error
}

// PersistentStore 组合存储接口
type PersistentStore interface {
	RunStore
	CatalogStore
	Close() error
}
