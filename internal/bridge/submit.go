// Package bridge 连接 API 层、任务队列和流水线引擎
//
// submit.go 是提交侧：先持久化再入队。入队失败不回滚账本——
// 兜底重新入队循环会补投长时间停留在 pending 的 Run。
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/objstore"
	"rag-indexer/internal/shared/queue"
	"rag-indexer/internal/shared/storage"
	"rag-indexer/pkg/logging"
)

// Submitter 任务提交器
type Submitter struct {
	store     storage.PersistentStore
	queue     queue.TaskQueue
	artifacts objstore.ArtifactStore
	logger    *logging.Logger
}

// NewSubmitter 创建任务提交器
// artifacts 可为 nil，此时重放提交跳过失效产物清理
func NewSubmitter(store storage.PersistentStore, q queue.TaskQueue, artifacts objstore.ArtifactStore) *Submitter {
	return &Submitter{
		store:     store,
		queue:     q,
		artifacts: artifacts,
		logger:    logging.Default("submitter"),
	}
}

// SubmitBuild 提交一次构建：创建 Run 账本记录，然后入队构建任务
func (s *Submitter) SubmitBuild(ctx context.Context, index, dataset string, failStep model.Step, failMode model.FailMode) (*model.Run, error) {
	if index == "" || dataset == "" {
		return nil, fmt.Errorf("index and dataset are required: %w", errdefs.ErrInvalidArgument)
	}
	if failStep != "" && !model.ValidStep(failStep) {
		return nil, fmt.Errorf("unknown fail step %q: %w", failStep, errdefs.ErrInvalidArgument)
	}
	if failMode != "" && !model.ValidFailMode(failMode) {
		return nil, fmt.Errorf("unknown fail mode %q: %w", failMode, errdefs.ErrInvalidArgument)
	}

	run := model.NewRun(uuid.NewString(), index, dataset, failStep, failMode)
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	s.enqueue(ctx, &model.Task{
		Kind:        model.TaskKindBuild,
		RunID:       run.ID,
		Index:       index,
		SubmittedAt: time.Now().UTC(),
	})

	s.logger.WithRunID(run.ID).WithIndex(index).Info("Build submitted", "dataset", dataset)
	return run, nil
}

// SubmitReplay 提交一次重放：重置 from 及之后的步骤，然后入队重放任务
//
//   - 只有 failed 的 Run 可以重放（succeeded/进行中返回 FailedPrecondition）
//   - from 不能晚于第一个未完成的步骤（否则会跳过缺失的上游产物）
//   - 注入指令被新请求覆盖，once 闩锁复位
func (s *Submitter) SubmitReplay(ctx context.Context, runID string, fromStep, failStep model.Step, failMode model.FailMode) (*model.Run, error) {
	if !model.ValidStep(fromStep) {
		return nil, fmt.Errorf("unknown step %q: %w", fromStep, errdefs.ErrInvalidArgument)
	}
	if failStep != "" && !model.ValidStep(failStep) {
		return nil, fmt.Errorf("unknown fail step %q: %w", failStep, errdefs.ErrInvalidArgument)
	}
	if failMode != "" && !model.ValidFailMode(failMode) {
		return nil, fmt.Errorf("unknown fail mode %q: %w", failMode, errdefs.ErrInvalidArgument)
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, errdefs.ErrNotFound)
	}
	if run.Status != model.RunStatusFailed {
		return nil, fmt.Errorf("run %s is %s, only failed runs can be replayed: %w",
			runID, run.Status, errdefs.ErrFailedPrecondition)
	}
	if !run.CanReplayFrom(fromStep) {
		first, _ := run.FirstNonDoneStep()
		return nil, fmt.Errorf("cannot replay run %s from %s (first incomplete step is %s): %w",
			runID, fromStep, first, errdefs.ErrFailedPrecondition)
	}

	if err := s.store.SetRunInjection(ctx, runID, failStep, normalizeFailMode(failMode)); err != nil {
		return nil, fmt.Errorf("set injection: %w", err)
	}
	if err := s.store.ResetStepsFrom(ctx, runID, fromStep); err != nil {
		return nil, fmt.Errorf("reset steps: %w", err)
	}
	s.dropArtifacts(ctx, runID, fromStep)
	if err := s.store.UpdateRunStatus(ctx, runID, model.RunStatusPending, ""); err != nil {
		return nil, fmt.Errorf("mark run pending: %w", err)
	}

	s.enqueue(ctx, &model.Task{
		Kind:        model.TaskKindReplay,
		RunID:       runID,
		Index:       run.Index,
		FromStep:    fromStep,
		SubmittedAt: time.Now().UTC(),
	})

	s.logger.WithRunID(runID).Info("Replay submitted", "from_step", string(fromStep))
	return s.store.GetRun(ctx, runID)
}

// SubmitRollback 提交一次回退：校验可行性后入队回退任务
//
// 校验用当时的目录快照做早期拒绝（无 active 版本 / 越过最早版本），
// 最终以 worker 执行时的目录状态为准。
func (s *Submitter) SubmitRollback(ctx context.Context, index string, steps int) error {
	if index == "" {
		return fmt.Errorf("index is required: %w", errdefs.ErrInvalidArgument)
	}
	if steps < 1 {
		return fmt.Errorf("rollback steps must be >= 1: %w", errdefs.ErrInvalidArgument)
	}

	hist, err := s.store.GetIndexHistory(ctx, index)
	if err != nil {
		return fmt.Errorf("load index history: %w", err)
	}
	if hist.Active == nil {
		return fmt.Errorf("index %s has no active version: %w", index, errdefs.ErrFailedPrecondition)
	}
	if _, ok := hist.RollbackTarget(steps); !ok {
		return fmt.Errorf("rollback %d steps past oldest version of %s: %w", steps, index, errdefs.ErrOutOfRange)
	}

	task := &model.Task{
		Kind:        model.TaskKindRollback,
		Index:       index,
		Steps:       steps,
		SubmittedAt: time.Now().UTC(),
	}
	if _, err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue rollback: %w", err)
	}

	s.logger.WithIndex(index).Info("Rollback submitted", "steps", steps)
	return nil
}

// dropArtifacts 删除 from 及之后步骤的失效产物
// 尽力而为：账本重置后这些步骤必然重算并覆盖写入，清理失败不阻塞重放
func (s *Submitter) dropArtifacts(ctx context.Context, runID string, from model.Step) {
	if s.artifacts == nil {
		return
	}
	idx := model.StepIndex(from)
	if idx < 0 {
		return
	}
	for _, step := range model.StepOrder()[idx:] {
		key := objstore.ArtifactKey(runID, step)
		if err := s.artifacts.DeleteArtifact(ctx, key); err != nil {
			s.logger.WithRunID(runID).WithError(err).Debug("Failed to delete stale artifact", "key", key)
		}
	}
}

// enqueue 入队（失败只记日志，由兜底循环补投）
func (s *Submitter) enqueue(ctx context.Context, task *model.Task) {
	if _, err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.WithRunID(task.RunID).WithError(err).
			Warn("Enqueue failed, fallback loop will requeue", "kind", string(task.Kind))
	}
}

func normalizeFailMode(m model.FailMode) model.FailMode {
	if m == "" {
		return model.FailModeNever
	}
	return m
}
