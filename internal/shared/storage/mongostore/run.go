package mongostore

import (
	"context"
	"time"

	"github.com/containerd/errdefs"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"rag-indexer/internal/shared/model"
)

// ============================================================================
// RunStore 实现（步骤记录内嵌在 Run 文档中）
// ============================================================================

// CreateRun 持久化一个新 Run（步骤数组随文档一起写入）
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return insertOne(ctx, s.col(ColRuns), run)
}

// GetRun 获取 Run；不存在时返回 (nil, nil)
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}})
}

// UpdateRunStatus 更新 Run 状态和错误信息（errMsg 为空表示清除）
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg string) error {
	update := bson.D{
		{Key: "status", Value: status},
		{Key: "error", Value: errMsg},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	return updateFields(ctx, s.col(ColRuns), id, update)
}

// SetRunInjection 覆盖故障注入指令并复位触发闩锁
func (s *Store) SetRunInjection(ctx context.Context, id string, failStep model.Step, failMode model.FailMode) error {
	if failMode == "" {
		failMode = model.FailModeNever
	}
	update := bson.D{
		{Key: "fail_step", Value: failStep},
		{Key: "fail_mode", Value: failMode},
		{Key: "fail_fired", Value: false},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	return updateFields(ctx, s.col(ColRuns), id, update)
}

// MarkFailFired 置位 once 注入模式的触发闩锁
func (s *Store) MarkFailFired(ctx context.Context, id string) error {
	update := bson.D{
		{Key: "fail_fired", Value: true},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	return updateFields(ctx, s.col(ColRuns), id, update)
}

// UpdateStep 更新内嵌步骤数组中的单条记录
func (s *Store) UpdateStep(ctx context.Context, runID string, rec *model.StepRecord) error {
	filter := bson.D{
		{Key: "_id", Value: runID},
		{Key: "steps.step", Value: rec.Step},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "steps.$", Value: rec},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	res, err := s.col(ColRuns).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return errdefs.ErrNotFound
	}
	return nil
}

// ResetStepsFrom 将 from（含）之后的步骤重置为 pending，并清除 Run 级错误
func (s *Store) ResetStepsFrom(ctx context.Context, runID string, from model.Step) error {
	idx := model.StepIndex(from)
	if idx < 0 {
		return nil
	}
	resetSteps := model.StepOrder()[idx:]

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "steps.$[elem].status", Value: model.StepStatusPending},
		{Key: "steps.$[elem].started_at", Value: nil},
		{Key: "steps.$[elem].finished_at", Value: nil},
		{Key: "steps.$[elem].error", Value: ""},
		{Key: "steps.$[elem].artifact_ref", Value: ""},
		{Key: "error", Value: ""},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	opts := options.UpdateOne().SetArrayFilters([]interface{}{
		bson.D{{Key: "elem.step", Value: bson.D{{Key: "$in", Value: resetSteps}}}},
	})

	_, err := s.col(ColRuns).UpdateOne(ctx, bson.D{{Key: "_id", Value: runID}}, update, opts)
	return wrapError(err)
}

// ListStalePendingRuns 列出最近一次更新后超过阈值仍为 pending 的 Run
//
// 以 updated_at 为基准：replay 重置会刷新 updated_at，
// 刚提交的重放不会被误判为滞留。
func (s *Store) ListStalePendingRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	filter := bson.D{
		{Key: "status", Value: model.RunStatusPending},
		{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(100)
	return findMany[model.Run](ctx, s.col(ColRuns), filter, opts)
}
