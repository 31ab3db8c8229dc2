// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层所有存储接口的正确性。
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"testing"
	"time"

	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/storage/dbutil"
	sqlitedriver "rag-indexer/internal/shared/storage/driver/sqlite"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "1", d.BooleanLiteral(true))
	assert.Equal(t, "0", d.BooleanLiteral(false))
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
}

// ============================================================================
// Run 测试
// ============================================================================

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun("run-001", "demo", "sample", model.StepEmbed, model.FailModeOnce)
	require.NoError(t, s.CreateRun(ctx, run))

	// Get：步骤按固定流水线顺序返回
	got, err := s.GetRun(ctx, "run-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo", got.Index)
	assert.Equal(t, "sample", got.Dataset)
	assert.Equal(t, model.RunStatusPending, got.Status)
	assert.Equal(t, model.StepEmbed, got.FailStep)
	assert.Equal(t, model.FailModeOnce, got.FailMode)
	assert.False(t, got.FailFired)
	require.Len(t, got.Steps, len(model.StepOrder()))
	for i, step := range model.StepOrder() {
		assert.Equal(t, step, got.Steps[i].Step)
		assert.Equal(t, model.StepStatusPending, got.Steps[i].Status)
	}

	// Get not found
	got, err = s.GetRun(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)

	// 状态流转
	require.NoError(t, s.UpdateRunStatus(ctx, "run-001", model.RunStatusRunning, ""))
	got, _ = s.GetRun(ctx, "run-001")
	assert.Equal(t, model.RunStatusRunning, got.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-001", model.RunStatusFailed, "injected failure at embed"))
	got, _ = s.GetRun(ctx, "run-001")
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "injected failure at embed", got.Error)

	// errMsg 为空清除错误
	require.NoError(t, s.UpdateRunStatus(ctx, "run-001", model.RunStatusSucceeded, ""))
	got, _ = s.GetRun(ctx, "run-001")
	assert.Empty(t, got.Error)
}

func TestStepUpdateAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun("run-002", "demo", "sample", "", model.FailModeNever)
	require.NoError(t, s.CreateRun(ctx, run))

	// 前三步标记完成
	now := time.Now().UTC().Truncate(time.Second)
	for _, step := range []model.Step{model.StepDiscover, model.StepChunk, model.StepEmbed} {
		start := now
		finish := now.Add(time.Second)
		rec := &model.StepRecord{
			Step:        step,
			Status:      model.StepStatusDone,
			StartedAt:   &start,
			FinishedAt:  &finish,
			ArtifactRef: "runs/run-002/" + string(step) + ".json",
		}
		require.NoError(t, s.UpdateStep(ctx, "run-002", rec))
	}

	// 第四步失败
	start := now
	rec := &model.StepRecord{
		Step:      model.StepUpsert,
		Status:    model.StepStatusFailed,
		StartedAt: &start,
		Error:     "vector store unavailable",
	}
	require.NoError(t, s.UpdateStep(ctx, "run-002", rec))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-002", model.RunStatusFailed, "vector store unavailable"))

	got, err := s.GetRun(ctx, "run-002")
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusDone, got.Steps[2].Status)
	assert.Equal(t, "runs/run-002/embed.json", got.Steps[2].ArtifactRef)
	assert.Equal(t, model.StepStatusFailed, got.Steps[3].Status)
	assert.Equal(t, "vector store unavailable", got.Steps[3].Error)

	// 从 embed 重置：embed 及之后清空，之前保留
	require.NoError(t, s.ResetStepsFrom(ctx, "run-002", model.StepEmbed))
	got, err = s.GetRun(ctx, "run-002")
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, model.StepStatusDone, got.Steps[1].Status)
	assert.Equal(t, "runs/run-002/chunk.json", got.Steps[1].ArtifactRef)
	for _, rec := range got.Steps[2:] {
		assert.Equal(t, model.StepStatusPending, rec.Status)
		assert.Empty(t, rec.ArtifactRef)
		assert.Empty(t, rec.Error)
		assert.Nil(t, rec.StartedAt)
		assert.Nil(t, rec.FinishedAt)
	}
	assert.Empty(t, got.Error)
}

func TestInjectionLatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun("run-003", "demo", "sample", model.StepUpsert, model.FailModeOnce)
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.MarkFailFired(ctx, "run-003"))
	got, _ := s.GetRun(ctx, "run-003")
	assert.True(t, got.FailFired)

	// replay 覆盖注入指令时闩锁复位
	require.NoError(t, s.SetRunInjection(ctx, "run-003", model.StepPromote, model.FailModeAlways))
	got, _ = s.GetRun(ctx, "run-003")
	assert.Equal(t, model.StepPromote, got.FailStep)
	assert.Equal(t, model.FailModeAlways, got.FailMode)
	assert.False(t, got.FailFired)
}

func TestListStalePendingRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := model.NewRun("run-old", "demo", "sample", "", model.FailModeNever)
	old.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, s.CreateRun(ctx, old))

	fresh := model.NewRun("run-fresh", "demo", "sample", "", model.FailModeNever)
	require.NoError(t, s.CreateRun(ctx, fresh))

	running := model.NewRun("run-running", "demo", "sample", "", model.FailModeNever)
	running.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, s.CreateRun(ctx, running))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-running", model.RunStatusRunning, ""))

	// 重放把老 Run 重置回 pending 时刷新 updated_at，不应被误判为滞留
	replayed := model.NewRun("run-replayed", "demo", "sample", "", model.FailModeNever)
	replayed.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	replayed.UpdatedAt = replayed.CreatedAt
	require.NoError(t, s.CreateRun(ctx, replayed))
	require.NoError(t, s.ResetStepsFrom(ctx, "run-replayed", model.StepEmbed))

	stale, err := s.ListStalePendingRuns(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "run-old", stale[0].ID)
}

// ============================================================================
// Catalog 测试
// ============================================================================

func TestCatalogPromoteAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 空历史：Rev==0，无错误
	hist, err := s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), hist.Rev)
	assert.Nil(t, hist.Active)
	assert.Empty(t, hist.Versions)

	// 首次晋升
	v1 := &model.IndexVersion{Version: 1, Namespace: "ns_aaaa0001", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PromoteVersion(ctx, "demo", v1, 0))

	hist, err = s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hist.Rev)
	require.NotNil(t, hist.Active)
	assert.Equal(t, int64(1), *hist.Active)
	require.Len(t, hist.Versions, 1)
	assert.Equal(t, "ns_aaaa0001", hist.Versions[0].Namespace)

	// 二次晋升：携带当前 rev
	v2 := &model.IndexVersion{Version: 2, Namespace: "ns_bbbb0002", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PromoteVersion(ctx, "demo", v2, hist.Rev))

	hist, err = s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hist.Rev)
	assert.Equal(t, int64(2), *hist.Active)
	assert.Len(t, hist.Versions, 2)
}

func TestCatalogConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &model.IndexVersion{Version: 1, Namespace: "ns_aaaa0001", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PromoteVersion(ctx, "demo", v1, 0))

	// 过期的 rev=0 再次晋升：CAS 失败
	v2 := &model.IndexVersion{Version: 2, Namespace: "ns_bbbb0002", CreatedAt: time.Now().UTC()}
	err := s.PromoteVersion(ctx, "demo", v2, 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	// 事务回滚：失败的晋升不留版本残骸
	hist, err := s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, hist.Versions, 1)
	assert.Equal(t, int64(1), hist.Rev)

	// 错误的 rev 也触发冲突
	err = s.PromoteVersion(ctx, "demo", v2, 99)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestCatalogRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		hist, err := s.GetIndexHistory(ctx, "demo")
		require.NoError(t, err)
		v := &model.IndexVersion{Version: i, Namespace: "ns_v", CreatedAt: time.Now().UTC()}
		require.NoError(t, s.PromoteVersion(ctx, "demo", v, hist.Rev))
	}

	hist, err := s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *hist.Active)

	// 回退到 v1
	require.NoError(t, s.SetActiveVersion(ctx, "demo", 1, hist.Rev))
	hist, err = s.GetIndexHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), *hist.Active)
	assert.Len(t, hist.Versions, 3)

	// 不存在的版本
	err = s.SetActiveVersion(ctx, "demo", 42, hist.Rev)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	// 过期 rev
	err = s.SetActiveVersion(ctx, "demo", 2, 1)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}
