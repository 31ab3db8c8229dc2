// Package pipeline 引擎集成测试
//
// 使用 SQLite 内存数据库 + 内存队列/向量库/对象存储，
// 验证完整流水线、故障注入、基础设施故障续跑和晋升竞争。
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-indexer/internal/catalog"
	"rag-indexer/internal/config"
	"rag-indexer/internal/shared/eventbus"
	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/objstore"
	"rag-indexer/internal/shared/storage"
	sqlitedriver "rag-indexer/internal/shared/storage/driver/sqlite"
	"rag-indexer/internal/shared/storage/repository"
	"rag-indexer/internal/shared/vector"
)

type engineFixture struct {
	store     *repository.Store
	vectors   *vector.MemoryStore
	artifacts *objstore.MemoryStore
	runlog    *eventbus.MemoryLog
	catalog   *catalog.Service
	engine    *Engine
	cfg       config.PipelineConfig
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	docsDir := t.TempDir()
	sampleDir := filepath.Join(docsDir, "sample")
	require.NoError(t, os.MkdirAll(sampleDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sampleDir, "intro.md"),
		[]byte("Retries in distributed systems need idempotent operations.\n"+strings.Repeat("More context. ", 80)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sampleDir, "versioning.md"),
		[]byte("Index versioning enables instant rollback via an alias switch.\n"+strings.Repeat("Details here. ", 80)), 0644))

	cfg := config.PipelineConfig{
		DocsDir:      docsDir,
		EmbedDim:     16,
		ChunkSize:    600,
		ChunkOverlap: 80,
		UpsertBatch:  128,
		AliasPrefix:  "idx",
	}

	vectors := vector.NewMemoryStore()
	artifacts := objstore.NewMemoryStore()
	runlog := eventbus.NewMemoryLog()
	cat := catalog.NewService(store, vectors, cfg.AliasPrefix)

	return &engineFixture{
		store:     store,
		vectors:   vectors,
		artifacts: artifacts,
		runlog:    runlog,
		catalog:   cat,
		engine:    NewEngine(store, cat, vectors, artifacts, runlog, cfg),
		cfg:       cfg,
	}
}

func (f *engineFixture) createRun(t *testing.T, id string, failStep model.Step, failMode model.FailMode) *model.Run {
	t.Helper()
	run := model.NewRun(id, "demo", "sample", failStep, failMode)
	require.NoError(t, f.store.CreateRun(context.Background(), run))
	return run
}

func (f *engineFixture) reload(t *testing.T, id string) *model.Run {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func TestExecuteFullRun(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	run := f.createRun(t, "run-full-001", "", model.FailModeNever)
	status, err := f.engine.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, status)

	got := f.reload(t, run.ID)
	assert.Equal(t, model.RunStatusSucceeded, got.Status)
	for _, rec := range got.Steps {
		assert.Equal(t, model.StepStatusDone, rec.Status, "step %s", rec.Step)
		assert.NotEmpty(t, rec.ArtifactRef, "step %s", rec.Step)
		exists, err := f.artifacts.ArtifactExists(ctx, rec.ArtifactRef)
		require.NoError(t, err)
		assert.True(t, exists, "artifact for %s", rec.Step)
	}

	// 目录：v1 active，命名空间由 Run 派生
	hist, err := f.catalog.History(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, hist.Active)
	assert.Equal(t, int64(1), *hist.Active)
	assert.Equal(t, NamespaceForRun(run.ID), hist.Versions[0].Namespace)

	// 别名指向新命名空间，查询可用
	ns, err := f.vectors.GetAlias(ctx, f.catalog.Alias("demo"))
	require.NoError(t, err)
	assert.Equal(t, NamespaceForRun(run.ID), ns)

	count, err := f.vectors.CountPoints(ctx, ns)
	require.NoError(t, err)
	assert.Greater(t, count, int64(0))

	// Run 日志记录了每个步骤
	entries, err := f.runlog.Read(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestExecuteInjectedFailureOnceThenReplay(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	run := f.createRun(t, "run-inject-001", model.StepEmbed, model.FailModeOnce)
	status, err := f.engine.Execute(ctx, run)
	// 确定性失败：无错误上抛，消息应被确认
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, status)

	got := f.reload(t, run.ID)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "injected failure at embed")
	assert.True(t, got.FailFired)
	// 上游步骤保留，失败步骤记录错误
	assert.Equal(t, model.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, model.StepStatusDone, got.Steps[1].Status)
	assert.Equal(t, model.StepStatusFailed, got.Steps[2].Status)

	discoverKey := objstore.ArtifactKey(run.ID, model.StepDiscover)
	chunkKey := objstore.ArtifactKey(run.ID, model.StepChunk)
	discoverBefore, err := f.artifacts.ReadArtifact(ctx, discoverKey)
	require.NoError(t, err)
	chunkBefore, err := f.artifacts.ReadArtifact(ctx, chunkKey)
	require.NoError(t, err)

	// replay from embed：重置步骤，闩锁已触发，注入不再生效
	require.NoError(t, f.store.ResetStepsFrom(ctx, run.ID, model.StepEmbed))
	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusPending, ""))
	got = f.reload(t, run.ID)

	status, err = f.engine.Execute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, status)

	// 上游产物逐字节复用，不被重算覆盖
	discoverAfter, err := f.artifacts.ReadArtifact(ctx, discoverKey)
	require.NoError(t, err)
	assert.Equal(t, discoverBefore, discoverAfter)
	chunkAfter, err := f.artifacts.ReadArtifact(ctx, chunkKey)
	require.NoError(t, err)
	assert.Equal(t, chunkBefore, chunkAfter)
}

func TestExecuteAlwaysInjectionFailsEveryTime(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	run := f.createRun(t, "run-inject-002", model.StepPromote, model.FailModeAlways)
	status, err := f.engine.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, status)

	// replay 不改注入指令：再次失败
	require.NoError(t, f.store.ResetStepsFrom(ctx, run.ID, model.StepPromote))
	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusPending, ""))
	got := f.reload(t, run.ID)

	status, err = f.engine.Execute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, status)
}

// flakyVectorStore 第一次 UpsertPoints 返回基础设施故障
type flakyVectorStore struct {
	*vector.MemoryStore
	failures int
}

func (s *flakyVectorStore) UpsertPoints(ctx context.Context, namespace string, points []vector.Point) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("connection refused")
	}
	return s.MemoryStore.UpsertPoints(ctx, namespace, points)
}

func TestExecuteResumesAfterInfraFault(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	flaky := &flakyVectorStore{MemoryStore: f.vectors, failures: 1}
	engine := NewEngine(f.store, f.catalog, flaky, f.artifacts, f.runlog, f.cfg)

	run := f.createRun(t, "run-flaky-001", "", model.FailModeNever)
	status, err := engine.Execute(ctx, run)
	// 基础设施故障：错误上抛触发重新投递，Run 保持 running
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
	assert.Equal(t, model.RunStatusRunning, status)

	got := f.reload(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	// 故障步骤回到 pending，可被续跑；上游步骤保持 done
	assert.Equal(t, model.StepStatusDone, got.Steps[2].Status)
	assert.Equal(t, model.StepStatusPending, got.Steps[3].Status)

	// 重新投递：从 upsert 续跑到成功
	status, err = engine.Execute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, status)
}

// flakyArtifactStore 指定产物键的第一次写入返回基础设施故障
type flakyArtifactStore struct {
	*objstore.MemoryStore
	failKey  string
	failures int
}

func (s *flakyArtifactStore) WriteArtifact(ctx context.Context, key string, data []byte) error {
	if s.failures > 0 && key == s.failKey {
		s.failures--
		return fmt.Errorf("connection reset")
	}
	return s.MemoryStore.WriteArtifact(ctx, key, data)
}

// 晋升已落库、产物写入故障触发重投递：续跑不能追加第二个版本
func TestExecutePromoteRedeliveryKeepsSingleVersion(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	run := f.createRun(t, "run-redeliver-001", "", model.FailModeNever)
	flaky := &flakyArtifactStore{
		MemoryStore: f.artifacts,
		failKey:     objstore.ArtifactKey(run.ID, model.StepPromote),
		failures:    1,
	}
	engine := NewEngine(f.store, f.catalog, f.vectors, flaky, f.runlog, f.cfg)

	status, err := engine.Execute(ctx, run)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
	assert.Equal(t, model.RunStatusRunning, status)

	got := f.reload(t, run.ID)
	status, err = engine.Execute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, status)

	// 一次构建只产生一个目录版本
	hist, err := f.catalog.History(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, hist.Versions, 1)
	require.NotNil(t, hist.Active)
	assert.Equal(t, int64(1), *hist.Active)
}

// conflictingCatalogStore 晋升永远输掉指针竞争
type conflictingCatalogStore struct {
	storage.PersistentStore
}

func (s *conflictingCatalogStore) PromoteVersion(ctx context.Context, index string, v *model.IndexVersion, expectedRev int64) error {
	return fmt.Errorf("pointer rev mismatch for %s: %w", index, errdefs.ErrConflict)
}

func TestExecutePromoteConflictFailsRun(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	conflicted := &conflictingCatalogStore{PersistentStore: f.store}
	cat := catalog.NewService(conflicted, f.vectors, f.cfg.AliasPrefix)
	engine := NewEngine(f.store, cat, f.vectors, f.artifacts, f.runlog, f.cfg)

	run := f.createRun(t, "run-conflict-001", "", model.FailModeNever)
	status, err := engine.Execute(ctx, run)
	// 竞争失败：Run 标记 failed，错误上抛
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
	assert.Equal(t, model.RunStatusFailed, status)

	got := f.reload(t, run.ID)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, model.StepStatusFailed, got.Steps[4].Status)

	// 重投递撞上终态 Run：直接吸收
	status, err = f.engine.Execute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, status)
}
