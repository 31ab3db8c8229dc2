// Package pipeline 流水线执行引擎
//
// Execute 从第一个未完成的步骤开始顺序推进，已完成步骤的产物直接复用。
// 步骤失败分三类，决定消息的 ack/nack 走向：
//
//   - 确定性失败（业务错误、故障注入）：步骤和 Run 标记 failed，
//     返回 (failed, nil)。重试不会有不同结果，消息应被确认。
//   - 基础设施故障（Unavailable）：步骤重置回 pending，Run 保持 running，
//     返回错误。消息不确认，租约超时后重新投递并从该步骤续跑。
//   - 晋升竞争（Conflict）：Run 标记 failed 并返回错误。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/catalog"
	"rag-indexer/internal/config"
	"rag-indexer/internal/shared/eventbus"
	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/objstore"
	"rag-indexer/internal/shared/storage"
	"rag-indexer/internal/shared/vector"
	"rag-indexer/pkg/logging"
)

// Engine 流水线执行引擎
type Engine struct {
	runs      storage.RunStore
	catalog   *catalog.Service
	vectors   vector.VectorStore
	artifacts objstore.ArtifactStore
	runlog    eventbus.RunLog
	cfg       config.PipelineConfig
	logger    *logging.Logger
}

// NewEngine 创建流水线引擎
func NewEngine(
	runs storage.RunStore,
	cat *catalog.Service,
	vectors vector.VectorStore,
	artifacts objstore.ArtifactStore,
	runlog eventbus.RunLog,
	cfg config.PipelineConfig,
) *Engine {
	return &Engine{
		runs:      runs,
		catalog:   cat,
		vectors:   vectors,
		artifacts: artifacts,
		runlog:    runlog,
		cfg:       cfg,
		logger:    logging.Default("pipeline"),
	}
}

// Execute 推进 Run 直到完成或失败
//
// 返回的状态是 Run 的最新状态；错误仅在需要重新投递时返回
// （基础设施故障或晋升竞争），确定性失败返回 (failed, nil)。
func (e *Engine) Execute(ctx context.Context, run *model.Run) (model.RunStatus, error) {
	if run.Status.Terminal() {
		return run.Status, nil
	}

	log := e.logger.WithRunID(run.ID).WithIndex(run.Index)

	if run.Status != model.RunStatusRunning {
		if err := e.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning, ""); err != nil {
			return run.Status, fmt.Errorf("%w: mark run running: %v", errdefs.ErrUnavailable, err)
		}
		run.Status = model.RunStatusRunning
	}

	for _, step := range model.StepOrder() {
		rec := run.StepRecord(step)
		if rec.Status == model.StepStatusDone {
			continue
		}

		status, err := e.executeStep(ctx, run, step)
		if status != "" {
			return status, err
		}
	}

	if err := e.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusSucceeded, ""); err != nil {
		return model.RunStatusRunning, fmt.Errorf("%w: mark run succeeded: %v", errdefs.ErrUnavailable, err)
	}
	run.Status = model.RunStatusSucceeded
	e.appendLog(ctx, run.ID, "run", "run succeeded")
	log.Info("Run succeeded")
	return model.RunStatusSucceeded, nil
}

// executeStep 执行单个步骤
// 返回 ("", nil) 表示步骤完成可以继续；非空状态表示 Run 执行到此为止
func (e *Engine) executeStep(ctx context.Context, run *model.Run, step model.Step) (model.RunStatus, error) {
	log := e.logger.WithRunID(run.ID).WithStep(string(step))
	start := time.Now().UTC()

	rec := run.StepRecord(step)
	rec.Status = model.StepStatusRunning
	rec.StartedAt = &start
	rec.FinishedAt = nil
	rec.Error = ""
	if err := e.runs.UpdateStep(ctx, run.ID, rec); err != nil {
		return model.RunStatusRunning, fmt.Errorf("%w: mark step running: %v", errdefs.ErrUnavailable, err)
	}
	e.appendLog(ctx, run.ID, string(step), "step started")

	// 故障注入：确定性失败，once 模式先落闩锁再失败
	if run.ShouldInjectFailure(step) {
		if run.FailMode == model.FailModeOnce {
			if err := e.runs.MarkFailFired(ctx, run.ID); err != nil {
				return model.RunStatusRunning, fmt.Errorf("%w: mark fail fired: %v", errdefs.ErrUnavailable, err)
			}
			run.FailFired = true
		}
		return e.failStep(ctx, run, step, fmt.Errorf("injected failure at %s", step))
	}

	payload, err := e.runStep(ctx, run, step)
	if err != nil {
		if errdefs.IsUnavailable(err) {
			// 基础设施故障：步骤回到 pending，重新投递后从这里续跑
			rec.Status = model.StepStatusPending
			rec.StartedAt = nil
			if uerr := e.runs.UpdateStep(ctx, run.ID, rec); uerr != nil {
				log.WithError(uerr).Error("Failed to reset step after infra fault")
			}
			e.appendLog(ctx, run.ID, string(step), "infrastructure fault: "+err.Error())
			log.WithError(err).Warn("Step hit infrastructure fault")
			return model.RunStatusRunning, err
		}
		if errdefs.IsConflict(err) {
			// 晋升竞争：Run 失败，错误上抛让消息重投递（重投递时 Run 已是
			// 终态，会被幂等吸收确认）
			if _, ferr := e.failStep(ctx, run, step, err); ferr != nil {
				return model.RunStatusRunning, ferr
			}
			return model.RunStatusFailed, err
		}
		return e.failStep(ctx, run, step, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return e.failStep(ctx, run, step, fmt.Errorf("marshal artifact: %w", err))
	}
	key := objstore.ArtifactKey(run.ID, step)
	if err := e.artifacts.WriteArtifact(ctx, key, data); err != nil {
		rec.Status = model.StepStatusPending
		rec.StartedAt = nil
		if uerr := e.runs.UpdateStep(ctx, run.ID, rec); uerr != nil {
			log.WithError(uerr).Error("Failed to reset step after artifact write fault")
		}
		return model.RunStatusRunning, fmt.Errorf("%w: write artifact %s: %v", errdefs.ErrUnavailable, key, err)
	}

	finish := time.Now().UTC()
	rec.Status = model.StepStatusDone
	rec.FinishedAt = &finish
	rec.ArtifactRef = key
	if err := e.runs.UpdateStep(ctx, run.ID, rec); err != nil {
		return model.RunStatusRunning, fmt.Errorf("%w: mark step done: %v", errdefs.ErrUnavailable, err)
	}
	e.appendLog(ctx, run.ID, string(step), "step done")
	log.WithDuration(finish.Sub(start)).Info("Step done")
	return "", nil
}

// failStep 确定性失败：步骤和 Run 都标记 failed
func (e *Engine) failStep(ctx context.Context, run *model.Run, step model.Step, cause error) (model.RunStatus, error) {
	finish := time.Now().UTC()
	rec := run.StepRecord(step)
	rec.Status = model.StepStatusFailed
	rec.FinishedAt = &finish
	rec.Error = cause.Error()
	if err := e.runs.UpdateStep(ctx, run.ID, rec); err != nil {
		return model.RunStatusRunning, fmt.Errorf("%w: mark step failed: %v", errdefs.ErrUnavailable, err)
	}
	if err := e.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, cause.Error()); err != nil {
		return model.RunStatusRunning, fmt.Errorf("%w: mark run failed: %v", errdefs.ErrUnavailable, err)
	}
	run.Status = model.RunStatusFailed
	run.Error = cause.Error()
	e.appendLog(ctx, run.ID, string(step), "step failed: "+cause.Error())
	e.logger.WithRunID(run.ID).WithStep(string(step)).WithError(cause).Warn("Step failed")
	return model.RunStatusFailed, nil
}

// appendLog 追加 Run 日志（尽力而为）
func (e *Engine) appendLog(ctx context.Context, runID, stage, message string) {
	if e.runlog == nil {
		return
	}
	if err := e.runlog.Append(ctx, runID, stage, message); err != nil {
		e.logger.WithRunID(runID).WithError(err).Debug("Failed to append run log")
	}
}

// ============================================================================
// 步骤分发
// ============================================================================

// runStep 执行步骤的业务计算，返回待写入对象存储的产物
func (e *Engine) runStep(ctx context.Context, run *model.Run, step model.Step) (interface{}, error) {
	switch step {
	case model.StepDiscover:
		return e.stepDiscover(run)
	case model.StepChunk:
		return e.stepChunk(ctx, run)
	case model.StepEmbed:
		return e.stepEmbed(ctx, run)
	case model.StepUpsert:
		return e.stepUpsert(ctx, run)
	case model.StepPromote:
		return e.stepPromote(ctx, run)
	case model.StepSmoketest:
		return e.stepSmoketest(ctx, run)
	default:
		return nil, fmt.Errorf("unknown step: %s", step)
	}
}

func (e *Engine) stepDiscover(run *model.Run) (interface{}, error) {
	return LoadDocs(e.cfg.DocsDir, run.Dataset)
}

func (e *Engine) stepChunk(ctx context.Context, run *model.Run) (interface{}, error) {
	var docs []Document
	if err := e.readArtifact(ctx, run.ID, model.StepDiscover, &docs); err != nil {
		return nil, err
	}
	return ChunkDocs(docs, e.cfg.ChunkSize, e.cfg.ChunkOverlap), nil
}

func (e *Engine) stepEmbed(ctx context.Context, run *model.Run) (interface{}, error) {
	var chunks []Chunk
	if err := e.readArtifact(ctx, run.ID, model.StepChunk, &chunks); err != nil {
		return nil, err
	}
	embeddings := make([]Embedding, 0, len(chunks))
	for _, c := range chunks {
		embeddings = append(embeddings, Embedding{
			ChunkID: c.ID,
			Vector:  FakeEmbed(c.Text, e.cfg.EmbedDim),
		})
	}
	return embeddings, nil
}

func (e *Engine) stepUpsert(ctx context.Context, run *model.Run) (interface{}, error) {
	var chunks []Chunk
	if err := e.readArtifact(ctx, run.ID, model.StepChunk, &chunks); err != nil {
		return nil, err
	}
	var embeddings []Embedding
	if err := e.readArtifact(ctx, run.ID, model.StepEmbed, &embeddings); err != nil {
		return nil, err
	}

	byChunk := make(map[string][]float32, len(embeddings))
	for _, emb := range embeddings {
		byChunk[emb.ChunkID] = emb.Vector
	}

	namespace := NamespaceForRun(run.ID)
	if err := e.vectors.EnsureNamespace(ctx, namespace, e.cfg.EmbedDim); err != nil {
		return nil, fmt.Errorf("%w: ensure namespace %s: %v", errdefs.ErrUnavailable, namespace, err)
	}

	batch := make([]vector.Point, 0, e.cfg.UpsertBatch)
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.vectors.UpsertPoints(ctx, namespace, batch); err != nil {
			return fmt.Errorf("%w: upsert batch into %s: %v", errdefs.ErrUnavailable, namespace, err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, c := range chunks {
		vec, ok := byChunk[c.ID]
		if !ok {
			return nil, fmt.Errorf("missing embedding for chunk %s", c.ID)
		}
		batch = append(batch, vector.Point{
			ID:     PointID(c.ID),
			Vector: vec,
			Payload: vector.Payload{
				DocID:   c.DocID,
				ChunkID: c.ID,
				Text:    c.Text,
			},
		})
		if len(batch) >= e.cfg.UpsertBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &UpsertResult{Namespace: namespace, Points: total}, nil
}

func (e *Engine) stepPromote(ctx context.Context, run *model.Run) (interface{}, error) {
	var upserted UpsertResult
	if err := e.readArtifact(ctx, run.ID, model.StepUpsert, &upserted); err != nil {
		return nil, err
	}

	v, err := e.catalog.Promote(ctx, run.Index, upserted.Namespace)
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: promote %s: %v", errdefs.ErrUnavailable, run.Index, err)
	}
	return &PromoteResult{Version: v.Version, Namespace: v.Namespace}, nil
}

func (e *Engine) stepSmoketest(ctx context.Context, run *model.Run) (interface{}, error) {
	alias := e.catalog.Alias(run.Index)
	result := &SmoketestResult{Alias: alias}

	for _, query := range smoketestQueries {
		hits, err := e.vectors.SearchByAlias(ctx, alias, FakeEmbed(query, e.cfg.EmbedDim), 3)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return nil, fmt.Errorf("smoketest: alias %s not resolvable: %w", alias, err)
			}
			return nil, fmt.Errorf("%w: smoketest query: %v", errdefs.ErrUnavailable, err)
		}
		if len(hits) == 0 {
			return nil, fmt.Errorf("smoketest: query %q returned no hits", query)
		}
		result.Queries = append(result.Queries, SmoketestQuery{
			Query: query,
			Hits:  len(hits),
			TopID: hits[0].ID,
		})
	}
	return result, nil
}

// readArtifact 读取上游步骤产物
// 产物缺失说明步骤状态与对象存储不一致，按基础设施故障处理重试
func (e *Engine) readArtifact(ctx context.Context, runID string, step model.Step, out interface{}) error {
	key := objstore.ArtifactKey(runID, step)
	data, err := e.artifacts.ReadArtifact(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: read artifact %s: %v", errdefs.ErrUnavailable, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal artifact %s: %w", key, err)
	}
	return nil
}
