// Package repository Run 账本相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rag-indexer/internal/shared/model"
)

// CreateRun 创建 Run 及其全部步骤记录（单事务）
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`
			INSERT INTO runs (id, index_name, dataset, status, fail_step, fail_mode, fail_fired, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`)
		_, err := tx.ExecContext(ctx, query,
			run.ID, run.Index, run.Dataset, run.Status, run.FailStep, run.FailMode,
			boolToInt(run.FailFired), run.Error, run.CreatedAt, run.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stepQuery := s.rebind(`
			INSERT INTO run_steps (run_id, step, step_order, status, started_at, finished_at, error, artifact_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		for _, rec := range run.Steps {
			_, err := tx.ExecContext(ctx, stepQuery,
				run.ID, rec.Step, model.StepIndex(rec.Step), rec.Status,
				rec.StartedAt, rec.FinishedAt, rec.Error, rec.ArtifactRef)
			if err != nil {
				return fmt.Errorf("insert step %s: %w", rec.Step, err)
			}
		}
		return nil
	})
}

// GetRun 获取 Run 及其按固定顺序排列的步骤记录
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := s.rebind(`SELECT id, index_name, dataset, status, fail_step, fail_mode, fail_fired, error, created_at, updated_at
			  FROM runs WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stepQuery := s.rebind(`SELECT step, status, started_at, finished_at, error, artifact_ref
			  FROM run_steps WHERE run_id = $1 ORDER BY step_order ASC`)
	rows, err := s.db.QueryContext(ctx, stepQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.StepRecord
		if err := rows.Scan(&rec.Step, &rec.Status, &rec.StartedAt, &rec.FinishedAt, &rec.Error, &rec.ArtifactRef); err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, rec)
	}
	return run, rows.Err()
}

// scanRun 辅助函数
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	run := &model.Run{}
	var fired int
	err := scanner.Scan(
		&run.ID, &run.Index, &run.Dataset, &run.Status, &run.FailStep, &run.FailMode,
		&fired, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.FailFired = fired != 0
	return run, nil
}

// UpdateRunStatus 更新 Run 状态和错误信息（errMsg 为空表示清除）
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg string) error {
	query := s.rebind(`UPDATE runs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id, status, errMsg, time.Now().UTC())
	return err
}

// SetRunInjection 覆盖故障注入指令并复位 once 闩锁
func (s *Store) SetRunInjection(ctx context.Context, id string, failStep model.Step, failMode model.FailMode) error {
	query := s.rebind(`UPDATE runs SET fail_step = $2, fail_mode = $3, fail_fired = 0, updated_at = $4 WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id, failStep, failMode, time.Now().UTC())
	return err
}

// MarkFailFired 置位 once 注入模式的触发闩锁
func (s *Store) MarkFailFired(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE runs SET fail_fired = 1, updated_at = $2 WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	return err
}

// UpdateStep 更新单个步骤记录
func (s *Store) UpdateStep(ctx context.Context, runID string, rec *model.StepRecord) error {
	query := s.rebind(`UPDATE run_steps
			  SET status = $3, started_at = $4, finished_at = $5, error = $6, artifact_ref = $7
			  WHERE run_id = $1 AND step = $2`)
	_, err := s.db.ExecContext(ctx, query,
		runID, rec.Step, rec.Status, rec.StartedAt, rec.FinishedAt, rec.Error, rec.ArtifactRef)
	if err != nil {
		return err
	}
	touch := s.rebind(`UPDATE runs SET updated_at = $2 WHERE id = $1`)
	_, err = s.db.ExecContext(ctx, touch, runID, time.Now().UTC())
	return err
}

// ResetStepsFrom 将 from（含）之后的步骤重置为 pending 并清除 Run 级错误
//
// replay 的失效语义：from 之前的步骤及其产物原样保留复用，
// from 及之后的记录（状态、产物引用、错误、时间戳）全部清除。
func (s *Store) ResetStepsFrom(ctx context.Context, runID string, from model.Step) error {
	idx := model.StepIndex(from)
	if idx < 0 {
		return fmt.Errorf("unknown step: %s", from)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`UPDATE run_steps
				  SET status = 'pending', started_at = NULL, finished_at = NULL, error = '', artifact_ref = ''
				  WHERE run_id = $1 AND step_order >= $2`)
		if _, err := tx.ExecContext(ctx, query, runID, idx); err != nil {
			return fmt.Errorf("reset steps: %w", err)
		}
		clear := s.rebind(`UPDATE runs SET error = '', updated_at = $2 WHERE id = $1`)
		if _, err := tx.ExecContext(ctx, clear, runID, time.Now().UTC()); err != nil {
			return fmt.Errorf("clear run error: %w", err)
		}
		return nil
	})
}

// ListStalePendingRuns 列出最近一次更新后超过阈值仍为 pending 的 Run
//
// 以 updated_at 为基准：replay 把 Run 重置回 pending 时会刷新 updated_at，
// 刚提交的重放不会被误判为滞留而重复补投。
func (s *Store) ListStalePendingRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	query := s.rebind(`SELECT id, index_name, dataset, status, fail_step, fail_mode, fail_fired, error, created_at, updated_at
			  FROM runs
			  WHERE status = 'pending' AND updated_at < $1
			  ORDER BY updated_at ASC
			  LIMIT 100`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
