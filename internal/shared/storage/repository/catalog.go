// Package repository 索引目录（版本历史 + active 指针）的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
)

// GetIndexHistory 获取索引的完整版本历史和 active 指针快照
// 索引不存在时返回空历史（Rev==0），不报错
func (s *Store) GetIndexHistory(ctx context.Context, index string) (*model.IndexHistory, error) {
	hist := &model.IndexHistory{Index: index}

	query := s.rebind(`SELECT active_version, rev, updated_at FROM index_pointers WHERE index_name = $1`)
	var active sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, index).Scan(&active, &hist.Rev, &hist.UpdatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if active.Valid {
		v := active.Int64
		hist.Active = &v
	}

	verQuery := s.rebind(`SELECT version, namespace, promoted, created_at
			  FROM index_versions WHERE index_name = $1 ORDER BY version ASC`)
	rows, err := s.db.QueryContext(ctx, verQuery, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v model.IndexVersion
		var promoted int
		if err := rows.Scan(&v.Version, &v.Namespace, &promoted, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Promoted = promoted != 0
		hist.Versions = append(hist.Versions, v)
	}
	return hist, rows.Err()
}

// PromoteVersion 追加新版本并推进 active 指针（单事务 + 乐观并发检查）
//
// expectedRev 与 index_pointers.rev 不一致时整个事务失败，
// 返回 errdefs.ErrConflict，调用方据此判定并发晋升竞争。
// expectedRev==0 表示索引首次晋升，此时插入指针行。
func (s *Store) PromoteVersion(ctx context.Context, index string, v *model.IndexVersion, expectedRev int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		insert := s.rebind(`INSERT INTO index_versions (index_name, version, namespace, promoted, created_at)
				  VALUES ($1, $2, $3, 1, $4)`)
		if _, err := tx.ExecContext(ctx, insert, index, v.Version, v.Namespace, v.CreatedAt); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return s.casPointer(ctx, tx, index, v.Version, expectedRev)
	})
}

// SetActiveVersion 将 active 指针移到历史中已存在的版本（rollback 用）
func (s *Store) SetActiveVersion(ctx context.Context, index string, version int64, expectedRev int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		check := s.rebind(`SELECT COUNT(*) FROM index_versions WHERE index_name = $1 AND version = $2`)
		var count int
		if err := tx.QueryRowContext(ctx, check, index, version).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("index %s has no version %d: %w", index, version, errdefs.ErrNotFound)
		}
		return s.casPointer(ctx, tx, index, version, expectedRev)
	})
}

// casPointer 指针 CAS：rev 匹配才推进，否则 ErrConflict
func (s *Store) casPointer(ctx context.Context, tx *sql.Tx, index string, version int64, expectedRev int64) error {
	now := time.Now().UTC()

	if expectedRev == 0 {
		// 首次写入：靠主键冲突挡住并发的首次晋升
		insert := s.rebind(`INSERT INTO index_pointers (index_name, active_version, rev, updated_at)
				  VALUES ($1, $2, 1, $3)`)
		if _, err := tx.ExecContext(ctx, insert, index, version, now); err != nil {
			return fmt.Errorf("pointer already initialized for %s: %w", index, errdefs.ErrConflict)
		}
		return nil
	}

	update := s.rebind(`UPDATE index_pointers
			  SET active_version = $1, rev = rev + 1, updated_at = $2
			  WHERE index_name = $3 AND rev = $4`)
	res, err := tx.ExecContext(ctx, update, version, now, index, expectedRev)
	if err != nil {
		return fmt.Errorf("update pointer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("pointer rev mismatch for %s (expected %d): %w", index, expectedRev, errdefs.ErrConflict)
	}
	return nil
}
