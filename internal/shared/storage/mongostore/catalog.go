package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"go.mongodb.org/mongo-driver/v2/bson"

	"rag-indexer/internal/shared/model"
)

// ============================================================================
// CatalogStore 实现
//
// 每个逻辑索引一个文档（_id = 索引名），版本历史内嵌为数组，
// active 指针和 rev 在同一文档内。单文档更新在 MongoDB 中是原子的，
// 条件更新（rev 匹配）天然实现乐观并发检查，无需事务。
// ============================================================================

// GetIndexHistory 返回完整版本历史和 active 指针
// 索引从未晋升时返回空历史（Rev == 0），不返回错误
func (s *Store) GetIndexHistory(ctx context.Context, index string) (*model.IndexHistory, error) {
	hist, err := findOne[model.IndexHistory](ctx, s.col(ColCatalog), bson.D{{Key: "_id", Value: index}})
	if err != nil {
		return nil, err
	}
	if hist == nil {
		return &model.IndexHistory{Index: index, Versions: []model.IndexVersion{}}, nil
	}
	if hist.Versions == nil {
		hist.Versions = []model.IndexVersion{}
	}
	return hist, nil
}

// PromoteVersion 追加新版本并切换 active 指针（单文档原子更新）
//
// expectedRev == 0 表示目录文档尚不存在，走插入路径；
// 文档已存在（重复键）或 rev 不匹配都返回 errdefs.ErrConflict。
func (s *Store) PromoteVersion(ctx context.Context, index string, v *model.IndexVersion, expectedRev int64) error {
	now := time.Now().UTC()

	if expectedRev == 0 {
		doc := &model.IndexHistory{
			Index:     index,
			Versions:  []model.IndexVersion{*v},
			Active:    &v.Version,
			Rev:       1,
			UpdatedAt: now,
		}
		if err := insertOne(ctx, s.col(ColCatalog), doc); err != nil {
			if errdefs.IsConflict(err) {
				return fmt.Errorf("pointer already initialized for %s: %w", index, errdefs.ErrConflict)
			}
			return err
		}
		return nil
	}

	// rev 匹配 + 版本号未被占用才允许更新
	filter := bson.D{
		{Key: "_id", Value: index},
		{Key: "rev", Value: expectedRev},
		{Key: "versions.version", Value: bson.D{{Key: "$ne", Value: v.Version}}},
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "versions", Value: v}}},
		{Key: "$set", Value: bson.D{
			{Key: "active", Value: v.Version},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$inc", Value: bson.D{{Key: "rev", Value: 1}}},
	}
	res, err := s.col(ColCatalog).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("pointer rev mismatch for %s (expected %d): %w", index, expectedRev, errdefs.ErrConflict)
	}
	return nil
}

// SetActiveVersion 仅移动 active 指针（rollback 路径），不创建版本
func (s *Store) SetActiveVersion(ctx context.Context, index string, version int64, expectedRev int64) error {
	// 目标版本必须已存在于历史中
	exists, err := findOne[model.IndexHistory](ctx, s.col(ColCatalog), bson.D{
		{Key: "_id", Value: index},
		{Key: "versions.version", Value: version},
	})
	if err != nil {
		return err
	}
	if exists == nil {
		return fmt.Errorf("index %s has no version %d: %w", index, version, errdefs.ErrNotFound)
	}

	filter := bson.D{
		{Key: "_id", Value: index},
		{Key: "rev", Value: expectedRev},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "active", Value: version},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
		{Key: "$inc", Value: bson.D{{Key: "rev", Value: 1}}},
	}
	res, err := s.col(ColCatalog).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("pointer rev mismatch for %s (expected %d): %w", index, expectedRev, errdefs.ErrConflict)
	}
	return nil
}
