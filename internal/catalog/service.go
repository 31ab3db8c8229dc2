// Package catalog 索引目录服务
//
// 维护每个逻辑索引的版本历史和 active 指针：
//   - 晋升：追加新版本并将指针推进到它（乐观并发检查，竞争失败返回 Conflict）
//   - 回退：将指针移回历史中已存在的版本，不产生新版本
//
// 指针切换落库后同步切换向量库别名，调用方始终通过别名查询，
// 只能看到完整构建的版本。
package catalog

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/storage"
	"rag-indexer/internal/shared/vector"
	"rag-indexer/pkg/logging"
)

// Service 目录服务
type Service struct {
	store       storage.CatalogStore
	vectors     vector.VectorStore
	aliasPrefix string
	logger      *logging.Logger
}

// NewService 创建目录服务
func NewService(store storage.CatalogStore, vectors vector.VectorStore, aliasPrefix string) *Service {
	if aliasPrefix == "" {
		aliasPrefix = "idx"
	}
	return &Service{
		store:       store,
		vectors:     vectors,
		aliasPrefix: aliasPrefix,
		logger:      logging.Default("catalog"),
	}
}

// Alias 返回索引的查询别名
func (s *Service) Alias(index string) string {
	return fmt.Sprintf("%s_%s_active", s.aliasPrefix, index)
}

// History 返回索引的版本历史快照
func (s *Service) History(ctx context.Context, index string) (*model.IndexHistory, error) {
	return s.store.GetIndexHistory(ctx, index)
}

// Promote 追加新版本并推进指针，然后切换查询别名
//
// 版本号在晋升时刻分配（历史最大版本 + 1），两个并发构建竞争
// 同一指针时只有一个成功，落败方收到 Conflict。
func (s *Service) Promote(ctx context.Context, index, namespace string) (*model.IndexVersion, error) {
	hist, err := s.store.GetIndexHistory(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("load index history: %w", err)
	}

	// 该命名空间已在历史中：同一次构建的晋升重复到达
	// （目录落库后、构建收尾前的故障触发了重投递），复用既有版本。
	// 指针已被后续晋升或回退移走时不抢回别名。
	if v := hist.VersionByNamespace(namespace); v != nil {
		if hist.Active != nil && *hist.Active == v.Version {
			if err := s.vectors.SetAlias(ctx, s.Alias(index), namespace); err != nil {
				return nil, fmt.Errorf("switch alias: %w", err)
			}
		}
		s.logger.WithIndex(index).Info("Promote absorbed, namespace already catalogued",
			"version", v.Version, "namespace", namespace)
		return v, nil
	}

	v := model.NewIndexVersion(hist.NextVersion(), namespace)
	if err := s.store.PromoteVersion(ctx, index, v, hist.Rev); err != nil {
		return nil, err
	}

	if err := s.vectors.SetAlias(ctx, s.Alias(index), namespace); err != nil {
		return nil, fmt.Errorf("switch alias: %w", err)
	}

	s.logger.WithIndex(index).Info("Promoted version",
		"version", v.Version, "namespace", namespace)
	return v, nil
}

// Rollback 将指针回退 steps 个历史位置，然后切换查询别名
//
//   - 目标按版本在历史中的序数位置计算，不做版本号算术
//   - 回退越过最早版本返回 OutOfRange
//   - 目标就是当前 active 版本时为幂等空操作（吸收重投递）
func (s *Service) Rollback(ctx context.Context, index string, steps int) (*model.IndexVersion, error) {
	if steps < 1 {
		return nil, fmt.Errorf("rollback steps must be >= 1: %w", errdefs.ErrInvalidArgument)
	}

	hist, err := s.store.GetIndexHistory(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("load index history: %w", err)
	}
	if hist.Active == nil {
		return nil, fmt.Errorf("index %s has no active version: %w", index, errdefs.ErrFailedPrecondition)
	}

	target, ok := hist.RollbackTarget(steps)
	if !ok {
		return nil, fmt.Errorf("rollback %d steps past oldest version of %s: %w", steps, index, errdefs.ErrOutOfRange)
	}

	if target.Version == *hist.Active {
		return target, nil
	}

	if err := s.store.SetActiveVersion(ctx, index, target.Version, hist.Rev); err != nil {
		return nil, err
	}

	if err := s.vectors.SetAlias(ctx, s.Alias(index), target.Namespace); err != nil {
		return nil, fmt.Errorf("switch alias: %w", err)
	}

	s.logger.WithIndex(index).Info("Rolled back version",
		"from", *hist.Active, "to", target.Version, "steps", steps)
	return target, nil
}
