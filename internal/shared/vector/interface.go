// Package vector 向量库抽象接口
//
// 以命名空间为单位隔离每次构建写入的向量，查询侧只通过别名访问：
// 晋升时将别名原子切换到新命名空间，旧命名空间保留以支持回退。
// 冒烟检查也走别名，验证的是调用方实际看到的视图。
package vector

import (
	"context"
)

// VectorStore 向量库接口
type VectorStore interface {
	// EnsureNamespace 确保命名空间存在（幂等），dim 为向量维度
	EnsureNamespace(ctx context.Context, namespace string, dim int) error

	// UpsertPoints 按点 ID 幂等写入向量（重投递重写同一批点不产生重复）
	UpsertPoints(ctx context.Context, namespace string, points []Point) error

	// CountPoints 返回命名空间内的向量数量
	CountPoints(ctx context.Context, namespace string) (int64, error)

	// SetAlias 将别名指向命名空间（原子覆盖）
	SetAlias(ctx context.Context, alias, namespace string) error

	// GetAlias 返回别名当前指向的命名空间，未设置时返回空串
	GetAlias(ctx context.Context, alias string) (string, error)

	// SearchByAlias 通过别名做相似度查询
	SearchByAlias(ctx context.Context, alias string, vector []float32, limit int) ([]SearchHit, error)

	Close() error
}
