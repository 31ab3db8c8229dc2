// Package redis 基于 Redis 的向量库实现
//
// 命名空间存为 Hash（field=点 ID，value=JSON 点），别名存为 String，
// SET 覆盖即是原子切换。相似度计算在客户端进行，适用于演示和
// 中小规模数据集；生产规模可替换为专用向量引擎，接口不变。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	goredis "github.com/redis/go-redis/v9"

	"rag-indexer/internal/shared/vector"
)

const (
	keyNamespacePrefix = "indexer:vec:"
	keyAliasPrefix     = "indexer:alias:"
)

// Store Redis 向量库
type Store struct {
	client *goredis.Client
}

var _ vector.VectorStore = (*Store)(nil)

// NewStore 基于已有客户端创建向量库
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

// NewStoreFromURL 从 Redis URL 创建向量库
func NewStoreFromURL(url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

func namespaceKey(namespace string) string {
	return keyNamespacePrefix + namespace
}

func metaKey(namespace string) string {
	return keyNamespacePrefix + namespace + ":meta"
}

func aliasKey(alias string) string {
	return keyAliasPrefix + alias
}

// EnsureNamespace 确保命名空间存在
func (s *Store) EnsureNamespace(ctx context.Context, namespace string, dim int) error {
	err := s.client.HSetNX(ctx, metaKey(namespace), "dim", dim).Err()
	if err != nil {
		return fmt.Errorf("failed to ensure namespace %s: %w", namespace, err)
	}
	return nil
}

// UpsertPoints 按点 ID 幂等写入向量
func (s *Store) UpsertPoints(ctx context.Context, namespace string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(points))
	for _, p := range points {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal point %s: %w", p.ID, err)
		}
		fields[p.ID] = string(data)
	}
	if err := s.client.HSet(ctx, namespaceKey(namespace), fields).Err(); err != nil {
		return fmt.Errorf("failed to upsert points into %s: %w", namespace, err)
	}
	return nil
}

// CountPoints 返回命名空间内的向量数量
func (s *Store) CountPoints(ctx context.Context, namespace string) (int64, error) {
	return s.client.HLen(ctx, namespaceKey(namespace)).Result()
}

// SetAlias 将别名指向命名空间（SET 覆盖，原子切换）
func (s *Store) SetAlias(ctx context.Context, alias, namespace string) error {
	exists, err := s.client.Exists(ctx, metaKey(namespace)).Result()
	if err != nil {
		return fmt.Errorf("failed to check namespace %s: %w", namespace, err)
	}
	if exists == 0 {
		return fmt.Errorf("namespace %s: %w", namespace, errdefs.ErrNotFound)
	}
	return s.client.Set(ctx, aliasKey(alias), namespace, 0).Err()
}

// GetAlias 返回别名当前指向的命名空间
func (s *Store) GetAlias(ctx context.Context, alias string) (string, error) {
	namespace, err := s.client.Get(ctx, aliasKey(alias)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get alias %s: %w", alias, err)
	}
	return namespace, nil
}

// SearchByAlias 通过别名做相似度查询
func (s *Store) SearchByAlias(ctx context.Context, alias string, vec []float32, limit int) ([]vector.SearchHit, error) {
	namespace, err := s.GetAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		return nil, fmt.Errorf("alias %s: %w", alias, errdefs.ErrNotFound)
	}

	raw, err := s.client.HGetAll(ctx, namespaceKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace %s: %w", namespace, err)
	}

	var hits []vector.SearchHit
	for _, data := range raw {
		var p vector.Point
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			continue
		}
		hits = append(hits, vector.SearchHit{
			ID:      p.ID,
			Score:   vector.CosineSimilarity(vec, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}
