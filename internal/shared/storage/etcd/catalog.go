// Package etcd etcd 目录存储实现
//
// 只实现 CatalogStore：索引目录（版本历史 + active 指针）存为单个
// JSON 文档，乐观并发检查通过 etcd 事务的 ModRevision 比对实现。
// Run 账本仍走 SQL/MongoDB 存储，etcd 仅作为指针协调的可选后端。
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	clientv3 "go.etcd.io/etcd/client/v3"

	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/storage"
)

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// CatalogStore 基于 etcd 的索引目录存储
type CatalogStore struct {
	client *clientv3.Client
	prefix string
}

var _ storage.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore 创建 etcd 目录存储
func NewCatalogStore(cfg Config) (*CatalogStore, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/indexer"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd: connect failed: %w", err)
	}
	return &CatalogStore{client: client, prefix: cfg.Prefix}, nil
}

// Close 关闭 etcd 连接
func (s *CatalogStore) Close() error {
	return s.client.Close()
}

func (s *CatalogStore) catalogKey(index string) string {
	return fmt.Sprintf("%s/catalog/%s", s.prefix, index)
}

// catalogDoc etcd 中的目录文档
// Rev 在 model 中对 API 隐藏（json:"-"），这里显式参与序列化
type catalogDoc struct {
	model.IndexHistory
	Rev int64 `json:"rev"`
}

// GetIndexHistory 返回完整版本历史和 active 指针
// 索引从未晋升时返回空历史（Rev == 0），不返回错误
func (s *CatalogStore) GetIndexHistory(ctx context.Context, index string) (*model.IndexHistory, error) {
	hist, _, err := s.load(ctx, index)
	return hist, err
}

// load 读取目录文档，返回历史和底层 ModRevision
func (s *CatalogStore) load(ctx context.Context, index string) (*model.IndexHistory, int64, error) {
	resp, err := s.client.Get(ctx, s.catalogKey(index))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: etcd get: %v", errdefs.ErrUnavailable, err)
	}
	if len(resp.Kvs) == 0 {
		return &model.IndexHistory{Index: index, Versions: []model.IndexVersion{}}, 0, nil
	}

	var doc catalogDoc
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return nil, 0, fmt.Errorf("etcd: decode catalog for %s: %w", index, err)
	}
	hist := doc.IndexHistory
	hist.Rev = doc.Rev
	if hist.Versions == nil {
		hist.Versions = []model.IndexVersion{}
	}
	return &hist, resp.Kvs[0].ModRevision, nil
}

// PromoteVersion 追加新版本并切换 active 指针
//
// 事务条件：
//   - expectedRev == 0：键必须不存在（CreateRevision == 0）
//   - 否则：文档内 Rev 必须等于 expectedRev，且键的 ModRevision
//     自读取以来未变化
//
// 任一条件失败返回 errdefs.ErrConflict。
func (s *CatalogStore) PromoteVersion(ctx context.Context, index string, v *model.IndexVersion, expectedRev int64) error {
	key := s.catalogKey(index)

	if expectedRev == 0 {
		doc := &model.IndexHistory{
			Index:     index,
			Versions:  []model.IndexVersion{*v},
			Active:    &v.Version,
			Rev:       1,
			UpdatedAt: time.Now().UTC(),
		}
		return s.casPut(ctx, key, doc, clientv3.Compare(clientv3.CreateRevision(key), "=", 0),
			fmt.Sprintf("pointer already initialized for %s", index))
	}

	hist, modRev, err := s.load(ctx, index)
	if err != nil {
		return err
	}
	if hist.Rev != expectedRev {
		return fmt.Errorf("pointer rev mismatch for %s (expected %d): %w", index, expectedRev, errdefs.ErrConflict)
	}
	if hist.VersionRecord(v.Version) != nil {
		return fmt.Errorf("version %d already exists for %s: %w", v.Version, index, errdefs.ErrConflict)
	}

	hist.Versions = append(hist.Versions, *v)
	hist.Active = &v.Version
	hist.Rev = expectedRev + 1
	hist.UpdatedAt = time.Now().UTC()

	return s.casPut(ctx, key, hist, clientv3.Compare(clientv3.ModRevision(key), "=", modRev),
		fmt.Sprintf("pointer rev mismatch for %s (expected %d)", index, expectedRev))
}

// SetActiveVersion 仅移动 active 指针（rollback 路径），不创建版本
func (s *CatalogStore) SetActiveVersion(ctx context.Context, index string, version int64, expectedRev int64) error {
	key := s.catalogKey(index)

	hist, modRev, err := s.load(ctx, index)
	if err != nil {
		return err
	}
	if hist.VersionRecord(version) == nil {
		return fmt.Errorf("index %s has no version %d: %w", index, version, errdefs.ErrNotFound)
	}
	if hist.Rev != expectedRev {
		return fmt.Errorf("pointer rev mismatch for %s (expected %d): %w", index, expectedRev, errdefs.ErrConflict)
	}

	hist.Active = &version
	hist.Rev = expectedRev + 1
	hist.UpdatedAt = time.Now().UTC()

	return s.casPut(ctx, key, hist, clientv3.Compare(clientv3.ModRevision(key), "=", modRev),
		fmt.Sprintf("pointer rev mismatch for %s (expected %d)", index, expectedRev))
}

// casPut 条件写入：事务条件不满足时返回 errdefs.ErrConflict
func (s *CatalogStore) casPut(ctx context.Context, key string, doc *model.IndexHistory, cmp clientv3.Cmp, conflictMsg string) error {
	data, err := json.Marshal(catalogDoc{IndexHistory: *doc, Rev: doc.Rev})
	if err != nil {
		return fmt.Errorf("etcd: encode catalog: %w", err)
	}

	resp, err := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, string(data))).Commit()
	if err != nil {
		return fmt.Errorf("%w: etcd txn: %v", errdefs.ErrUnavailable, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%s: %w", conflictMsg, errdefs.ErrConflict)
	}
	return nil
}
