package storage

// compositeStore 用独立的目录后端覆盖组合存储的 CatalogStore 部分
// （catalog.backend = "etcd" 时 Run 账本仍在 SQL/MongoDB，指针在 etcd）
type compositeStore struct {
	RunStore
	CatalogStore
	base PersistentStore
}

// WithCatalog 返回目录部分被 cat 接管的组合存储
func WithCatalog(base PersistentStore, cat CatalogStore) PersistentStore {
	return &compositeStore{
		RunStore:     base,
		CatalogStore: cat,
		base:         base,
	}
}

// Close 关闭底层 Run 账本存储（目录后端由调用方单独关闭）
func (s *compositeStore) Close() error {
	return s.base.Close()
}
