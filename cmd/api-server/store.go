package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"rag-indexer/internal/config"
	"rag-indexer/internal/shared/objstore"
	objstoreminio "rag-indexer/internal/shared/objstore/minio"
	"rag-indexer/internal/shared/storage"
	"rag-indexer/internal/shared/storage/driver/postgres"
	"rag-indexer/internal/shared/storage/driver/sqlite"
	storageetcd "rag-indexer/internal/shared/storage/etcd"
	"rag-indexer/internal/shared/storage/mongostore"
	"rag-indexer/internal/shared/storage/repository"
)

// openStore 根据配置打开持久化存储
//
// database.driver 选择 Run 账本 + 目录的主存储（sqlite/postgres/mongodb）；
// catalog.backend = "etcd" 时目录部分被 etcd 接管（指针 CAS 用 mod-revision）。
// 返回的第二个值是目录后端的关闭函数（无独立后端时为 nil）。
func openStore(cfg *config.Config) (storage.PersistentStore, func(), error) {
	var store storage.PersistentStore

	switch cfg.DatabaseDriver {
	case "mongodb":
		s, err := mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
		if err != nil {
			return nil, nil, fmt.Errorf("mongodb: %w", err)
		}
		store = s
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		dialect := postgres.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		store = repository.NewStore(db, dialect)
	default:
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		dialect := sqlite.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sqlite schema: %w", err)
		}
		store = repository.NewStore(db, dialect)
	}

	if cfg.Catalog.Backend != "etcd" {
		return store, nil, nil
	}

	cat, err := storageetcd.NewCatalogStore(storageetcd.Config{
		Endpoints: cfg.Catalog.Etcd.Endpoints,
		Prefix:    cfg.Catalog.Etcd.Prefix,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("etcd catalog: %w", err)
	}
	log.Printf("Catalog backend: etcd endpoints=%v prefix=%s", cfg.Catalog.Etcd.Endpoints, cfg.Catalog.Etcd.Prefix)

	closer := func() {
		if err := cat.Close(); err != nil {
			log.Printf("etcd catalog close error: %v", err)
		}
	}
	return storage.WithCatalog(store, cat), closer, nil
}

// openArtifactStore 打开产物存储
// MinIO 不可用时退化为内存实现（提交侧只用它清理重放失效的产物）
func openArtifactStore(cfg *config.Config) objstore.ArtifactStore {
	client, err := objstoreminio.NewClient(cfg.MinIO)
	if err != nil {
		log.Printf("WARNING: MinIO not available, using in-memory artifact store: %v", err)
		return objstore.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: MinIO bucket check failed, using in-memory artifact store: %v", err)
		return objstore.NewMemoryStore()
	}

	log.Printf("Connected to MinIO endpoint=%s bucket=%s", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)
	return client
}

// newShutdownContext 优雅关闭的超时上下文
func newShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
