// Package main Worker 入口
//
// Worker 从 Redis Streams 消费构建/重放/回退任务，驱动流水线引擎。
// 多个 Worker 实例共享同一消费者组，消息级租约保证至少一次处理。
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-indexer/internal/bridge"
	"rag-indexer/internal/catalog"
	"rag-indexer/internal/config"
	"rag-indexer/internal/pipeline"
	eventbusredis "rag-indexer/internal/shared/eventbus/redis"
	"rag-indexer/internal/shared/objstore"
	objstoreminio "rag-indexer/internal/shared/objstore/minio"
	queueredis "rag-indexer/internal/shared/queue/redis"
	"rag-indexer/internal/shared/storage"
	"rag-indexer/internal/shared/storage/driver/postgres"
	"rag-indexer/internal/shared/storage/driver/sqlite"
	storageetcd "rag-indexer/internal/shared/storage/etcd"
	"rag-indexer/internal/shared/storage/mongostore"
	"rag-indexer/internal/shared/storage/repository"
	vectorredis "rag-indexer/internal/shared/vector/redis"
)

func main() {
	cfg := config.Load()

	if cfg.Worker.ConsumerID == "worker-default" {
		if host, err := os.Hostname(); err == nil {
			cfg.Worker.ConsumerID = "worker-" + host
		}
	}

	log.Printf("Starting Worker... [env=%s consumer_id=%s]", cfg.Env, cfg.Worker.ConsumerID)
	log.Printf("Config: %s", cfg.String())

	store, catalogCloser, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()
	if catalogCloser != nil {
		defer catalogCloser()
	}
	log.Printf("Connected to %s storage", cfg.DatabaseDriver)

	queueStore, err := queueredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer queueStore.Close()
	log.Println("Connected to Redis")

	vectors := vectorredis.NewStore(queueStore.Client())
	runlog := eventbusredis.NewStore(queueStore.Client())
	artifacts := openArtifactStore(cfg)

	catalogSvc := catalog.NewService(store, vectors, cfg.Pipeline.AliasPrefix)
	engine := pipeline.NewEngine(store, catalogSvc, vectors, artifacts, runlog, cfg.Pipeline)

	metrics := bridge.NewMetrics("indexer_worker", cfg.Worker.ConsumerID)
	worker := bridge.NewWorker(cfg.Worker, store, queueStore, engine, catalogSvc, metrics)

	// 指标端点（worker 没有业务 API，只暴露 /metrics 和 /health）
	go serveMetrics(cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down Worker...")
		worker.Stop()
		cancel()
	}()

	worker.Start(ctx)
	fmt.Println("Worker stopped")
}

// openStore 根据配置打开持久化存储（目录后端可被 etcd 接管）
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
// MinIO 不可用时退化为内存实现（产物缓存丢失只影响 replay 复用，不影响正确性）
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

// serveMetrics 暴露 /metrics 和 /health
func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", bridge.MetricsHandler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	addr := ":" + port
	log.Printf("Worker metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server error: %v", err)
	}
}
