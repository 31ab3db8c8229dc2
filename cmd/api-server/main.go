// Package main API Server 入口
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-indexer/internal/apiserver/server"
	"rag-indexer/internal/bridge"
	"rag-indexer/internal/catalog"
	"rag-indexer/internal/config"
	eventbusredis "rag-indexer/internal/shared/eventbus/redis"
	queueredis "rag-indexer/internal/shared/queue/redis"
	vectorredis "rag-indexer/internal/shared/vector/redis"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化持久化存储（Run 账本 + 索引目录）
	store, catalogCloser, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()
	if catalogCloser != nil {
		defer catalogCloser()
	}
	log.Printf("Connected to %s storage", cfg.DatabaseDriver)

	// 初始化 Redis（任务队列、向量库、Run 日志流共用一个连接池）
	queueStore, err := queueredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer queueStore.Close()
	log.Println("Connected to Redis")

	vectors := vectorredis.NewStore(queueStore.Client())
	runlog := eventbusredis.NewStore(queueStore.Client())
	artifacts := openArtifactStore(cfg)

	// 提交层与目录服务
	submitter := bridge.NewSubmitter(store, queueStore, artifacts)
	catalogSvc := catalog.NewService(store, vectors, cfg.Pipeline.AliasPrefix)

	metrics := bridge.NewMetrics("indexer_api", "api-server")

	h := server.NewHandler(store, submitter, catalogSvc, runlog, metrics)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := newShutdownContext()
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
