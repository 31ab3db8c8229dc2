// Package server 路由配置与核心基础设施
//
// 本文件定义 HTTP API 路由，将请求分发到各领域独立包：
//   - run: 构建/重放提交与 Run 查询
//   - index: 索引版本历史与回退
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"rag-indexer/api"
	"rag-indexer/internal/apiserver/index"
	"rag-indexer/internal/apiserver/run"
	"rag-indexer/internal/bridge"
	"rag-indexer/internal/catalog"
	"rag-indexer/internal/shared/eventbus"
	"rag-indexer/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 管理存储层和队列连接
//
// 依赖接口说明（接口隔离原则）：
//   - store: 持久化账本（Run / 目录）
//   - submitter: 提交层（写账本 + 入队）
//   - catalog: 目录服务（版本历史查询）
//   - runlog: Run 执行日志流
type Handler struct {
	store     storage.PersistentStore
	submitter *bridge.Submitter
	catalog   *catalog.Service
	runlog    eventbus.RunLog
	metrics   *bridge.Metrics
}

// NewHandler 创建 Handler 实例
// runlog 和 metrics 可为 nil（降级为无日志/无指标）
func NewHandler(
	store storage.PersistentStore,
	submitter *bridge.Submitter,
	cat *catalog.Service,
	runlog eventbus.RunLog,
	metrics *bridge.Metrics,
) *Handler {
	return &Handler{
		store:     store,
		submitter: submitter,
		catalog:   cat,
		runlog:    runlog,
		metrics:   metrics,
	}
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//
// 构建与重放 (Run):
//   - POST /api/v1/builds         - 提交构建
//   - POST /api/v1/replays        - 提交重放
//   - GET  /api/v1/runs/{id}      - 获取 Run 详情
//   - GET  /api/v1/runs/{id}/log  - 获取 Run 执行日志
//
// 索引目录 (Index):
//   - POST /api/v1/rollbacks      - 提交回退
//   - GET  /api/v1/indexes/{name} - 获取版本历史与 active 指针
//
// 其他:
//   - GET /metrics         - Prometheus 指标
//   - GET /api/openapi.yaml - OpenAPI 规范
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", bridge.MetricsHandler())

	// OpenAPI 规范
	mux.HandleFunc("GET /api/openapi.yaml", h.OpenAPISpec)

	// Run 接口
	runHandler := run.NewHandler(h.store, h.submitter, h.runlog)
	runHandler.RegisterRoutes(mux)

	// Index 接口
	indexHandler := index.NewHandler(h.catalog, h.submitter)
	indexHandler.RegisterRoutes(mux)

	// 应用 CORS 和请求指标中间件
	return corsMiddleware(h.metricsMiddleware(mux))
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// OpenAPISpec 返回内嵌的 OpenAPI 规范
//
// 路由: GET /api/openapi.yaml
func (h *Handler) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	data, err := api.OpenAPIFS.ReadFile("openapi/openapi.yaml")
	if err != nil {
		http.Error(w, "openapi spec not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// statusRecorder 捕获处理器写入的状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware 记录每个请求的计数和时延
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.RecordHTTPRequest(r.Method, rec.status, time.Since(start))
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
