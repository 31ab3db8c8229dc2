// Package index 索引目录领域 - HTTP 处理
package index

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
)

// CatalogReader 定义 index handler 需要的目录读取接口
type CatalogReader interface {
	History(ctx context.Context, index string) (*model.IndexHistory, error)
}

// RollbackSubmitter 定义 index handler 需要的提交接口
type RollbackSubmitter interface {
	SubmitRollback(ctx context.Context, index string, steps int) error
}

// Handler 索引目录领域 HTTP 处理器
type Handler struct {
	catalog   CatalogReader
	submitter RollbackSubmitter
}

// NewHandler 创建索引处理器
func NewHandler(catalog CatalogReader, submitter RollbackSubmitter) *Handler {
	return &Handler{catalog: catalog, submitter: submitter}
}

// RegisterRoutes 注册索引相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/rollbacks", h.CreateRollback)
	mux.HandleFunc("GET /api/v1/indexes/{name}", h.Get)
}

// RollbackRequest 回退请求体
type RollbackRequest struct {
	Index string `json:"index"`
	Steps int    `json:"steps"`
}

// CreateRollback 提交一次回退
// POST /api/v1/rollbacks
func (h *Handler) CreateRollback(w http.ResponseWriter, r *http.Request) {
	req := RollbackRequest{Index: "demo", Steps: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	log.Printf("[rollback.create.start] index=%s steps=%d", req.Index, req.Steps)

	if err := h.submitter.SubmitRollback(r.Context(), req.Index, req.Steps); err != nil {
		log.Printf("[rollback.create.failed] index=%s error=%v", req.Index, err)
		writeError(w, httpStatus(err), err.Error())
		return
	}

	log.Printf("[rollback.create.complete] index=%s steps=%d", req.Index, req.Steps)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"index": req.Index,
		"steps": req.Steps,
	})
}

// Get 获取索引的版本历史和 active 指针
// GET /api/v1/indexes/{name}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	hist, err := h.catalog.History(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get index history")
		return
	}
	if hist.Versions == nil {
		hist.Versions = []model.IndexVersion{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// httpStatus 将错误分类映射为 HTTP 状态码
func httpStatus(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsFailedPrecondition(err), errdefs.IsOutOfRange(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON 输出 JSON 响应
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError 输出错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
