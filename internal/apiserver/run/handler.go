// Package run 执行领域 - HTTP 处理
package run

import (
	"context"
	"log"
	"net/http"

	"rag-indexer/internal/shared/eventbus"
	"rag-indexer/internal/shared/model"
)

// RunStore 定义 run handler 需要的存储接口（用于测试 mock）
type RunStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
}

// RunSubmitter 定义 run handler 需要的提交接口
type RunSubmitter interface {
	SubmitBuild(ctx context.Context, index, dataset string, failStep model.Step, failMode model.FailMode) (*model.Run, error)
	SubmitReplay(ctx context.Context, runID string, fromStep, failStep model.Step, failMode model.FailMode) (*model.Run, error)
}

// Handler 执行领域 HTTP 处理器
type Handler struct {
	store     RunStore
	submitter RunSubmitter
	runlog    eventbus.RunLog
}

// NewHandler 创建执行处理器
// runlog 参数可选，为 nil 时日志接口返回空列表
func NewHandler(store RunStore, submitter RunSubmitter, runlog eventbus.RunLog) *Handler {
	return &Handler{store: store, submitter: submitter, runlog: runlog}
}

// RegisterRoutes 注册执行相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/builds", h.CreateBuild)
	mux.HandleFunc("POST /api/v1/replays", h.CreateReplay)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/runs/{id}/log", h.GetLog)
}

// BuildRequest 构建请求体
type BuildRequest struct {
	Index    string         `json:"index"`
	Dataset  string         `json:"dataset"`
	FailStep model.Step     `json:"fail_step,omitempty"`
	FailMode model.FailMode `json:"fail_mode,omitempty"`
}

// ReplayRequest 重放请求体
type ReplayRequest struct {
	RunID    string         `json:"run_id"`
	FromStep model.Step     `json:"from_step"`
	FailStep model.Step     `json:"fail_step,omitempty"`
	FailMode model.FailMode `json:"fail_mode,omitempty"`
}

// CreateBuild 提交一次索引构建
// POST /api/v1/builds
//
// 流程：
//  1. 写入 Run 账本（必须成功）
//  2. 写入任务队列（允许失败，有保底轮询补投）
func (h *Handler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	req := BuildRequest{Index: "demo", Dataset: "sample"}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	log.Printf("[build.create.start] index=%s dataset=%s fail_step=%s fail_mode=%s",
		req.Index, req.Dataset, req.FailStep, req.FailMode)

	run, err := h.submitter.SubmitBuild(r.Context(), req.Index, req.Dataset, req.FailStep, req.FailMode)
	if err != nil {
		log.Printf("[build.create.failed] index=%s error=%v", req.Index, err)
		writeError(w, httpStatus(err), err.Error())
		return
	}

	log.Printf("[build.create.complete] run_id=%s index=%s", run.ID, req.Index)
	writeJSON(w, http.StatusCreated, run)
}

// CreateReplay 提交一次重放
// POST /api/v1/replays
func (h *Handler) CreateReplay(w http.ResponseWriter, r *http.Request) {
	req := ReplayRequest{FromStep: model.StepEmbed}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	log.Printf("[replay.create.start] run_id=%s from_step=%s", req.RunID, req.FromStep)

	run, err := h.submitter.SubmitReplay(r.Context(), req.RunID, req.FromStep, req.FailStep, req.FailMode)
	if err != nil {
		log.Printf("[replay.create.failed] run_id=%s error=%v", req.RunID, err)
		writeError(w, httpStatus(err), err.Error())
		return
	}

	log.Printf("[replay.create.complete] run_id=%s from_step=%s", req.RunID, req.FromStep)
	writeJSON(w, http.StatusAccepted, run)
}

// Get 获取单个 Run 详情
// GET /api/v1/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetLog 获取 Run 的执行日志
// GET /api/v1/runs/{id}/log
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	entries := []*eventbus.LogEntry{}
	if h.runlog != nil {
		entries, err = h.runlog.Read(r.Context(), id, 1000)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read run log")
			return
		}
		if entries == nil {
			entries = []*eventbus.LogEntry{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  id,
		"entries": entries,
	})
}
