// Package run 执行领域 - Handler 单元测试
//
// 测试类型：Unit Test（使用 Mock 隔离存储层和提交层）
package run

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
)

// ============================================================================
// Mock 实现（实现 RunStore 和 RunSubmitter 接口）
// ============================================================================

// mockRunStore 模拟存储（仅实现 RunStore 接口）
type mockRunStore struct {
	runs map[string]*model.Run

	getRunErr error
}

func newMockStore() *mockRunStore {
	return &mockRunStore{runs: make(map[string]*model.Run)}
}

func (m *mockRunStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	if m.getRunErr != nil {
		return nil, m.getRunErr
	}
	return m.runs[id], nil
}

// mockSubmitter 模拟提交层（仅实现 RunSubmitter 接口）
type mockSubmitter struct {
	submitted []*model.Run

	buildErr  error
	replayErr error
}

func (m *mockSubmitter) SubmitBuild(ctx context.Context, index, dataset string, failStep model.Step, failMode model.FailMode) (*model.Run, error) {
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	run := model.NewRun("run-mock-001", index, dataset, failStep, failMode)
	m.submitted = append(m.submitted, run)
	return run, nil
}

func (m *mockSubmitter) SubmitReplay(ctx context.Context, runID string, fromStep, failStep model.Step, failMode model.FailMode) (*model.Run, error) {
	if m.replayErr != nil {
		return nil, m.replayErr
	}
	run := model.NewRun(runID, "demo", "sample", failStep, failMode)
	run.Status = model.RunStatusPending
	m.submitted = append(m.submitted, run)
	return run, nil
}

func newTestMux(store *mockRunStore, submitter *mockSubmitter) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(store, submitter, nil).RegisterRoutes(mux)
	return mux
}

// ============================================================================
// 构建提交
// ============================================================================

func TestCreateBuild_Basic(t *testing.T) {
	store := newMockStore()
	submitter := &mockSubmitter{}
	mux := newTestMux(store, submitter)

	body := `{"index":"docs","dataset":"sample"}`
	req := httptest.NewRequest("POST", "/api/v1/builds", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("HTTP 状态码 = %d, 期望 201, 响应: %s", w.Code, w.Body.String())
	}

	var run model.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if run.Index != "docs" {
		t.Errorf("index = %s, 期望 docs", run.Index)
	}
	if len(submitter.submitted) != 1 {
		t.Errorf("提交次数 = %d, 期望 1", len(submitter.submitted))
	}
}

func TestCreateBuild_EmptyBodyUsesDefaults(t *testing.T) {
	store := newMockStore()
	submitter := &mockSubmitter{}
	mux := newTestMux(store, submitter)

	req := httptest.NewRequest("POST", "/api/v1/builds", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("HTTP 状态码 = %d, 期望 201, 响应: %s", w.Code, w.Body.String())
	}
	if len(submitter.submitted) != 1 || submitter.submitted[0].Index != "demo" {
		t.Errorf("空请求体应使用默认 index=demo")
	}
}

func TestCreateBuild_InvalidBody(t *testing.T) {
	mux := newTestMux(newMockStore(), &mockSubmitter{})

	req := httptest.NewRequest("POST", "/api/v1/builds", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("HTTP 状态码 = %d, 期望 400", w.Code)
	}
}

func TestCreateBuild_InvalidArgument(t *testing.T) {
	submitter := &mockSubmitter{buildErr: errdefs.ErrInvalidArgument}
	mux := newTestMux(newMockStore(), submitter)

	req := httptest.NewRequest("POST", "/api/v1/builds", strings.NewReader(`{"fail_mode":"sometimes"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("HTTP 状态码 = %d, 期望 400, 响应: %s", w.Code, w.Body.String())
	}
}

// ============================================================================
// 重放提交
// ============================================================================

func TestCreateReplay_Basic(t *testing.T) {
	submitter := &mockSubmitter{}
	mux := newTestMux(newMockStore(), submitter)

	body := `{"run_id":"run-001","from_step":"upsert"}`
	req := httptest.NewRequest("POST", "/api/v1/replays", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HTTP 状态码 = %d, 期望 202, 响应: %s", w.Code, w.Body.String())
	}
}

func TestCreateReplay_MissingRunID(t *testing.T) {
	mux := newTestMux(newMockStore(), &mockSubmitter{})

	req := httptest.NewRequest("POST", "/api/v1/replays", strings.NewReader(`{"from_step":"embed"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("HTTP 状态码 = %d, 期望 400", w.Code)
	}
}

func TestCreateReplay_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not_found", errdefs.ErrNotFound, http.StatusNotFound},
		{"not_replayable", errdefs.ErrFailedPrecondition, http.StatusUnprocessableEntity},
		{"bad_step", errdefs.ErrInvalidArgument, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			submitter := &mockSubmitter{replayErr: tc.err}
			mux := newTestMux(newMockStore(), submitter)

			req := httptest.NewRequest("POST", "/api/v1/replays", strings.NewReader(`{"run_id":"run-x"}`))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("HTTP 状态码 = %d, 期望 %d", w.Code, tc.want)
			}
		})
	}
}

// ============================================================================
// Run 查询
// ============================================================================

func TestGet_Found(t *testing.T) {
	store := newMockStore()
	run := model.NewRun("run-abc", "demo", "sample", "", "")
	run.Status = model.RunStatusSucceeded
	run.UpdatedAt = time.Now().UTC()
	store.runs[run.ID] = run
	mux := newTestMux(store, &mockSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/runs/run-abc", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var got model.Run
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if got.Status != model.RunStatusSucceeded {
		t.Errorf("status = %s, 期望 succeeded", got.Status)
	}
}

func TestGet_NotFound(t *testing.T) {
	mux := newTestMux(newMockStore(), &mockSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/runs/ghost", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("HTTP 状态码 = %d, 期望 404", w.Code)
	}
}

func TestGetLog_NoBackendReturnsEmpty(t *testing.T) {
	store := newMockStore()
	store.runs["run-abc"] = model.NewRun("run-abc", "demo", "sample", "", "")
	mux := newTestMux(store, &mockSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/runs/run-abc/log", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var got struct {
		RunID   string            `json:"run_id"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if got.Entries == nil || len(got.Entries) != 0 {
		t.Errorf("无日志后端时 entries 应为空数组")
	}
}
