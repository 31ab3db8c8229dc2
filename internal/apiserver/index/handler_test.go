// Package index 索引目录领域 - Handler 单元测试
//
// 测试类型：Unit Test（使用 Mock 隔离目录服务和提交层）
package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
)

// ============================================================================
// Mock 实现（实现 CatalogReader 和 RollbackSubmitter 接口）
// ============================================================================

type mockCatalog struct {
	histories map[string]*model.IndexHistory
}

func (m *mockCatalog) History(ctx context.Context, index string) (*model.IndexHistory, error) {
	if h, ok := m.histories[index]; ok {
		return h, nil
	}
	return &model.IndexHistory{Index: index}, nil
}

type mockRollbackSubmitter struct {
	calls []int
	err   error
}

func (m *mockRollbackSubmitter) SubmitRollback(ctx context.Context, index string, steps int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, steps)
	return nil
}

func newTestMux(cat *mockCatalog, sub *mockRollbackSubmitter) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(cat, sub).RegisterRoutes(mux)
	return mux
}

// ============================================================================
// 回退提交
// ============================================================================

func TestCreateRollback_Basic(t *testing.T) {
	sub := &mockRollbackSubmitter{}
	mux := newTestMux(&mockCatalog{}, sub)

	req := httptest.NewRequest("POST", "/api/v1/rollbacks", strings.NewReader(`{"index":"demo","steps":2}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HTTP 状态码 = %d, 期望 202, 响应: %s", w.Code, w.Body.String())
	}
	if len(sub.calls) != 1 || sub.calls[0] != 2 {
		t.Errorf("提交参数 = %v, 期望 [2]", sub.calls)
	}
}

func TestCreateRollback_EmptyBodyUsesDefaults(t *testing.T) {
	sub := &mockRollbackSubmitter{}
	mux := newTestMux(&mockCatalog{}, sub)

	req := httptest.NewRequest("POST", "/api/v1/rollbacks", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HTTP 状态码 = %d, 期望 202", w.Code)
	}
	if len(sub.calls) != 1 || sub.calls[0] != 1 {
		t.Errorf("空请求体应使用默认 steps=1")
	}
}

func TestCreateRollback_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no_active_version", errdefs.ErrFailedPrecondition, http.StatusUnprocessableEntity},
		{"past_oldest", errdefs.ErrOutOfRange, http.StatusUnprocessableEntity},
		{"bad_steps", errdefs.ErrInvalidArgument, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(&mockCatalog{}, &mockRollbackSubmitter{err: tc.err})

			req := httptest.NewRequest("POST", "/api/v1/rollbacks", strings.NewReader(`{"steps":5}`))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("HTTP 状态码 = %d, 期望 %d", w.Code, tc.want)
			}
		})
	}
}

// ============================================================================
// 版本历史查询
// ============================================================================

func TestGet_WithHistory(t *testing.T) {
	active := int64(2)
	cat := &mockCatalog{histories: map[string]*model.IndexHistory{
		"demo": {
			Index:  "demo",
			Active: &active,
			Rev:    3,
			Versions: []model.IndexVersion{
				*model.NewIndexVersion(1, "ns_aaa"),
				*model.NewIndexVersion(2, "ns_bbb"),
			},
		},
	}}
	mux := newTestMux(cat, &mockRollbackSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/indexes/demo", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var got model.IndexHistory
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if got.Active == nil || *got.Active != 2 {
		t.Errorf("active 应为 2")
	}
	if len(got.Versions) != 2 {
		t.Errorf("versions 数量 = %d, 期望 2", len(got.Versions))
	}
}

func TestGet_EmptyHistory(t *testing.T) {
	mux := newTestMux(&mockCatalog{}, &mockRollbackSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/indexes/unknown", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var got model.IndexHistory
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if got.Active != nil {
		t.Errorf("空历史 active 应为 null")
	}
	if got.Versions == nil {
		t.Errorf("versions 应为空数组而非 null")
	}
}
