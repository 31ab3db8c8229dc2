package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/shared/model"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	s, err := NewStore(uri, "rag_indexer_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

func TestRunCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := model.NewRun("run-001", "demo", "sample", "", "")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Duplicate insert
	if err := s.CreateRun(ctx, run); !errdefs.IsConflict(err) {
		t.Errorf("duplicate CreateRun err = %v, want conflict", err)
	}

	got, err := s.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.Status != model.RunStatusPending || len(got.Steps) != 6 {
		t.Fatalf("GetRun = %+v", got)
	}

	// Missing run → (nil, nil)
	missing, err := s.GetRun(ctx, "ghost")
	if err != nil || missing != nil {
		t.Errorf("GetRun(ghost) = %v, %v", missing, err)
	}

	if err := s.UpdateRunStatus(ctx, "run-001", model.RunStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-001")
	if got.Status != model.RunStatusFailed || got.Error != "boom" {
		t.Errorf("after fail: %+v", got)
	}
}

func TestStepUpdateAndReset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := model.NewRun("run-002", "demo", "sample", "", "")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, step := range []model.Step{model.StepDiscover, model.StepChunk, model.StepEmbed} {
		rec := &model.StepRecord{
			Step: step, Status: model.StepStatusDone,
			StartedAt: &now, FinishedAt: &now,
			ArtifactRef: "runs/run-002/" + string(step) + ".json",
		}
		if err := s.UpdateStep(ctx, "run-002", rec); err != nil {
			t.Fatalf("UpdateStep(%s): %v", step, err)
		}
	}

	if err := s.ResetStepsFrom(ctx, "run-002", model.StepEmbed); err != nil {
		t.Fatalf("ResetStepsFrom: %v", err)
	}

	got, _ := s.GetRun(ctx, "run-002")
	for _, rec := range got.Steps {
		switch rec.Step {
		case model.StepDiscover, model.StepChunk:
			if rec.Status != model.StepStatusDone {
				t.Errorf("%s status = %s, want done", rec.Step, rec.Status)
			}
		default:
			if rec.Status != model.StepStatusPending || rec.ArtifactRef != "" {
				t.Errorf("%s not reset: %+v", rec.Step, rec)
			}
		}
	}
}

func TestInjectionLatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := model.NewRun("run-003", "demo", "sample", model.StepUpsert, model.FailModeOnce)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.MarkFailFired(ctx, "run-003"); err != nil {
		t.Fatalf("MarkFailFired: %v", err)
	}
	got, _ := s.GetRun(ctx, "run-003")
	if !got.FailFired {
		t.Error("fail_fired not set")
	}

	// SetRunInjection resets the latch
	if err := s.SetRunInjection(ctx, "run-003", "", ""); err != nil {
		t.Fatalf("SetRunInjection: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-003")
	if got.FailFired || got.FailMode != model.FailModeNever {
		t.Errorf("after reset: %+v", got)
	}
}

func TestListStalePendingRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stale := model.NewRun("run-stale", "demo", "sample", "", "")
	stale.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	stale.UpdatedAt = stale.CreatedAt
	if err := s.CreateRun(ctx, stale); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	fresh := model.NewRun("run-fresh", "demo", "sample", "", "")
	if err := s.CreateRun(ctx, fresh); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// 重放重置刷新了 updated_at 的老 Run 不算滞留
	replayed := model.NewRun("run-replayed", "demo", "sample", "", "")
	replayed.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	replayed.UpdatedAt = replayed.CreatedAt
	if err := s.CreateRun(ctx, replayed); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.ResetStepsFrom(ctx, "run-replayed", model.StepEmbed); err != nil {
		t.Fatalf("ResetStepsFrom: %v", err)
	}

	runs, err := s.ListStalePendingRuns(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListStalePendingRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-stale" {
		t.Errorf("stale runs = %+v", runs)
	}
}

func TestCatalogPromoteAndRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Empty history
	hist, err := s.GetIndexHistory(ctx, "demo")
	if err != nil {
		t.Fatalf("GetIndexHistory: %v", err)
	}
	if hist.Rev != 0 || len(hist.Versions) != 0 || hist.Active != nil {
		t.Fatalf("empty history = %+v", hist)
	}

	// First promote creates the document
	if err := s.PromoteVersion(ctx, "demo", model.NewIndexVersion(1, "ns_a"), 0); err != nil {
		t.Fatalf("PromoteVersion v1: %v", err)
	}
	hist, _ = s.GetIndexHistory(ctx, "demo")
	if hist.Rev != 1 || hist.Active == nil || *hist.Active != 1 {
		t.Fatalf("after v1: %+v", hist)
	}

	// Second promote with correct rev
	if err := s.PromoteVersion(ctx, "demo", model.NewIndexVersion(2, "ns_b"), hist.Rev); err != nil {
		t.Fatalf("PromoteVersion v2: %v", err)
	}

	// Stale rev → conflict
	err = s.PromoteVersion(ctx, "demo", model.NewIndexVersion(3, "ns_c"), 1)
	if !errdefs.IsConflict(err) {
		t.Errorf("stale promote err = %v, want conflict", err)
	}

	// Rollback to v1
	hist, _ = s.GetIndexHistory(ctx, "demo")
	if err := s.SetActiveVersion(ctx, "demo", 1, hist.Rev); err != nil {
		t.Fatalf("SetActiveVersion: %v", err)
	}
	hist, _ = s.GetIndexHistory(ctx, "demo")
	if *hist.Active != 1 || len(hist.Versions) != 2 {
		t.Errorf("after rollback: %+v", hist)
	}

	// Unknown version → not found
	if err := s.SetActiveVersion(ctx, "demo", 9, hist.Rev); !errdefs.IsNotFound(err) {
		t.Errorf("unknown version err = %v, want not found", err)
	}
}
