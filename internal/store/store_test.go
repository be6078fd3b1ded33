package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, 0, 3)
}

func TestMigrationIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	db.Close()

	db2, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	db2.Close()
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := map[string]any{"team": "core"}
	rec, err := s.CreateProject(ctx, "p1", "Demo", "build a cli", meta)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if rec.Status != domain.StatusInitialized {
		t.Errorf("status = %s, want initialized", rec.Status)
	}

	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Name != "Demo" || got.Requirements != "build a cli" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Metadata["team"] != "core" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}
	if got.CurrentPhase != "" {
		t.Errorf("new project has current phase %q", got.CurrentPhase)
	}
}

func TestDuplicateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateProject(ctx, "p1", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	_, err := s.CreateProject(ctx, "p1", "b", "r", nil)
	if !errors.Is(err, domain.ErrDuplicateProject) {
		t.Errorf("expected ErrDuplicateProject, got %v", err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProject(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestUpdateProjectStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateProject(ctx, "p1", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}

	if err := s.UpdateProjectStatus(ctx, "p1", domain.StatusDesign, domain.PhaseDesign); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Status != domain.StatusDesign || got.CurrentPhase != domain.PhaseDesign {
		t.Errorf("got status=%s phase=%s", got.Status, got.CurrentPhase)
	}

	// Completion clears the current phase.
	if err := s.UpdateProjectStatus(ctx, "p1", domain.StatusCompleted, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ = s.GetProject(ctx, "p1")
	if got.CurrentPhase != "" {
		t.Errorf("completed project still has phase %q", got.CurrentPhase)
	}

	err = s.UpdateProjectStatus(ctx, "missing", domain.StatusFailed, "")
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestPhaseLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	input := domain.PhaseInput{Requirements: "build it"}
	rec, err := s.CreatePhase(ctx, "p1", domain.PhaseRequirements, input)
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	if rec.Status != domain.PhasePending || rec.CurrentIteration != 0 {
		t.Errorf("unexpected new phase: %+v", rec)
	}

	product := &domain.WorkProduct{Content: "draft v1"}
	if err := s.UpdatePhaseStatus(ctx, "p1", domain.PhaseRequirements, domain.PhaseCompleted, product); err != nil {
		t.Fatalf("update phase: %v", err)
	}

	got, err := s.GetPhase(ctx, "p1", domain.PhaseRequirements)
	if err != nil {
		t.Fatalf("get phase: %v", err)
	}
	if got.Status != domain.PhaseCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Output == nil || got.Output.Content != "draft v1" {
		t.Errorf("output not persisted: %+v", got.Output)
	}
	if got.CompletedAtUnix == 0 {
		t.Error("completed_at not stamped")
	}
	if got.Input.Requirements != "build it" {
		t.Errorf("input not round-tripped: %+v", got.Input)
	}
}

func TestCreatePhaseResetsIteration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreatePhase(ctx, "p1", domain.PhaseDesign, domain.PhaseInput{}); err != nil {
		t.Fatalf("create phase: %v", err)
	}
	if _, err := s.IncrementPhaseIteration(ctx, "p1", domain.PhaseDesign); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// Re-creating the phase (a fresh run after resume) starts over.
	if _, err := s.CreatePhase(ctx, "p1", domain.PhaseDesign, domain.PhaseInput{Content: "new"}); err != nil {
		t.Fatalf("recreate phase: %v", err)
	}
	got, err := s.GetPhase(ctx, "p1", domain.PhaseDesign)
	if err != nil {
		t.Fatalf("get phase: %v", err)
	}
	if got.CurrentIteration != 0 {
		t.Errorf("iteration = %d after recreate, want 0", got.CurrentIteration)
	}
	if got.Input.Content != "new" {
		t.Errorf("input not replaced: %+v", got.Input)
	}
}

func TestIncrementPhaseIterationCap(t *testing.T) {
	s := newTestStore(t)
	s.MaxIterations = 2
	ctx := context.Background()

	if _, err := s.CreatePhase(ctx, "p1", domain.PhaseTest, domain.PhaseInput{}); err != nil {
		t.Fatalf("create phase: %v", err)
	}

	for want := 1; want <= 2; want++ {
		n, err := s.IncrementPhaseIteration(ctx, "p1", domain.PhaseTest)
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if n != want {
			t.Errorf("iteration = %d, want %d", n, want)
		}
	}

	n, err := s.IncrementPhaseIteration(ctx, "p1", domain.PhaseTest)
	if !errors.Is(err, domain.ErrIterationLimit) {
		t.Errorf("expected ErrIterationLimit, got %v", err)
	}
	if n != 2 {
		t.Errorf("capped iteration = %d, want 2", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	if _, err := s.CreateProject(ctx, "p1", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := s.CreatePhase(ctx, "p1", domain.PhaseRequirements, domain.PhaseInput{}); err != nil {
		t.Fatalf("create phase: %v", err)
	}

	// Just under the TTL the record is still visible.
	s.now = func() time.Time { return base.Add(DefaultTTL - time.Minute) }
	if _, err := s.GetProject(ctx, "p1"); err != nil {
		t.Fatalf("project expired early: %v", err)
	}

	// Reads refresh nothing; only writes extend the TTL.
	s.now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }
	if _, err := s.GetProject(ctx, "p1"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected expired project to be not found, got %v", err)
	}
	if _, err := s.GetPhase(ctx, "p1", domain.PhaseRequirements); !errors.Is(err, domain.ErrPhaseNotFound) {
		t.Errorf("expected expired phase to be not found, got %v", err)
	}
}

func TestWriteRefreshesTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	if _, err := s.CreateProject(ctx, "p1", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}

	// A write at half TTL pushes expiry forward.
	s.now = func() time.Time { return base.Add(DefaultTTL / 2) }
	if err := s.UpdateProjectStatus(ctx, "p1", domain.StatusRequirements, domain.PhaseRequirements); err != nil {
		t.Fatalf("update status: %v", err)
	}

	s.now = func() time.Time { return base.Add(DefaultTTL + time.Hour) }
	if _, err := s.GetProject(ctx, "p1"); err != nil {
		t.Errorf("refreshed record expired: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	if _, err := s.CreateProject(ctx, "old", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := s.AppendEvent(ctx, "old", "project_created", "{}"); err != nil {
		t.Fatalf("append event: %v", err)
	}

	s.now = func() time.Time { return base.Add(DefaultTTL / 2) }
	if _, err := s.CreateProject(ctx, "fresh", "b", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}

	s.now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d projects, want 1", n)
	}

	if _, err := s.GetProject(ctx, "fresh"); err != nil {
		t.Errorf("fresh project purged: %v", err)
	}
	events, err := s.ListEvents(ctx, "old")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("journal rows for purged project survived: %d", len(events))
	}
}

func TestEventJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, "p1", "project_created", `{"name":"demo"}`); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.AppendEvent(ctx, "p1", "workflow_phase_start", ""); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.AppendEvent(ctx, "p2", "project_created", "{}"); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := s.ListEvents(ctx, "p1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "project_created" || events[1].EventType != "workflow_phase_start" {
		t.Errorf("unexpected order: %+v", events)
	}
	if events[1].PayloadJSON != "{}" {
		t.Errorf("empty payload not defaulted: %q", events[1].PayloadJSON)
	}
}

func TestVerdictAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := domain.ReviewVerdict{Approved: false, Feedback: "needs work", ReviewerID: "design_reviewer"}
	v2 := domain.ReviewVerdict{Approved: true, Feedback: "approved", ReviewerID: "design_reviewer"}
	if err := s.RecordVerdict(ctx, "p1", domain.PhaseDesign, 1, v1); err != nil {
		t.Fatalf("record verdict: %v", err)
	}
	if err := s.RecordVerdict(ctx, "p1", domain.PhaseDesign, 2, v2); err != nil {
		t.Fatalf("record verdict: %v", err)
	}
	if err := s.RecordVerdict(ctx, "p1", domain.PhaseTest, 1, v2); err != nil {
		t.Fatalf("record verdict: %v", err)
	}

	verdicts, err := s.ListVerdicts(ctx, "p1", domain.PhaseDesign)
	if err != nil {
		t.Fatalf("list verdicts: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	if verdicts[0].Approved || !verdicts[1].Approved {
		t.Errorf("unexpected approval sequence: %+v", verdicts)
	}
	if verdicts[0].Iteration != 1 || verdicts[1].Iteration != 2 {
		t.Errorf("unexpected iterations: %+v", verdicts)
	}

	all, err := s.ListProjectVerdicts(ctx, "p1")
	if err != nil {
		t.Fatalf("list project verdicts: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 verdicts across phases, got %d", len(all))
	}
}

func TestListProjectIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	if _, err := s.CreateProject(ctx, "p1", "a", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Second) }
	if _, err := s.CreateProject(ctx, "p2", "b", "r", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}

	ids, err := s.ListProjectIDs(ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
