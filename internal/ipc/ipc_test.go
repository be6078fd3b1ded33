package ipc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/bus"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/conductor"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/relay"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/store"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/workflow"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, 0, 3)
	b := bus.New(100)
	cond := conductor.New(st, b, workflow.Policy{MaxIterations: 3}, nil)
	t.Cleanup(cond.Close)

	for _, p := range domain.PhaseOrder {
		mainID := string(p) + "_main"
		reviewerID := string(p) + "_reviewer"
		if err := cond.RegisterProducer(mainID, p, &agent.ScriptedProducer{AgentID: mainID}); err != nil {
			t.Fatalf("register producer: %v", err)
		}
		if err := cond.RegisterReviewer(reviewerID, p, &agent.ScriptedReviewer{AgentID: reviewerID}); err != nil {
			t.Fatalf("register reviewer: %v", err)
		}
	}

	hub := relay.NewHub(b, nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	return &Handler{
		Conductor: cond,
		Bus:       b,
		Hub:       hub,
	}
}

func startProject(t *testing.T, h *Handler, requirements string) string {
	t.Helper()
	body := `{"requirements":"` + requirements + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.StartProject(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp StartProjectResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ProjectID == "" {
		t.Fatal("no project_id in response")
	}
	return resp.ProjectID
}

func TestStartProject_Success(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "build a cli")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/"+id, nil)
	req.SetPathValue("projectID", id)
	w := httptest.NewRecorder()

	h.GetProject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap domain.ProjectSnapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if len(snap.Phases) != 4 {
		t.Errorf("phases = %d, want 4", len(snap.Phases))
	}
}

func TestStartProject_InvalidBody(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()

	h.StartProject(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStartProject_MissingRequirements(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewBufferString(`{"name":"x"}`))
	w := httptest.NewRecorder()

	h.StartProject(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/nonexistent", nil)
	req.SetPathValue("projectID", "nonexistent")
	w := httptest.NewRecorder()

	h.GetProject(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var apiErr APIError
	json.NewDecoder(w.Body).Decode(&apiErr)
	if apiErr.Code != domain.ErrProjectNotFound.Code {
		t.Errorf("error code = %d", apiErr.Code)
	}
}

func TestListProjects(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "one")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	w := httptest.NewRecorder()

	h.ListProjects(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snaps []domain.ProjectSnapshot
	json.NewDecoder(w.Body).Decode(&snaps)
	if len(snaps) != 1 {
		t.Errorf("projects = %d, want 1", len(snaps))
	}
}

func TestPauseProject_NotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/missing/pause", nil)
	req.SetPathValue("projectID", "missing")
	w := httptest.NewRecorder()

	h.PauseProject(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPauseProject_TerminalProject(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "short lived")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+id+"/pause", nil)
	req.SetPathValue("projectID", id)
	w := httptest.NewRecorder()

	h.PauseProject(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestResumeProject_NotPaused(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "still running or done")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+id+"/resume", bytes.NewBufferString(`{}`))
	req.SetPathValue("projectID", id)
	w := httptest.NewRecorder()

	h.ResumeProject(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListAgents(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	w := httptest.NewRecorder()

	h.ListAgents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var infos []agent.Info
	json.NewDecoder(w.Body).Decode(&infos)
	if len(infos) != 8 {
		t.Errorf("agents = %d, want 8", len(infos))
	}
}

func TestListEvents(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "emit some events")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?type=workflow_phase_start", nil)
	w := httptest.NewRecorder()

	h.ListEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []bus.Event
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 4 {
		t.Errorf("phase_start events = %d, want 4", len(events))
	}
}

func TestListProjectEvents(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "journaled")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/"+id+"/events", nil)
	req.SetPathValue("projectID", id)
	w := httptest.NewRecorder()

	h.ListProjectEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []domain.LifecycleEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) == 0 {
		t.Error("journal is empty")
	}
}

func TestListVerdicts(t *testing.T) {
	h := newTestHandler(t)

	id := startProject(t, h, "reviewed")
	h.Conductor.Wait(id)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/"+id+"/verdicts", nil)
	req.SetPathValue("projectID", id)
	w := httptest.NewRecorder()

	h.ListVerdicts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var verdicts []domain.VerdictRecord
	json.NewDecoder(w.Body).Decode(&verdicts)
	// One approving verdict per phase.
	if len(verdicts) != 4 {
		t.Errorf("verdicts = %d, want 4", len(verdicts))
	}
}

func TestListVerdicts_BadPhaseFilter(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p/verdicts?phase=deploy", nil)
	req.SetPathValue("projectID", "p")
	w := httptest.NewRecorder()

	h.ListVerdicts(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORSPreflights(t *testing.T) {
	handler := corsMiddleware(http.NewServeMux())
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
