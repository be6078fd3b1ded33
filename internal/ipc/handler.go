// Package ipc provides the HTTP API for the team-ai engine.
package ipc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/bus"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/conductor"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/relay"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Conductor *conductor.Conductor
	Bus       *bus.Bus
	Hub       *relay.Hub
}

// StartProjectRequest is the body for POST /api/v1/projects.
type StartProjectRequest struct {
	Requirements string         `json:"requirements"`
	Name         string         `json:"name"`
	Metadata     map[string]any `json:"metadata"`
}

// ResumeRequest is the body for POST /api/v1/projects/{projectID}/resume.
// All fields are optional; non-empty ones redirect the resumed phase.
type ResumeRequest struct {
	Requirements string         `json:"requirements"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata"`
}

// StartProjectResponse is the response for POST /api/v1/projects.
type StartProjectResponse struct {
	ProjectID string `json:"project_id"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": h.Hub.ClientCount(),
	})
}

// StartProject handles POST /api/v1/projects.
func (h *Handler) StartProject(w http.ResponseWriter, r *http.Request) {
	var req StartProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Requirements == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "requirements is required"})
		return
	}

	projectID, err := h.Conductor.StartProject(r.Context(), req.Requirements, req.Name, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartProjectResponse{ProjectID: projectID})
}

// ListProjects handles GET /api/v1/projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Conductor.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []*domain.ProjectSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetProject handles GET /api/v1/projects/{projectID}.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	snap, err := h.Conductor.GetStatus(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PauseProject handles POST /api/v1/projects/{projectID}/pause.
func (h *Handler) PauseProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if err := h.Conductor.PauseWorkflow(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeProject handles POST /api/v1/projects/{projectID}/resume.
func (h *Handler) ResumeProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var direction *domain.PhaseInput
	if r.ContentLength != 0 {
		var req ResumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
			return
		}
		if req.Requirements != "" || req.Content != "" || len(req.Metadata) > 0 {
			direction = &domain.PhaseInput{
				Requirements: req.Requirements,
				Content:      req.Content,
				Metadata:     req.Metadata,
			}
		}
	}

	if err := h.Conductor.ResumeWorkflow(r.Context(), projectID, direction); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAgents handles GET /api/v1/agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Conductor.ListAgents())
}

// ListEvents handles GET /api/v1/events?type=T&limit=N. It serves the
// bus's in-memory history, newest last.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events := h.Bus.History(eventType, limit)
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListProjectEvents handles GET /api/v1/projects/{projectID}/events. It
// serves the durable lifecycle journal.
func (h *Handler) ListProjectEvents(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	events, err := h.Conductor.Store.ListEvents(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.LifecycleEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListVerdicts handles GET /api/v1/projects/{projectID}/verdicts?phase=P.
func (h *Handler) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var verdicts []domain.VerdictRecord
	var err error
	if s := r.URL.Query().Get("phase"); s != "" {
		phase, perr := domain.ParsePhase(s)
		if perr != nil {
			writeError(w, perr)
			return
		}
		verdicts, err = h.Conductor.Store.ListVerdicts(r.Context(), projectID, phase)
	} else {
		verdicts, err = h.Conductor.Store.ListProjectVerdicts(r.Context(), projectID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if verdicts == nil {
		verdicts = []domain.VerdictRecord{}
	}
	writeJSON(w, http.StatusOK, verdicts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrProjectNotFound.Code, domain.ErrPhaseNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateProject.Code, domain.ErrExecutionActive.Code, domain.ErrDuplicateAgent.Code:
			status = http.StatusConflict
		case domain.ErrProjectNotPaused.Code, domain.ErrProjectTerminal.Code,
			domain.ErrInvalidPhase.Code, domain.ErrNoCurrentPhase.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrConfigInvalid.Code:
			status = http.StatusBadRequest
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
