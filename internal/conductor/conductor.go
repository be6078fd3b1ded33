// Package conductor is the top-level coordinator for the team-ai engine.
// It owns the participant registry and the per-project execution
// goroutines, maps external requests onto workflow engine operations, and
// republishes engine events onto the event bus.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/bus"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/store"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/workflow"
)

// execution tracks one in-flight project goroutine. The map entry is a
// process-local cache, never a source of truth; all durable facts live in
// the store.
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Conductor supervises project executions. One goroutine runs per active
// project; a project with an active execution refuses a second
// start/resume.
type Conductor struct {
	Store  *store.Store
	Bus    *bus.Bus
	Engine *workflow.Engine
	Log    *slog.Logger

	mu     sync.Mutex
	agents map[string]agent.Info
	active map[string]*execution
}

// New creates a Conductor wired to its own workflow engine. Engine
// lifecycle events flow through the conductor onto the bus.
func New(st *store.Store, b *bus.Bus, policy workflow.Policy, log *slog.Logger) *Conductor {
	if log == nil {
		log = slog.Default()
	}
	c := &Conductor{
		Store:  st,
		Bus:    b,
		Log:    log,
		agents: make(map[string]agent.Info),
		active: make(map[string]*execution),
	}
	c.Engine = workflow.NewEngine(st, workflow.NewRegistry(), policy, c.handleEngineEvent, log)
	return c
}

// RegisterProducer registers a producer for a phase under the given agent
// id. Each id registers once.
func (c *Conductor) RegisterProducer(id string, phase domain.Phase, p agent.Producer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[id]; ok {
		return domain.ErrDuplicateAgent
	}
	c.agents[id] = agent.Info{ID: id, Role: agent.RoleFor(phase, agent.KindMain)}
	c.Engine.Registry.RegisterProducer(phase, p)
	c.Log.Info("registered agent", "agent_id", id, "role", agent.RoleFor(phase, agent.KindMain))
	return nil
}

// RegisterReviewer registers a reviewer for a phase under the given agent
// id. Each id registers once.
func (c *Conductor) RegisterReviewer(id string, phase domain.Phase, r agent.Reviewer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[id]; ok {
		return domain.ErrDuplicateAgent
	}
	c.agents[id] = agent.Info{ID: id, Role: agent.RoleFor(phase, agent.KindReviewer)}
	c.Engine.Registry.RegisterReviewer(phase, r)
	c.Log.Info("registered agent", "agent_id", id, "role", agent.RoleFor(phase, agent.KindReviewer))
	return nil
}

// StartProject creates a durable project record and spawns its execution.
// The returned id identifies the project for all later calls.
func (c *Conductor) StartProject(ctx context.Context, requirements, name string, metadata map[string]any) (string, error) {
	projectID := uuid.NewString()
	if name == "" {
		name = "Project-" + projectID[:8]
	}

	if _, err := c.Store.CreateProject(ctx, projectID, name, requirements, metadata); err != nil {
		return "", err
	}

	c.emit("project_created", map[string]any{
		"project_id":   projectID,
		"name":         name,
		"requirements": requirements,
	})

	if err := c.launch(projectID, func(runCtx context.Context) error {
		return c.Engine.ExecuteProject(runCtx, projectID, "")
	}); err != nil {
		return "", err
	}

	c.Log.Info("started project", "project_id", projectID, "name", name)
	return projectID, nil
}

// PauseWorkflow cancels the project's execution goroutine, waits for it
// to unwind, then persists the paused status. An in-flight participant
// call may run to completion; its result is discarded.
func (c *Conductor) PauseWorkflow(ctx context.Context, projectID string) error {
	c.mu.Lock()
	exec := c.active[projectID]
	c.mu.Unlock()

	if exec != nil {
		exec.cancel()
		<-exec.done
	}

	if err := c.Engine.PauseWorkflow(ctx, projectID); err != nil {
		return err
	}
	c.emit("project_paused", map[string]any{"project_id": projectID})
	return nil
}

// ResumeWorkflow spawns a new execution continuing a paused project from
// its stored current phase, optionally steered by a redirection payload.
func (c *Conductor) ResumeWorkflow(ctx context.Context, projectID string, direction *domain.PhaseInput) error {
	proj, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status != domain.StatusPaused {
		return domain.ErrProjectNotPaused
	}

	if err := c.launch(projectID, func(runCtx context.Context) error {
		return c.Engine.ResumeWorkflow(runCtx, projectID, direction)
	}); err != nil {
		return err
	}

	c.emit("project_resumed", map[string]any{"project_id": projectID})
	return nil
}

// GetStatus assembles a read-only snapshot of the project and all of its
// phase records. Status always reflects the last persisted state.
func (c *Conductor) GetStatus(ctx context.Context, projectID string) (*domain.ProjectSnapshot, error) {
	proj, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	recs, err := c.Store.ListPhases(ctx, projectID)
	if err != nil {
		return nil, err
	}

	snap := &domain.ProjectSnapshot{
		ProjectID:     proj.ID,
		Name:          proj.Name,
		Status:        proj.Status,
		CurrentPhase:  proj.CurrentPhase,
		Phases:        make(map[domain.Phase]domain.PhaseSummary, len(recs)),
		CreatedAtUnix: proj.CreatedAtUnix,
		UpdatedAtUnix: proj.UpdatedAtUnix,
	}
	for _, rec := range recs {
		snap.Phases[rec.PhaseType] = domain.PhaseSummary{
			Status:          rec.Status,
			Iterations:      rec.CurrentIteration,
			MaxIterations:   rec.MaxIterations,
			StartedAtUnix:   rec.StartedAtUnix,
			CompletedAtUnix: rec.CompletedAtUnix,
		}
	}
	return snap, nil
}

// ListProjects returns a snapshot for every non-expired project.
func (c *Conductor) ListProjects(ctx context.Context) ([]*domain.ProjectSnapshot, error) {
	ids, err := c.Store.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]*domain.ProjectSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := c.GetStatus(ctx, id)
		if errors.Is(err, domain.ErrProjectNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// ListAgents enumerates the registered participants.
func (c *Conductor) ListAgents() []agent.Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]agent.Info, 0, len(c.agents))
	for _, info := range c.agents {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Role != infos[j].Role {
			return infos[i].Role < infos[j].Role
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Active reports whether a project currently has an execution goroutine.
func (c *Conductor) Active(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[projectID]
	return ok
}

// Wait blocks until the project's execution goroutine, if any, finishes.
func (c *Conductor) Wait(projectID string) {
	c.mu.Lock()
	exec := c.active[projectID]
	c.mu.Unlock()

	if exec != nil {
		<-exec.done
	}
}

// Close cancels every active execution and waits for them to unwind.
func (c *Conductor) Close() {
	c.mu.Lock()
	execs := make([]*execution, 0, len(c.active))
	for _, exec := range c.active {
		execs = append(execs, exec)
	}
	c.mu.Unlock()

	for _, exec := range execs {
		exec.cancel()
	}
	for _, exec := range execs {
		<-exec.done
	}
}

// launch registers and starts one execution goroutine for a project,
// refusing when one is already active.
func (c *Conductor) launch(projectID string, fn func(context.Context) error) error {
	c.mu.Lock()
	if _, ok := c.active[projectID]; ok {
		c.mu.Unlock()
		return domain.ErrExecutionActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	c.active[projectID] = exec
	c.mu.Unlock()

	go c.supervise(projectID, exec, runCtx, fn)
	return nil
}

// supervise runs one execution to completion. It is the last line of
// defense: any uncaught error or panic becomes a project_failed event and
// never takes down the process. Cancellation is not a fault and produces
// no failure event.
func (c *Conductor) supervise(projectID string, exec *execution, runCtx context.Context, fn func(context.Context) error) {
	defer close(exec.done)
	defer func() {
		c.mu.Lock()
		delete(c.active, projectID)
		c.mu.Unlock()
	}()
	defer exec.cancel()
	defer func() {
		if r := recover(); r != nil {
			c.Log.Error("execution panic", "project_id", projectID, "panic", r)
			if err := c.Store.UpdateProjectStatus(context.Background(), projectID, domain.StatusFailed, ""); err != nil {
				c.Log.Error("mark project failed after panic", "project_id", projectID, "error", err)
			}
			c.emit("project_failed", map[string]any{
				"project_id": projectID,
				"error":      fmt.Sprint(r),
			})
		}
	}()

	err := fn(runCtx)
	switch {
	case err == nil:
		c.Log.Info("project execution finished", "project_id", projectID)
	case errors.Is(err, context.Canceled):
		c.Log.Info("project execution cancelled", "project_id", projectID)
	default:
		c.Log.Error("project execution failed", "project_id", projectID, "error", err)
		c.emit("project_failed", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
	}
}

// handleEngineEvent republishes workflow engine events onto the bus under
// the workflow_ prefix, stamped with an emission timestamp.
func (c *Conductor) handleEngineEvent(eventType string, data map[string]any) {
	c.publish("workflow_"+eventType, data)
}

// emit publishes a conductor-origin event.
func (c *Conductor) emit(eventType string, data map[string]any) {
	c.publish(eventType, data)
}

// publish stamps, broadcasts, and journals one event. Journal failures
// are logged, not propagated: the bus delivery already happened.
func (c *Conductor) publish(eventType string, data map[string]any) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	c.Bus.Emit(eventType, data)

	projectID, _ := data["project_id"].(string)
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	if err := c.Store.AppendEvent(context.Background(), projectID, eventType, string(payload)); err != nil {
		c.Log.Warn("journal event", "event_type", eventType, "error", err)
	}
}
