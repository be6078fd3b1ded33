package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/store"
)

// ExhaustedPolicy decides what happens when a phase runs out of review
// iterations without approval.
type ExhaustedPolicy string

const (
	// ExhaustedFail marks the phase failed and fails the project.
	ExhaustedFail ExhaustedPolicy = "fail"
	// ExhaustedProceed completes the phase with the latest unapproved
	// output and lets the pipeline continue.
	ExhaustedProceed ExhaustedPolicy = "proceed"
)

// Policy holds the engine's tunable behavior.
type Policy struct {
	// MaxIterations bounds reviewer invocations per phase.
	MaxIterations int
	// CallTimeout bounds each producer/reviewer call. Zero disables it.
	CallTimeout time.Duration
	// OnExhausted selects the exhausted-iterations behavior.
	OnExhausted ExhaustedPolicy
}

// EmitFunc receives engine lifecycle events.
type EmitFunc func(eventType string, data map[string]any)

// Engine drives one project at a time through the fixed phase sequence,
// running the produce/review/revise loop for each phase. All durable
// facts live in the Store; the engine re-derives them on resume.
type Engine struct {
	Store    *store.Store
	Registry *Registry
	Policy   Policy
	Emit     EmitFunc
	Log      *slog.Logger
}

// NewEngine creates an Engine, applying defaults for zero-value policy
// fields.
func NewEngine(st *store.Store, reg *Registry, policy Policy, emit EmitFunc, log *slog.Logger) *Engine {
	if policy.MaxIterations <= 0 {
		policy.MaxIterations = 3
	}
	if policy.OnExhausted == "" {
		policy.OnExhausted = ExhaustedFail
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Store:    st,
		Registry: reg,
		Policy:   policy,
		Emit:     emit,
		Log:      log,
	}
}

// ExecuteProject runs the pipeline for a project from its first phase, or
// from startPhase when non-empty. The project record must already exist.
// A nil return means the project completed; context.Canceled means the
// execution was paused and nothing was marked failed.
func (e *Engine) ExecuteProject(ctx context.Context, projectID string, startPhase domain.Phase) error {
	proj, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	current := startPhase
	if current == "" {
		current = domain.PhaseOrder[0]
	} else if _, err := domain.ParsePhase(string(current)); err != nil {
		return err
	}

	input, err := e.seedInput(ctx, proj, current)
	if err != nil {
		return e.failProject(ctx, projectID, err)
	}

	return e.run(ctx, projectID, current, input)
}

// run executes phases from current to the end of the pipeline.
func (e *Engine) run(ctx context.Context, projectID string, current domain.Phase, input domain.PhaseInput) error {
	if err := e.Store.UpdateProjectStatus(ctx, projectID, domain.StatusForPhase(current), current); err != nil {
		return err
	}

	for {
		e.emit("phase_start", map[string]any{
			"project_id": projectID,
			"phase":      string(current),
		})

		result := e.ExecutePhase(ctx, projectID, current, input)
		if result.Err != nil && errors.Is(result.Err, context.Canceled) {
			e.Log.Info("execution cancelled", "project_id", projectID, "phase", current)
			return result.Err
		}
		if !result.Success {
			// A cancellation racing the loop must win over any store
			// error it induced, so the paused status is never clobbered.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := result.Err
			if err == nil {
				err = domain.ErrExhaustedIterations
			}
			e.Log.Error("phase failed", "project_id", projectID, "phase", current, "error", err)
			return e.failProject(ctx, projectID, err)
		}

		// The next phase consumes this phase's approved output.
		input = domain.PhaseInput{
			Content:  result.Output.Content,
			Metadata: result.Output.Metadata,
		}

		next, ok := domain.NextPhase(current)
		if !ok {
			break
		}
		current = next
		if err := e.Store.UpdateProjectStatus(ctx, projectID, domain.StatusForPhase(current), current); err != nil {
			return err
		}
	}

	if err := e.Store.UpdateProjectStatus(ctx, projectID, domain.StatusCompleted, ""); err != nil {
		return err
	}
	e.emit("project_completed", map[string]any{"project_id": projectID})
	return nil
}

// ExecutePhase runs one phase's produce/review/revise loop. The phase
// record is created (or overwritten) with the given input, and the final
// status is persisted with the last work product as output. Iterations in
// the result counts reviewer invocations actually consumed.
func (e *Engine) ExecutePhase(ctx context.Context, projectID string, phase domain.Phase, input domain.PhaseInput) domain.PhaseResult {
	res := domain.PhaseResult{Phase: phase}

	if _, err := e.Store.CreatePhase(ctx, projectID, phase, input); err != nil {
		res.Err = err
		return res
	}

	producer, reviewer, err := e.Registry.Pair(phase)
	if err != nil {
		_ = e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseFailed, nil)
		res.Err = domain.WrapEngineError(domain.ErrAgentNotRegistered.Code, string(phase), err)
		return res
	}

	if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseInProgress, nil); err != nil {
		res.Err = err
		return res
	}

	product, err := e.callProcess(ctx, producer, input)
	if err != nil {
		return e.failPhase(ctx, projectID, phase, res, err)
	}

	max := e.Policy.MaxIterations
	reviews := 0
	approved := false

	for reviews < max {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseReview, nil); err != nil {
			res.Err = err
			return res
		}

		verdict, err := e.callReview(ctx, reviewer, product)
		if err != nil {
			return e.failPhase(ctx, projectID, phase, res, err)
		}
		reviews++

		e.emit("review_completed", map[string]any{
			"project_id": projectID,
			"phase":      string(phase),
			"approved":   verdict.Approved,
			"feedback":   verdict.Feedback,
			"iteration":  reviews,
		})
		if err := e.Store.RecordVerdict(ctx, projectID, phase, reviews, *verdict); err != nil {
			e.Log.Warn("record verdict", "project_id", projectID, "phase", phase, "error", err)
		}

		if verdict.Approved {
			approved = true
			break
		}

		if _, err := e.Store.IncrementPhaseIteration(ctx, projectID, phase); err != nil {
			res.Err = err
			return res
		}

		if reviews < max {
			if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseRevision, nil); err != nil {
				res.Err = err
				return res
			}
			product, err = e.callRevise(ctx, producer, product, verdict.Feedback)
			if err != nil {
				return e.failPhase(ctx, projectID, phase, res, err)
			}
		}
	}

	res.Iterations = reviews
	res.Approved = approved
	res.Output = product

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if approved || e.Policy.OnExhausted == ExhaustedProceed {
		if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseCompleted, product); err != nil {
			res.Err = err
			return res
		}
		res.Success = true
		return res
	}

	// Exhausted without approval: the latest work product is still
	// persisted so the forced termination leaves an inspectable output.
	if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseFailed, product); err != nil {
		res.Err = err
		return res
	}
	res.Err = domain.ErrExhaustedIterations
	return res
}

// PauseWorkflow persists the paused status. Phase records are left
// untouched; the coordinator is responsible for cancelling the execution
// goroutine before calling this.
func (e *Engine) PauseWorkflow(ctx context.Context, projectID string) error {
	proj, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status.Terminal() {
		return domain.ErrProjectTerminal
	}
	return e.Store.UpdateProjectStatus(ctx, projectID, domain.StatusPaused, proj.CurrentPhase)
}

// ResumeWorkflow re-enters the pipeline at the stored current phase of a
// paused project, reissuing that phase's persisted input. A redirection,
// when supplied, replaces the non-empty input fields and shallow-merges
// metadata over the stored values.
func (e *Engine) ResumeWorkflow(ctx context.Context, projectID string, direction *domain.PhaseInput) error {
	proj, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status != domain.StatusPaused {
		return domain.ErrProjectNotPaused
	}
	if proj.CurrentPhase == "" {
		return domain.ErrNoCurrentPhase
	}

	var input domain.PhaseInput
	rec, err := e.Store.GetPhase(ctx, projectID, proj.CurrentPhase)
	switch {
	case err == nil:
		input = rec.Input
	case errors.Is(err, domain.ErrPhaseNotFound):
		// Paused before the phase record was written; derive the input
		// the same way a fresh run would.
		input, err = e.seedInput(ctx, proj, proj.CurrentPhase)
		if err != nil {
			return err
		}
	default:
		return err
	}

	if direction != nil {
		input = applyRedirection(input, *direction)
	}

	return e.run(ctx, projectID, proj.CurrentPhase, input)
}

// seedInput derives the input for a phase: the project requirements for
// the first phase, the stored input for an already-created phase, or the
// predecessor's persisted output otherwise.
func (e *Engine) seedInput(ctx context.Context, proj *domain.ProjectRecord, phase domain.Phase) (domain.PhaseInput, error) {
	if phase == domain.PhaseOrder[0] {
		return domain.PhaseInput{Requirements: proj.Requirements}, nil
	}

	rec, err := e.Store.GetPhase(ctx, proj.ID, phase)
	if err == nil {
		return rec.Input, nil
	}
	if !errors.Is(err, domain.ErrPhaseNotFound) {
		return domain.PhaseInput{}, err
	}

	prev, ok := predecessor(phase)
	if !ok {
		return domain.PhaseInput{}, domain.ErrInvalidPhase
	}
	prevRec, err := e.Store.GetPhase(ctx, proj.ID, prev)
	if err != nil {
		return domain.PhaseInput{}, err
	}
	if prevRec.Output == nil {
		return domain.PhaseInput{}, domain.NewEngineError(domain.ErrPhaseNotFound.Code,
			fmt.Sprintf("phase %s has no output to seed %s", prev, phase))
	}
	return domain.PhaseInput{
		Content:  prevRec.Output.Content,
		Metadata: prevRec.Output.Metadata,
	}, nil
}

// predecessor returns the phase preceding p in the pipeline.
func predecessor(p domain.Phase) (domain.Phase, bool) {
	for i, candidate := range domain.PhaseOrder {
		if candidate == p && i > 0 {
			return domain.PhaseOrder[i-1], true
		}
	}
	return "", false
}

// applyRedirection overlays a resume redirection onto the stored input.
// Non-empty scalar fields replace their stored counterpart; metadata keys
// shallow-merge over the stored map.
func applyRedirection(stored, direction domain.PhaseInput) domain.PhaseInput {
	out := stored
	if direction.Requirements != "" {
		out.Requirements = direction.Requirements
	}
	if direction.Content != "" {
		out.Content = direction.Content
	}
	if len(direction.Metadata) > 0 {
		merged := make(map[string]any, len(stored.Metadata)+len(direction.Metadata))
		for k, v := range stored.Metadata {
			merged[k] = v
		}
		for k, v := range direction.Metadata {
			merged[k] = v
		}
		out.Metadata = merged
	}
	return out
}

// failProject marks the project failed and returns the causing error.
func (e *Engine) failProject(ctx context.Context, projectID string, cause error) error {
	if err := e.Store.UpdateProjectStatus(ctx, projectID, domain.StatusFailed, ""); err != nil {
		e.Log.Error("mark project failed", "project_id", projectID, "error", err)
	}
	return cause
}

// failPhase marks the phase failed and stores the cause in the result.
// A cancelled context is passed through untouched: pausing must not leave
// a half-written phase record behind.
func (e *Engine) failPhase(ctx context.Context, projectID string, phase domain.Phase, res domain.PhaseResult, cause error) domain.PhaseResult {
	res.Err = cause
	if errors.Is(cause, context.Canceled) {
		return res
	}
	if err := e.Store.UpdatePhaseStatus(ctx, projectID, phase, domain.PhaseFailed, nil); err != nil {
		e.Log.Error("mark phase failed", "project_id", projectID, "phase", phase, "error", err)
	}
	return res
}

// callProcess invokes the producer under the call timeout.
func (e *Engine) callProcess(ctx context.Context, p agent.Producer, input domain.PhaseInput) (*domain.WorkProduct, error) {
	tctx, cancel := e.callContext(ctx)
	defer cancel()

	product, err := p.Process(tctx, input)
	if err != nil {
		return nil, e.classifyCallError(ctx, "producer", p.ID(), err)
	}
	if product == nil {
		return nil, domain.NewEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("producer %s returned no work product", p.ID()))
	}
	return product, nil
}

// callRevise invokes the producer's revision under the call timeout.
func (e *Engine) callRevise(ctx context.Context, p agent.Producer, original *domain.WorkProduct, feedback string) (*domain.WorkProduct, error) {
	tctx, cancel := e.callContext(ctx)
	defer cancel()

	product, err := p.Revise(tctx, original, feedback)
	if err != nil {
		return nil, e.classifyCallError(ctx, "producer", p.ID(), err)
	}
	if product == nil {
		return nil, domain.NewEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("producer %s returned no revision", p.ID()))
	}
	return product, nil
}

// callReview invokes the reviewer under the call timeout. A nil verdict
// without an error degrades to a rejection so the loop never crashes on
// malformed reviewer output.
func (e *Engine) callReview(ctx context.Context, r agent.Reviewer, product *domain.WorkProduct) (*domain.ReviewVerdict, error) {
	tctx, cancel := e.callContext(ctx)
	defer cancel()

	verdict, err := r.Review(tctx, product)
	if err != nil {
		return nil, e.classifyCallError(ctx, "reviewer", r.ID(), err)
	}
	if verdict == nil {
		return &domain.ReviewVerdict{
			Approved:      false,
			Feedback:      "reviewer returned no verdict",
			ReviewerID:    r.ID(),
			TimestampUnix: time.Now().Unix(),
		}, nil
	}
	return verdict, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Policy.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.Policy.CallTimeout)
}

// classifyCallError maps a participant call error onto the error
// taxonomy: cancellation passes through, a deadline hit is a timeout,
// anything else is a participant failure.
func (e *Engine) classifyCallError(parent context.Context, kind, id string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapEngineError(domain.ErrParticipantTimeout.Code,
			fmt.Sprintf("%s %s", kind, id), err)
	}
	return domain.WrapEngineError(domain.ErrParticipantFailed.Code,
		fmt.Sprintf("%s %s", kind, id), err)
}

func (e *Engine) emit(eventType string, data map[string]any) {
	if e.Emit != nil {
		e.Emit(eventType, data)
	}
}
