// Package domain defines the core types for the team-ai orchestration engine.
package domain

// Phase is one stage of the fixed production pipeline.
type Phase string

const (
	PhaseRequirements   Phase = "requirements"
	PhaseDesign         Phase = "design"
	PhaseImplementation Phase = "implementation"
	PhaseTest           Phase = "test"
)

// PhaseOrder is the fixed execution sequence. Each phase consumes the
// approved output of its predecessor, so the pipeline is strictly linear.
var PhaseOrder = []Phase{
	PhaseRequirements,
	PhaseDesign,
	PhaseImplementation,
	PhaseTest,
}

// transitions is the linear phase transition table. A phase missing from
// the map is the last one.
var transitions = map[Phase]Phase{
	PhaseRequirements:   PhaseDesign,
	PhaseDesign:         PhaseImplementation,
	PhaseImplementation: PhaseTest,
}

// NextPhase returns the phase following p, or false if p is the last.
func NextPhase(p Phase) (Phase, bool) {
	next, ok := transitions[p]
	return next, ok
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range PhaseOrder {
		if Phase(s) == p {
			return p, nil
		}
	}
	return "", ErrInvalidPhase
}

// ProjectStatus is the project-level lifecycle status. While a phase is
// running the project status carries that phase's name.
type ProjectStatus string

const (
	StatusInitialized    ProjectStatus = "initialized"
	StatusRequirements   ProjectStatus = "requirements"
	StatusDesign         ProjectStatus = "design"
	StatusImplementation ProjectStatus = "implementation"
	StatusTest           ProjectStatus = "test"
	StatusCompleted      ProjectStatus = "completed"
	StatusPaused         ProjectStatus = "paused"
	StatusFailed         ProjectStatus = "failed"
)

// StatusForPhase maps a phase to the project status used while it runs.
func StatusForPhase(p Phase) ProjectStatus {
	return ProjectStatus(p)
}

// Terminal reports whether the status admits no further transitions.
func (s ProjectStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PhaseStatus is the per-phase lifecycle status.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseReview     PhaseStatus = "review"
	PhaseRevision   PhaseStatus = "revision"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// ProjectRecord is the durable representation of a project.
// CurrentPhase is empty only when the status is initialized, completed,
// or failed.
type ProjectRecord struct {
	ID            string         `json:"project_id"`
	Name          string         `json:"name"`
	Status        ProjectStatus  `json:"status"`
	CurrentPhase  Phase          `json:"current_phase,omitempty"`
	Requirements  string         `json:"requirements"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAtUnix int64          `json:"created_at"`
	UpdatedAtUnix int64          `json:"updated_at"`
}

// PhaseInput is the payload a phase's producer consumes. The first phase
// is seeded from the project requirements; later phases consume the
// predecessor's work product content.
type PhaseInput struct {
	Requirements string         `json:"requirements,omitempty"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// WorkProduct is the content artifact a producer emits and a reviewer
// evaluates. It is what gets persisted as phase output.
type WorkProduct struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ReviewVerdict is a reviewer's decision on a work product.
type ReviewVerdict struct {
	Approved      bool     `json:"approved"`
	Feedback      string   `json:"feedback"`
	Suggestions   []string `json:"suggestions,omitempty"`
	ReviewerID    string   `json:"reviewer_id"`
	TimestampUnix int64    `json:"timestamp"`
}

// PhaseRecord is the durable representation of one phase of one project,
// keyed by (ProjectID, PhaseType). CurrentIteration counts review
// rejections and never exceeds MaxIterations. Output is set exactly once,
// at approval or forced termination.
type PhaseRecord struct {
	ProjectID        string       `json:"project_id"`
	PhaseType        Phase        `json:"phase_type"`
	Status           PhaseStatus  `json:"status"`
	Input            PhaseInput   `json:"input"`
	Output           *WorkProduct `json:"output,omitempty"`
	CurrentIteration int          `json:"current_iteration"`
	MaxIterations    int          `json:"max_iterations"`
	StartedAtUnix    int64        `json:"started_at"`
	CompletedAtUnix  int64        `json:"completed_at,omitempty"`
}

// PhaseResult is the outcome of a single phase execution.
// Iterations is the number of reviewer invocations actually consumed.
// Success may be true without Approved when the exhausted-iterations
// policy is set to proceed.
type PhaseResult struct {
	Phase      Phase
	Success    bool
	Approved   bool
	Output     *WorkProduct
	Iterations int
	Err        error
}

// PhaseSummary is the read-only per-phase view assembled for status queries.
type PhaseSummary struct {
	Status          PhaseStatus `json:"status"`
	Iterations      int         `json:"iterations"`
	MaxIterations   int         `json:"max_iterations"`
	StartedAtUnix   int64       `json:"started_at"`
	CompletedAtUnix int64       `json:"completed_at,omitempty"`
}

// ProjectSnapshot combines the project record with every phase record
// into one read-only status view.
type ProjectSnapshot struct {
	ProjectID     string                 `json:"project_id"`
	Name          string                 `json:"name"`
	Status        ProjectStatus          `json:"status"`
	CurrentPhase  Phase                  `json:"current_phase,omitempty"`
	Phases        map[Phase]PhaseSummary `json:"phases"`
	CreatedAtUnix int64                  `json:"created_at"`
	UpdatedAtUnix int64                  `json:"updated_at"`
}

// LifecycleEvent is one entry of the durable event journal.
type LifecycleEvent struct {
	ID          int64  `json:"id"`
	ProjectID   string `json:"project_id"`
	EventType   string `json:"event_type"`
	PayloadJSON string `json:"payload"`
	CreatedAt   int64  `json:"created_at"`
}

// VerdictRecord is one persisted review verdict, written once per
// reviewer invocation for audit across restarts.
type VerdictRecord struct {
	ID        int64  `json:"id"`
	ProjectID string `json:"project_id"`
	PhaseType Phase  `json:"phase_type"`
	Iteration int    `json:"iteration"`
	Approved  bool   `json:"approved"`
	Reviewer  string `json:"reviewer"`
	Feedback  string `json:"feedback"`
	CreatedAt int64  `json:"created_at"`
}
