package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is lets wrapped instances match their sentinel by code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Workflow / phase errors (-32010 to -32039) ----

var (
	ErrInvalidPhase        = &EngineError{Code: -32010, Message: "invalid phase value"}
	ErrExhaustedIterations = &EngineError{Code: -32011, Message: "review loop exhausted without approval"}
	ErrProjectNotPaused    = &EngineError{Code: -32012, Message: "project is not paused"}
	ErrProjectTerminal     = &EngineError{Code: -32013, Message: "project is in a terminal state"}
	ErrNoCurrentPhase      = &EngineError{Code: -32014, Message: "project has no current phase to resume"}
	ErrIterationLimit      = &EngineError{Code: -32015, Message: "phase iteration counter is at its limit"}
)

// ---- Participant errors (-32040 to -32069) ----

var (
	ErrAgentNotRegistered = &EngineError{Code: -32040, Message: "no producer/reviewer registered for phase"}
	ErrParticipantFailed  = &EngineError{Code: -32041, Message: "participant call failed"}
	ErrParticipantTimeout = &EngineError{Code: -32042, Message: "participant call timed out"}
	ErrDuplicateAgent     = &EngineError{Code: -32043, Message: "agent id already registered"}
	ErrUnknownRole        = &EngineError{Code: -32044, Message: "unknown agent role"}
)

// ---- Coordinator errors (-32070 to -32099) ----

var (
	ErrExecutionActive = &EngineError{Code: -32070, Message: "project already has an active execution"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrProjectNotFound  = &EngineError{Code: -32130, Message: "project not found"}
	ErrPhaseNotFound    = &EngineError{Code: -32131, Message: "phase not found"}
	ErrDuplicateProject = &EngineError{Code: -32132, Message: "project already exists"}
	ErrStoreInit        = &EngineError{Code: -32133, Message: "failed to initialize store"}
	ErrStoreQuery       = &EngineError{Code: -32134, Message: "store query failed"}
	ErrStoreWrite       = &EngineError{Code: -32135, Message: "store write failed"}
	ErrConfigInvalid    = &EngineError{Code: -32136, Message: "invalid configuration"}
)
