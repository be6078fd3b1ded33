// Package agent defines the producer and reviewer capabilities the
// workflow engine drives, plus the implementations shipped with the
// engine. Producers generate and revise work products; reviewers gate
// them. Both are external collaborators from the engine's point of view.
package agent

import (
	"context"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// Producer generates a work product from phase input and revises it on
// reviewer feedback. Implementations must be safe to retry.
type Producer interface {
	ID() string
	Process(ctx context.Context, input domain.PhaseInput) (*domain.WorkProduct, error)
	Revise(ctx context.Context, original *domain.WorkProduct, feedback string) (*domain.WorkProduct, error)
}

// Reviewer evaluates a work product. A malformed structured response must
// degrade to a rejecting verdict, never an error.
type Reviewer interface {
	ID() string
	Review(ctx context.Context, product *domain.WorkProduct) (*domain.ReviewVerdict, error)
}

// StreamSink receives incremental textual progress from a participant.
// Delivery is fire-and-forget with no backpressure guarantee; sinks must
// never block the caller. A nil sink is valid and means no observer.
type StreamSink func(participantID, text string)

// Kind distinguishes the two participant capabilities of a phase.
type Kind string

const (
	KindMain     Kind = "main"
	KindReviewer Kind = "reviewer"
)

// Role names a participant's position in the pipeline, one producer and
// one reviewer per phase.
type Role string

const (
	RoleRequirementsMain       Role = "requirements_main"
	RoleRequirementsReviewer   Role = "requirements_reviewer"
	RoleDesignMain             Role = "design_main"
	RoleDesignReviewer         Role = "design_reviewer"
	RoleImplementationMain     Role = "implementation_main"
	RoleImplementationReviewer Role = "implementation_reviewer"
	RoleTestMain               Role = "test_main"
	RoleTestReviewer           Role = "test_reviewer"
)

// roleTable maps each role to its phase and capability.
var roleTable = map[Role]struct {
	Phase domain.Phase
	Kind  Kind
}{
	RoleRequirementsMain:       {domain.PhaseRequirements, KindMain},
	RoleRequirementsReviewer:   {domain.PhaseRequirements, KindReviewer},
	RoleDesignMain:             {domain.PhaseDesign, KindMain},
	RoleDesignReviewer:         {domain.PhaseDesign, KindReviewer},
	RoleImplementationMain:     {domain.PhaseImplementation, KindMain},
	RoleImplementationReviewer: {domain.PhaseImplementation, KindReviewer},
	RoleTestMain:               {domain.PhaseTest, KindMain},
	RoleTestReviewer:           {domain.PhaseTest, KindReviewer},
}

// ResolveRole returns the phase and capability for a role.
func ResolveRole(r Role) (domain.Phase, Kind, error) {
	entry, ok := roleTable[r]
	if !ok {
		return "", "", domain.ErrUnknownRole
	}
	return entry.Phase, entry.Kind, nil
}

// RoleFor builds the canonical role name for a phase and capability.
func RoleFor(phase domain.Phase, kind Kind) Role {
	return Role(string(phase) + "_" + string(kind))
}

// Roles lists every pipeline role in phase order, producer before reviewer.
func Roles() []Role {
	roles := make([]Role, 0, len(roleTable))
	for _, p := range domain.PhaseOrder {
		roles = append(roles, RoleFor(p, KindMain), RoleFor(p, KindReviewer))
	}
	return roles
}

// Info describes a registered participant for enumeration.
type Info struct {
	ID   string `json:"agent_id"`
	Role Role   `json:"role"`
}
