// Package workflow implements the phase state machine and its gated
// review/revise loop.
package workflow

import (
	"sync"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// Registry maps each phase to its producer/reviewer pair. Exactly one of
// each is registered per phase; a later registration replaces the earlier
// one.
type Registry struct {
	mu        sync.RWMutex
	producers map[domain.Phase]agent.Producer
	reviewers map[domain.Phase]agent.Reviewer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[domain.Phase]agent.Producer),
		reviewers: make(map[domain.Phase]agent.Reviewer),
	}
}

// RegisterProducer sets the producer for a phase.
func (r *Registry) RegisterProducer(phase domain.Phase, p agent.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[phase] = p
}

// RegisterReviewer sets the reviewer for a phase.
func (r *Registry) RegisterReviewer(phase domain.Phase, rev agent.Reviewer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviewers[phase] = rev
}

// Pair returns the producer and reviewer for a phase, or
// ErrAgentNotRegistered when either is missing. A missing registration is
// a configuration error and is never retried.
func (r *Registry) Pair(phase domain.Phase) (agent.Producer, agent.Reviewer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, okP := r.producers[phase]
	rev, okR := r.reviewers[phase]
	if !okP || !okR {
		return nil, nil, domain.ErrAgentNotRegistered
	}
	return p, rev, nil
}
