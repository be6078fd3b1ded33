package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// ScriptedProducer is a deterministic in-process producer used by tests
// and the default development wiring. Each call emits "v1", "v2", ...
// based on how many times it has produced or revised.
type ScriptedProducer struct {
	AgentID string
	// Prefix is prepended to the versioned content, e.g. "design ".
	Prefix string
	Sink   SinkFunc

	processCalls atomic.Int64
	reviseCalls  atomic.Int64
}

// SinkFunc aliases StreamSink for struct fields.
type SinkFunc = StreamSink

// ID returns the participant id.
func (p *ScriptedProducer) ID() string { return p.AgentID }

// ProcessCalls reports how many initial productions have happened.
func (p *ScriptedProducer) ProcessCalls() int { return int(p.processCalls.Load()) }

// ReviseCalls reports how many revisions have happened.
func (p *ScriptedProducer) ReviseCalls() int { return int(p.reviseCalls.Load()) }

// Process emits the next content version for the given input.
func (p *ScriptedProducer) Process(ctx context.Context, input domain.PhaseInput) (*domain.WorkProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := p.processCalls.Add(1) + p.reviseCalls.Load()
	content := fmt.Sprintf("%sv%d", p.Prefix, n)
	p.stream(content)
	return &domain.WorkProduct{
		Content:  content,
		Metadata: map[string]any{"agent_id": p.AgentID},
	}, nil
}

// Revise emits the next content version, acknowledging the feedback.
func (p *ScriptedProducer) Revise(ctx context.Context, original *domain.WorkProduct, feedback string) (*domain.WorkProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := p.processCalls.Load() + p.reviseCalls.Add(1)
	content := fmt.Sprintf("%sv%d", p.Prefix, n)
	p.stream(content)
	return &domain.WorkProduct{
		Content: content,
		Metadata: map[string]any{
			"agent_id": p.AgentID,
			"feedback": feedback,
		},
	}, nil
}

func (p *ScriptedProducer) stream(text string) {
	if p.Sink != nil {
		p.Sink(p.AgentID, text)
	}
}

// ScriptedReviewer rejects the first RejectFirst reviews with Feedback,
// then approves everything after.
type ScriptedReviewer struct {
	AgentID     string
	RejectFirst int
	Feedback    string

	reviews atomic.Int64
}

// ID returns the participant id.
func (r *ScriptedReviewer) ID() string { return r.AgentID }

// Reviews reports how many reviews have happened.
func (r *ScriptedReviewer) Reviews() int { return int(r.reviews.Load()) }

// Review approves once the configured number of rejections is spent.
func (r *ScriptedReviewer) Review(ctx context.Context, product *domain.WorkProduct) (*domain.ReviewVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := r.reviews.Add(1)
	verdict := &domain.ReviewVerdict{
		Approved:      n > int64(r.RejectFirst),
		ReviewerID:    r.AgentID,
		TimestampUnix: time.Now().Unix(),
	}
	if verdict.Approved {
		verdict.Feedback = "approved"
	} else {
		verdict.Feedback = r.Feedback
		if verdict.Feedback == "" {
			verdict.Feedback = "needs another pass"
		}
	}
	return verdict, nil
}
