package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// rawVerdict is the structured response expected from a reviewer.
type rawVerdict struct {
	Approved    bool     `json:"approved"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// ParseVerdict decodes a reviewer's structured response. Any response
// that cannot be decoded degrades to a rejecting verdict with synthetic
// feedback so the review loop keeps running.
func ParseVerdict(raw []byte, reviewerID string) *domain.ReviewVerdict {
	v := &domain.ReviewVerdict{
		ReviewerID:    reviewerID,
		TimestampUnix: time.Now().Unix(),
	}

	var parsed rawVerdict
	if err := json.Unmarshal(raw, &parsed); err != nil {
		v.Approved = false
		v.Feedback = "review response could not be parsed; please produce a structured verdict"
		return v
	}

	v.Approved = parsed.Approved
	v.Feedback = strings.TrimSpace(parsed.Feedback)
	v.Suggestions = parsed.Suggestions
	if !v.Approved && v.Feedback == "" {
		v.Feedback = "rejected without feedback"
	}
	return v
}
