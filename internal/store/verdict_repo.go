package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// RecordVerdict persists one review verdict for audit.
func (s *Store) RecordVerdict(ctx context.Context, projectID string, phaseType domain.Phase, iteration int, v domain.ReviewVerdict) error {
	sug, err := json.Marshal(v.Suggestions)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "marshal verdict suggestions", err)
	}

	const q = `INSERT INTO review_verdicts
(project_id, phase_type, iteration, approved, reviewer, feedback, suggestions_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.DB.ExecContext(ctx, q,
		projectID,
		string(phaseType),
		iteration,
		boolToInt(v.Approved),
		v.ReviewerID,
		v.Feedback,
		string(sug),
		s.now().Unix(),
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "record verdict", err)
	}
	return nil
}

// ListVerdicts returns all persisted verdicts for one phase of a project,
// oldest first.
func (s *Store) ListVerdicts(ctx context.Context, projectID string, phaseType domain.Phase) ([]domain.VerdictRecord, error) {
	const q = `SELECT id, project_id, phase_type, iteration, approved, reviewer, feedback, created_at
FROM review_verdicts WHERE project_id = ? AND phase_type = ? ORDER BY id ASC`

	rows, err := s.DB.QueryContext(ctx, q, projectID, string(phaseType))
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list verdicts", err)
	}
	defer rows.Close()

	var verdicts []domain.VerdictRecord
	for rows.Next() {
		var v domain.VerdictRecord
		var phase string
		var approved int
		if err := rows.Scan(&v.ID, &v.ProjectID, &phase, &v.Iteration, &approved, &v.Reviewer, &v.Feedback, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.PhaseType = domain.Phase(phase)
		v.Approved = approved != 0
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// ListProjectVerdicts returns all persisted verdicts for a project across
// every phase, oldest first.
func (s *Store) ListProjectVerdicts(ctx context.Context, projectID string) ([]domain.VerdictRecord, error) {
	const q = `SELECT id, project_id, phase_type, iteration, approved, reviewer, feedback, created_at
FROM review_verdicts WHERE project_id = ? ORDER BY id ASC`

	rows, err := s.DB.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list verdicts", err)
	}
	defer rows.Close()

	var verdicts []domain.VerdictRecord
	for rows.Next() {
		var v domain.VerdictRecord
		var phase string
		var approved int
		if err := rows.Scan(&v.ID, &v.ProjectID, &phase, &v.Iteration, &approved, &v.Reviewer, &v.Feedback, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.PhaseType = domain.Phase(phase)
		v.Approved = approved != 0
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
