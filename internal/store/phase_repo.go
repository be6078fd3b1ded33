package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// CreatePhase creates (or overwrites) the phase record for
// (projectID, phaseType) with the given input, status pending, and a
// reset iteration counter.
func (s *Store) CreatePhase(ctx context.Context, projectID string, phaseType domain.Phase, input domain.PhaseInput) (*domain.PhaseRecord, error) {
	now := s.now()
	rec := domain.PhaseRecord{
		ProjectID:     projectID,
		PhaseType:     phaseType,
		Status:        domain.PhasePending,
		Input:         input,
		MaxIterations: s.MaxIterations,
		StartedAtUnix: now.Unix(),
	}

	in, err := json.Marshal(rec.Input)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "marshal phase input", err)
	}

	const q = `INSERT OR REPLACE INTO phases
(project_id, phase_type, status, input_json, output_json, current_iteration, max_iterations, started_at, completed_at, expires_at)
VALUES (?, ?, ?, ?, NULL, 0, ?, ?, 0, ?)`
	_, err = s.DB.ExecContext(ctx, q,
		rec.ProjectID,
		string(rec.PhaseType),
		string(rec.Status),
		string(in),
		rec.MaxIterations,
		rec.StartedAtUnix,
		s.expiry(now),
	)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "create phase", err)
	}
	return &rec, nil
}

// GetPhase retrieves the phase record for (projectID, phaseType).
func (s *Store) GetPhase(ctx context.Context, projectID string, phaseType domain.Phase) (*domain.PhaseRecord, error) {
	const q = `SELECT project_id, phase_type, status, input_json, output_json, current_iteration, max_iterations, started_at, completed_at
FROM phases WHERE project_id = ? AND phase_type = ? AND expires_at > ?`

	row := s.DB.QueryRowContext(ctx, q, projectID, string(phaseType), s.now().Unix())

	var rec domain.PhaseRecord
	var phase, status, in string
	var out sql.NullString
	err := row.Scan(&rec.ProjectID, &phase, &status, &in, &out,
		&rec.CurrentIteration, &rec.MaxIterations, &rec.StartedAtUnix, &rec.CompletedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrPhaseNotFound
		}
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "get phase", err)
	}
	rec.PhaseType = domain.Phase(phase)
	rec.Status = domain.PhaseStatus(status)
	if err := json.Unmarshal([]byte(in), &rec.Input); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "decode phase input", err)
	}
	if out.Valid {
		var wp domain.WorkProduct
		if err := json.Unmarshal([]byte(out.String), &wp); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "decode phase output", err)
		}
		rec.Output = &wp
	}
	return &rec, nil
}

// UpdatePhaseStatus sets the phase status, storing the output when one is
// supplied. Completion and failure stamp completed_at.
func (s *Store) UpdatePhaseStatus(ctx context.Context, projectID string, phaseType domain.Phase, status domain.PhaseStatus, output *domain.WorkProduct) error {
	rec, err := s.GetPhase(ctx, projectID, phaseType)
	if err != nil {
		return err
	}

	now := s.now()
	rec.Status = status
	if output != nil {
		rec.Output = output
	}
	if status == domain.PhaseCompleted || status == domain.PhaseFailed {
		rec.CompletedAtUnix = now.Unix()
	}

	var out any
	if rec.Output != nil {
		b, err := json.Marshal(rec.Output)
		if err != nil {
			return domain.WrapEngineError(domain.ErrStoreWrite.Code, "marshal phase output", err)
		}
		out = string(b)
	}

	const q = `UPDATE phases SET
		status = ?,
		output_json = ?,
		completed_at = ?,
		expires_at = ?
	WHERE project_id = ? AND phase_type = ?`
	res, err := s.DB.ExecContext(ctx, q,
		string(rec.Status),
		out,
		rec.CompletedAtUnix,
		s.expiry(now),
		rec.ProjectID,
		string(rec.PhaseType),
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "update phase status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrPhaseNotFound
	}
	return nil
}

// IncrementPhaseIteration bumps the iteration counter and returns the new
// count. The counter is capped at max_iterations by construction.
func (s *Store) IncrementPhaseIteration(ctx context.Context, projectID string, phaseType domain.Phase) (int, error) {
	now := s.now()
	const q = `UPDATE phases SET
		current_iteration = current_iteration + 1,
		expires_at = ?
	WHERE project_id = ? AND phase_type = ? AND current_iteration < max_iterations`
	res, err := s.DB.ExecContext(ctx, q, s.expiry(now), projectID, string(phaseType))
	if err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreWrite.Code, "increment phase iteration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		rec, err := s.GetPhase(ctx, projectID, phaseType)
		if err != nil {
			return 0, err
		}
		return rec.CurrentIteration, domain.ErrIterationLimit
	}

	rec, err := s.GetPhase(ctx, projectID, phaseType)
	if err != nil {
		return 0, err
	}
	return rec.CurrentIteration, nil
}

// ListPhases returns every phase record stored for a project, in pipeline
// order.
func (s *Store) ListPhases(ctx context.Context, projectID string) ([]*domain.PhaseRecord, error) {
	var recs []*domain.PhaseRecord
	for _, p := range domain.PhaseOrder {
		rec, err := s.GetPhase(ctx, projectID, p)
		if err == domain.ErrPhaseNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
