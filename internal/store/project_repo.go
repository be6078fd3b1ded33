package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// CreateProject inserts a new project record with status initialized.
func (s *Store) CreateProject(ctx context.Context, id, name, requirements string, metadata map[string]any) (*domain.ProjectRecord, error) {
	if _, err := s.GetProject(ctx, id); err == nil {
		return nil, domain.ErrDuplicateProject
	}

	now := s.now()
	rec := domain.ProjectRecord{
		ID:            id,
		Name:          name,
		Status:        domain.StatusInitialized,
		Requirements:  requirements,
		Metadata:      metadata,
		CreatedAtUnix: now.Unix(),
		UpdatedAtUnix: now.Unix(),
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "marshal project metadata", err)
	}

	const q = `INSERT OR REPLACE INTO projects
(project_id, name, status, current_phase, requirements, metadata_json, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.DB.ExecContext(ctx, q,
		rec.ID,
		rec.Name,
		string(rec.Status),
		string(rec.CurrentPhase),
		rec.Requirements,
		string(meta),
		rec.CreatedAtUnix,
		rec.UpdatedAtUnix,
		s.expiry(now),
	)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "create project", err)
	}
	return &rec, nil
}

// GetProject retrieves a project by id. Expired records are reported as
// not found; the sweeper reclaims the rows later.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.ProjectRecord, error) {
	const q = `SELECT project_id, name, status, current_phase, requirements, metadata_json, created_at, updated_at
FROM projects WHERE project_id = ? AND expires_at > ?`

	row := s.DB.QueryRowContext(ctx, q, id, s.now().Unix())

	var rec domain.ProjectRecord
	var status, phase, meta string
	err := row.Scan(&rec.ID, &rec.Name, &status, &phase, &rec.Requirements, &meta,
		&rec.CreatedAtUnix, &rec.UpdatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrProjectNotFound
		}
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "get project", err)
	}
	rec.Status = domain.ProjectStatus(status)
	rec.CurrentPhase = domain.Phase(phase)
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "decode project metadata", err)
		}
	}
	return &rec, nil
}

// UpdateProjectStatus sets the project status and current phase using a
// full read-modify-write of the record. Pass an empty phase to clear it.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, currentPhase domain.Phase) error {
	rec, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	rec.Status = status
	rec.CurrentPhase = currentPhase
	rec.UpdatedAtUnix = now.Unix()

	const q = `UPDATE projects SET
		status = ?,
		current_phase = ?,
		updated_at = ?,
		expires_at = ?
	WHERE project_id = ?`
	res, err := s.DB.ExecContext(ctx, q,
		string(rec.Status),
		string(rec.CurrentPhase),
		rec.UpdatedAtUnix,
		s.expiry(now),
		rec.ID,
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "update project status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// ListProjectIDs returns the ids of all non-expired projects.
func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT project_id FROM projects WHERE expires_at > ? ORDER BY created_at ASC`

	rows, err := s.DB.QueryContext(ctx, q, s.now().Unix())
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list projects", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
