package store

import (
	"context"
	"fmt"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// AppendEvent appends one entry to the durable lifecycle event journal.
// The journal survives restarts; the in-memory bus history does not.
func (s *Store) AppendEvent(ctx context.Context, projectID, eventType, payloadJSON string) error {
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	const q = `INSERT INTO lifecycle_events (project_id, event_type, payload_json, created_at)
VALUES (?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, q, projectID, eventType, payloadJSON, s.now().Unix())
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "append lifecycle event", err)
	}
	return nil
}

// ListEvents returns the journal entries for a project in append order.
func (s *Store) ListEvents(ctx context.Context, projectID string) ([]domain.LifecycleEvent, error) {
	const q = `SELECT id, project_id, event_type, payload_json, created_at
FROM lifecycle_events WHERE project_id = ? ORDER BY id ASC`

	rows, err := s.DB.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list lifecycle events", err)
	}
	defer rows.Close()

	var events []domain.LifecycleEvent
	for rows.Next() {
		var e domain.LifecycleEvent
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
