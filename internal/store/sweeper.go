package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PurgeExpired deletes project and phase rows whose TTL has elapsed and
// returns the number of projects reclaimed. Journal and verdict rows for
// reclaimed projects are removed with them.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().Unix()

	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM phases WHERE expires_at <= ?`, now); err != nil {
		return n, err
	}
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM lifecycle_events WHERE project_id NOT IN (SELECT project_id FROM projects)`); err != nil {
		return n, err
	}
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM review_verdicts WHERE project_id NOT IN (SELECT project_id FROM projects)`); err != nil {
		return n, err
	}
	return n, nil
}

// Sweeper periodically purges expired records.
type Sweeper struct {
	Store    *Store
	Interval time.Duration
	Log      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a Sweeper with sensible defaults for zero-value fields.
func NewSweeper(s *Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		Store:    s,
		Interval: interval,
		Log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns a goroutine that purges expired records on a ticker.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := w.Store.PurgeExpired(ctx)
				if err != nil {
					w.Log.Warn("purge expired records", "error", err)
					continue
				}
				if n > 0 {
					w.Log.Info("reclaimed expired projects", "count", n)
				}
			}
		}
	}()
}

// Stop signals the sweep goroutine to stop. Safe to call multiple times.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
