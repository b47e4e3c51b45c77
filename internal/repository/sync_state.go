package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

// SyncStateRepo persists the single row of sync bookkeeping.
type SyncStateRepo struct {
	db *sql.DB
}

func NewSyncStateRepo(db *sql.DB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

// Get returns the stored state, or a zero state before the first run.
func (r *SyncStateRepo) Get(ctx context.Context) (*models.SyncState, error) {
	var s models.SyncState
	var lastSuccess sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT last_success_at, run_count, last_mode, last_error, updated_at
		FROM sync_state WHERE id = 1
	`).Scan(&lastSuccess, &s.RunCount, &s.LastMode, &s.LastError, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return &models.SyncState{}, nil
	}
	if err != nil {
		return nil, err
	}

	s.LastSuccessAt = timePtr(lastSuccess)
	return &s, nil
}

// BeginRun bumps the run counter and returns the new value.
func (r *SyncStateRepo) BeginRun(ctx context.Context, mode string) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, run_count, last_mode) VALUES (1, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_count = run_count + 1,
			last_mode = excluded.last_mode,
			updated_at = CURRENT_TIMESTAMP
	`, mode)
	if err != nil {
		return 0, err
	}

	var n int64
	err = r.db.QueryRowContext(ctx, `SELECT run_count FROM sync_state WHERE id = 1`).Scan(&n)
	return n, err
}

// RecordSuccess stores the point in time the next incremental run counts from.
func (r *SyncStateRepo) RecordSuccess(ctx context.Context, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state SET last_success_at = ?, last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, at.UTC())
	return err
}

func (r *SyncStateRepo) RecordFailure(ctx context.Context, msg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state SET last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, msg)
	return err
}
