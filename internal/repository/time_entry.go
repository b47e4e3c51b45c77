package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

type TimeEntryRepo struct {
	db *sql.DB
}

func NewTimeEntryRepo(db *sql.DB) *TimeEntryRepo {
	return &TimeEntryRepo{db: db}
}

func upsertTimeEntry(ctx context.Context, q execer, e *models.TimeEntry) error {
	syncedAt := e.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO time_entries (id, task_id, user_id, username, start_at, end_at, duration_ms, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			user_id = excluded.user_id,
			username = excluded.username,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			duration_ms = excluded.duration_ms,
			synced_at = excluded.synced_at
	`, e.ID, e.TaskID, e.UserID, e.Username, e.Start.UTC(), e.End.UTC(), e.Duration.Milliseconds(), syncedAt.UTC())
	return err
}

// pruneTimeEntries deletes the task's entries whose ids are not in keep.
func pruneTimeEntries(ctx context.Context, q execer, taskID string, keep []models.TimeEntry) error {
	if len(keep) == 0 {
		_, err := q.ExecContext(ctx, `DELETE FROM time_entries WHERE task_id = ?`, taskID)
		return err
	}
	args := make([]any, 0, len(keep)+1)
	args = append(args, taskID)
	for _, e := range keep {
		args = append(args, e.ID)
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM time_entries WHERE task_id = ? AND id NOT IN (`+placeholders(len(keep))+`)`,
		args...,
	)
	return err
}

func (r *TimeEntryRepo) Upsert(ctx context.Context, e *models.TimeEntry) error {
	return upsertTimeEntry(ctx, r.db, e)
}

// GetByTask returns a task's entries latest first.
func (r *TimeEntryRepo) GetByTask(ctx context.Context, taskID string) ([]models.TimeEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT te.id, te.task_id, te.user_id, te.username, te.start_at, te.end_at, te.duration_ms, te.synced_at,
		       COALESCE(t.title, ''), COALESCE(t.list_id, ''), COALESCE(t.list_name, '')
		FROM time_entries te
		LEFT JOIN tasks t ON t.id = te.task_id
		WHERE te.task_id = ?
		ORDER BY te.start_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTimeEntries(rows)
}

// GetByListsAndRange returns entries starting within [from, to) on live
// tasks of the given lists.
func (r *TimeEntryRepo) GetByListsAndRange(ctx context.Context, listIDs []string, from, to time.Time) ([]models.TimeEntry, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}

	args := append(stringArgs(listIDs), from.UTC(), to.UTC())
	rows, err := r.db.QueryContext(ctx, `
		SELECT te.id, te.task_id, te.user_id, te.username, te.start_at, te.end_at, te.duration_ms, te.synced_at,
		       t.title, t.list_id, t.list_name
		FROM time_entries te
		JOIN tasks t ON t.id = te.task_id
		WHERE t.is_deleted = 0 AND t.list_id IN (`+placeholders(len(listIDs))+`)
		  AND te.start_at >= ? AND te.start_at < ?
		ORDER BY te.start_at ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTimeEntries(rows)
}

func (r *TimeEntryRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM time_entries`).Scan(&n)
	return n, err
}

func scanTimeEntries(rows *sql.Rows) ([]models.TimeEntry, error) {
	var entries []models.TimeEntry
	for rows.Next() {
		var e models.TimeEntry
		var durationMs int64
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.UserID, &e.Username, &e.Start, &e.End, &durationMs, &e.SyncedAt,
			&e.TaskTitle, &e.ListID, &e.ListName,
		); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
