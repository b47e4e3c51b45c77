package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

const taskColumns = `
	id, title, description, status, status_type, category, priority, tags,
	assignee_ids, assignee_names, employee_ids, parent_id,
	space_id, space_name, folder_id, folder_name, list_id, list_name,
	tracked_minutes, estimate_minutes, start_times, end_times,
	date_created, date_updated, date_done, date_closed, due_date,
	archived, is_deleted, synced_at`

// Upsert writes a task and its time entries in one transaction. Rows are
// keyed by remote id so repeated calls are idempotent. entries is the
// task's complete set: stored entries missing from it are removed.
func (r *TaskRepo) Upsert(ctx context.Context, t *models.Task, entries []models.TimeEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertTask(ctx, tx, t); err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	for i := range entries {
		if err := upsertTimeEntry(ctx, tx, &entries[i]); err != nil {
			return fmt.Errorf("failed to upsert time entry %s: %w", entries[i].ID, err)
		}
	}
	if err := pruneTimeEntries(ctx, tx, t.ID, entries); err != nil {
		return fmt.Errorf("failed to prune time entries of %s: %w", t.ID, err)
	}

	return tx.Commit()
}

func upsertTask(ctx context.Context, q execer, t *models.Task) error {
	encoded := make([]string, 0, 7)
	for _, v := range []any{t.Tags, t.AssigneeIDs, t.AssigneeNames, t.EmployeeIDs, t.StartTimes, t.EndTimes} {
		b, err := json.Marshal(emptyIfNil(v))
		if err != nil {
			return err
		}
		encoded = append(encoded, string(b))
	}

	syncedAt := t.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			status_type = excluded.status_type,
			category = excluded.category,
			priority = excluded.priority,
			tags = excluded.tags,
			assignee_ids = excluded.assignee_ids,
			assignee_names = excluded.assignee_names,
			employee_ids = excluded.employee_ids,
			parent_id = excluded.parent_id,
			space_id = excluded.space_id,
			space_name = excluded.space_name,
			folder_id = excluded.folder_id,
			folder_name = excluded.folder_name,
			list_id = excluded.list_id,
			list_name = excluded.list_name,
			tracked_minutes = excluded.tracked_minutes,
			estimate_minutes = excluded.estimate_minutes,
			start_times = excluded.start_times,
			end_times = excluded.end_times,
			date_created = excluded.date_created,
			date_updated = excluded.date_updated,
			date_done = excluded.date_done,
			date_closed = excluded.date_closed,
			due_date = excluded.due_date,
			archived = excluded.archived,
			is_deleted = 0,
			synced_at = excluded.synced_at
	`,
		t.ID, t.Title, t.Description, t.Status, t.StatusType, string(t.Category), t.Priority, encoded[0],
		encoded[1], encoded[2], encoded[3], nullString(t.ParentID),
		t.SpaceID, t.SpaceName, t.FolderID, t.FolderName, t.ListID, t.ListName,
		t.TrackedMinutes, t.EstimateMinutes, encoded[4], encoded[5],
		nullTime(t.DateCreated), nullTime(t.DateUpdated), nullTime(t.DateDone), nullTime(t.DateClosed), nullTime(t.DueDate),
		t.Archived, syncedAt.UTC(),
	)
	return err
}

func (r *TaskRepo) GetByID(ctx context.Context, id string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByIDs returns the live tasks among ids, keyed by id.
func (r *TaskRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Task, error) {
	out := make(map[string]*models.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE is_deleted = 0 AND id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		out[tasks[i].ID] = &tasks[i]
	}
	return out, nil
}

// GetByLists returns the live tasks of the given lists.
func (r *TaskRepo) GetByLists(ctx context.Context, listIDs []string) ([]models.Task, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE is_deleted = 0 AND list_id IN (`+placeholders(len(listIDs))+`)
		ORDER BY list_name, title
	`, stringArgs(listIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// CountByLists counts the live tasks of the given lists.
func (r *TaskRepo) CountByLists(ctx context.Context, listIDs []string) (int, error) {
	if len(listIDs) == 0 {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE is_deleted = 0 AND list_id IN (`+placeholders(len(listIDs))+`)`,
		stringArgs(listIDs)...,
	).Scan(&n)
	return n, err
}

// LiveIDs returns the ids of every task not yet soft-deleted.
func (r *TaskRepo) LiveIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tasks WHERE is_deleted = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkDeleted flags tasks as soft-deleted. Rows are never removed.
func (r *TaskRepo) MarkDeleted(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var total int64
	for start := 0; start < len(ids); start += 500 {
		end := min(start+500, len(ids))
		chunk := ids[start:end]
		res, err := r.db.ExecContext(ctx,
			`UPDATE tasks SET is_deleted = 1 WHERE is_deleted = 0 AND id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...,
		)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

type TaskStats struct {
	Total    int
	Deleted  int
	Lists    int
	Tracked  int64
	Estimate int64
}

func (r *TaskRepo) Stats(ctx context.Context) (*TaskStats, error) {
	var s TaskStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(is_deleted), 0),
			COUNT(DISTINCT CASE WHEN is_deleted = 0 THEN list_id END),
			COALESCE(SUM(CASE WHEN is_deleted = 0 THEN tracked_minutes END), 0),
			COALESCE(SUM(CASE WHEN is_deleted = 0 THEN estimate_minutes END), 0)
		FROM tasks
	`).Scan(&s.Total, &s.Deleted, &s.Lists, &s.Tracked, &s.Estimate)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var category string
	var tags, assigneeIDs, assigneeNames, employeeIDs, startTimes, endTimes string
	var parentID sql.NullString
	var created, updated, done, closed, due sql.NullTime

	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.StatusType, &category, &t.Priority, &tags,
		&assigneeIDs, &assigneeNames, &employeeIDs, &parentID,
		&t.SpaceID, &t.SpaceName, &t.FolderID, &t.FolderName, &t.ListID, &t.ListName,
		&t.TrackedMinutes, &t.EstimateMinutes, &startTimes, &endTimes,
		&created, &updated, &done, &closed, &due,
		&t.Archived, &t.IsDeleted, &t.SyncedAt,
	); err != nil {
		return nil, err
	}

	t.Category = models.StatusCategory(category)
	if parentID.Valid && parentID.String != "" {
		t.ParentID = &parentID.String
	}
	t.DateCreated = timePtr(created)
	t.DateUpdated = timePtr(updated)
	t.DateDone = timePtr(done)
	t.DateClosed = timePtr(closed)
	t.DueDate = timePtr(due)

	for _, f := range []struct {
		raw string
		dst any
	}{
		{tags, &t.Tags},
		{assigneeIDs, &t.AssigneeIDs},
		{assigneeNames, &t.AssigneeNames},
		{employeeIDs, &t.EmployeeIDs},
		{startTimes, &t.StartTimes},
		{endTimes, &t.EndTimes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func emptyIfNil(v any) any {
	switch s := v.(type) {
	case []string:
		if s == nil {
			return []string{}
		}
	case []int64:
		if s == nil {
			return []int64{}
		}
	case []time.Time:
		if s == nil {
			return []time.Time{}
		}
	}
	return v
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
