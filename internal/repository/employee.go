package repository

import (
	"context"
	"database/sql"

	"github.com/emilianohg/clickmirror/internal/models"
)

type EmployeeRepo struct {
	db *sql.DB
}

func NewEmployeeRepo(db *sql.DB) *EmployeeRepo {
	return &EmployeeRepo{db: db}
}

// Upsert inserts or refreshes an employee keyed by remote user id.
func (r *EmployeeRepo) Upsert(ctx context.Context, remoteUserID, name, email, role string) (*models.Employee, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO employees (remote_user_id, name, email, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(remote_user_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			updated_at = CURRENT_TIMESTAMP
	`, remoteUserID, name, email, role)
	if err != nil {
		return nil, err
	}

	return r.GetByRemoteID(ctx, remoteUserID)
}

func (r *EmployeeRepo) GetByRemoteID(ctx context.Context, remoteUserID string) (*models.Employee, error) {
	var e models.Employee
	err := r.db.QueryRowContext(ctx, `
		SELECT id, remote_user_id, name, email, role, created_at, updated_at
		FROM employees WHERE remote_user_id = ?
	`, remoteUserID).Scan(&e.ID, &e.RemoteUserID, &e.Name, &e.Email, &e.Role, &e.CreatedAt, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EmployeeRepo) GetAll(ctx context.Context) ([]models.Employee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, remote_user_id, name, email, role, created_at, updated_at
		FROM employees ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []models.Employee
	for rows.Next() {
		var e models.Employee
		if err := rows.Scan(&e.ID, &e.RemoteUserID, &e.Name, &e.Email, &e.Role, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// IDMap returns remote user id -> internal employee id.
func (r *EmployeeRepo) IDMap(ctx context.Context) (map[string]int64, error) {
	employees, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(employees))
	for _, e := range employees {
		m[e.RemoteUserID] = e.ID
	}
	return m, nil
}
