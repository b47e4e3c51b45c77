package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

type MappingRepo struct {
	db *sql.DB
}

func NewMappingRepo(db *sql.DB) *MappingRepo {
	return &MappingRepo{db: db}
}

// Save inserts or replaces the mapping for m.Alias.
func (r *MappingRepo) Save(ctx context.Context, m *models.ProjectMapping) error {
	structure, err := json.Marshal(m.Structure)
	if err != nil {
		return err
	}

	var lastSync sql.NullTime
	if m.LastSync != nil {
		lastSync = sql.NullTime{Time: m.LastSync.UTC(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO project_mappings (alias, remote_id, type, name, structure, last_sync)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			remote_id = excluded.remote_id,
			type = excluded.type,
			name = excluded.name,
			structure = excluded.structure,
			last_sync = excluded.last_sync
	`, m.Alias, m.RemoteID, string(m.Type), m.Name, string(structure), lastSync)
	return err
}

func (r *MappingRepo) Get(ctx context.Context, alias string) (*models.ProjectMapping, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT alias, remote_id, type, name, structure, last_sync, created_at
		FROM project_mappings WHERE alias = ?
	`, alias)

	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *MappingRepo) GetAll(ctx context.Context) ([]models.ProjectMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT alias, remote_id, type, name, structure, last_sync, created_at
		FROM project_mappings ORDER BY alias
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []models.ProjectMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (r *MappingRepo) Delete(ctx context.Context, alias string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM project_mappings WHERE alias = ?", alias)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanMapping(row rowScanner) (*models.ProjectMapping, error) {
	var m models.ProjectMapping
	var nodeType, structure string
	var lastSync sql.NullTime

	if err := row.Scan(&m.Alias, &m.RemoteID, &nodeType, &m.Name, &structure, &lastSync, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.Type = models.NodeType(nodeType)
	if lastSync.Valid {
		t := lastSync.Time.In(time.UTC)
		m.LastSync = &t
	}
	if err := json.Unmarshal([]byte(structure), &m.Structure); err != nil {
		return nil, err
	}
	return &m, nil
}
