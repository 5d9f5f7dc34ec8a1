package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ai-agency/agency/internal/models"
)

const projectColumns = `id, user_id, name, description, type, status, progress, created_at, updated_at`

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Type, &p.Status,
		&p.Progress, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := db.exec(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Description, p.Type, p.Status, p.Progress, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// ListProjects returns the user's projects oldest first.
func (db *DB) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := db.query(ctx, `SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// GetProject loads a project scoped to its owner.
func (db *DB) GetProject(ctx context.Context, userID, projectID string) (*models.Project, error) {
	p, err := scanProject(db.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ? AND user_id = ?`,
		projectID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (db *DB) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = db.now()
	res, err := db.exec(ctx, `UPDATE projects SET name = ?, description = ?, type = ?, status = ?, progress = ?,
		updated_at = ? WHERE id = ? AND user_id = ?`,
		p.Name, p.Description, p.Type, p.Status, p.Progress, p.UpdatedAt, p.ID, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectOne(res)
}

func (db *DB) DeleteProject(ctx context.Context, userID, projectID string) error {
	res, err := db.exec(ctx, `DELETE FROM projects WHERE id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectOne(res)
}
