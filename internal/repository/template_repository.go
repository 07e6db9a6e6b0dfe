package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wabroadcast/internal/models"
)

type templateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create creates a new template
func (r *templateRepository) Create(ctx context.Context, template *models.Template) error {
	query := `
		INSERT INTO templates (name, category, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, template.Name, template.Category, template.Body).
		Scan(&template.ID, &template.CreatedAt)
	if err != nil {
		return wrapInsertError("template", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *templateRepository) GetByID(ctx context.Context, id int) (*models.Template, error) {
	return r.getOne(ctx, `SELECT id, name, category, body, created_at FROM templates WHERE id = $1`, id)
}

// GetByName retrieves a template by its unique name
func (r *templateRepository) GetByName(ctx context.Context, name string) (*models.Template, error) {
	return r.getOne(ctx, `SELECT id, name, category, body, created_at FROM templates WHERE name = $1`, name)
}

func (r *templateRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Template, error) {
	template := &models.Template{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&template.ID,
		&template.Name,
		&template.Category,
		&template.Body,
		&template.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return template, nil
}

// List retrieves all templates ordered by name
func (r *templateRepository) List(ctx context.Context) ([]*models.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, category, body, created_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.Template{}
	for rows.Next() {
		template := &models.Template{}
		if err := rows.Scan(&template.ID, &template.Name, &template.Category, &template.Body, &template.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, template)
	}

	return templates, rows.Err()
}
