package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/google/uuid"
)

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// GetByID returns a template by its ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	query := `
		SELECT
			id
		  , name
		  , subject
		  , body
		  , created_at
		  , updated_at
		FROM templates
		WHERE id = $1
	`

	var tmpl models.Template

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Subject,
		&tmpl.Body,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return &tmpl, nil
}

// Save upserts a template.
func (r *TemplateRepository) Save(ctx context.Context, tmpl *models.Template) error {
	err := tmpl.Validate()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}

	tmpl.UpdatedAt = now

	if tmpl.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		tmpl.ID = id.String()
	}

	query := `
		INSERT INTO templates (id, name, subject, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Subject,
		tmpl.Body,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}
