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

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , workflow_id
  , contact_id
  , current_node_id
  , status
  , entered_node_at
  , last_error
  , created_at
  , updated_at
`

// GetByID returns a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// GetEligible returns runs the engine should consider this tick: active runs
// plus waiting runs. Delay elapse is re-checked by the engine against node
// config.
func (r *RunRepository) GetEligible(ctx context.Context) ([]*models.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status IN ($1, $2)
		ORDER BY entered_node_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.RunStatusActive, models.RunStatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Save upserts a run unconditionally. Used by enrollment tooling and tests;
// the engine mutates runs only through UpdateFrom.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	err := run.Validate()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	query := `
		INSERT INTO runs (id, workflow_id, contact_id, current_node_id, status, entered_node_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			status = EXCLUDED.status,
			entered_node_at = EXCLUDED.entered_node_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.ContactID,
		run.CurrentNodeID,
		run.Status,
		run.EnteredNodeAt,
		run.LastError,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// UpdateFrom writes the run's new state conditionally on the node and status
// it was read at. A zero-row update means another tick moved the run first;
// the caller treats that as a skip, not a failure.
func (r *RunRepository) UpdateFrom(ctx context.Context, run *models.Run, prevNodeID string, prevStatus models.RunStatus) error {
	query := `
		UPDATE runs SET
			current_node_id = $1,
			status = $2,
			entered_node_at = $3,
			last_error = $4,
			updated_at = NOW()
		WHERE id = $5 AND current_node_id = $6 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		run.CurrentNodeID,
		run.Status,
		run.EnteredNodeAt,
		run.LastError,
		run.ID,
		prevNodeID,
		prevStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrStaleRun
	}

	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*models.Run, error) {
	var run models.Run

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.ContactID,
		&run.CurrentNodeID,
		&run.Status,
		&run.EnteredNodeAt,
		&run.LastError,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &run, nil
}
