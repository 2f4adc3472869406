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

// QueueRepository handles queue-item database operations.
type QueueRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *sql.DB, logger *slog.Logger) *QueueRepository {
	return &QueueRepository{db: db, logger: logger}
}

const queueColumns = `
	id
  , run_id
  , recipient
  , subject
  , body
  , status
  , attempts
  , provider_message_id
  , last_error
  , created_at
  , updated_at
`

// GetByID returns a queue item by its ID.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id = $1`

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrQueueItemNotFound
		}

		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	return item, nil
}

// Enqueue inserts a new item in queued state. The insert is idempotent on
// the item ID: enqueueing the same ID again leaves the stored row untouched,
// so callers deriving IDs from the work that produced the message can retry
// freely.
func (r *QueueRepository) Enqueue(ctx context.Context, item *models.QueueItem) error {
	err := item.Validate()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}

	item.UpdatedAt = now

	if item.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate queue item ID: %w", err)
		}

		item.ID = id.String()
	}

	if item.Status == "" {
		item.Status = models.QueueItemStatusQueued
	}

	query := `
		INSERT INTO queue_items (id, run_id, recipient, subject, body, status, attempts, provider_message_id, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		item.ID,
		item.RunID,
		item.Recipient,
		item.Subject,
		item.Body,
		item.Status,
		item.Attempts,
		item.ProviderMessageID,
		item.LastError,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}

	return nil
}

// GetEligible returns items a dispatcher may try to claim this tick.
func (r *QueueRepository) GetEligible(ctx context.Context, maxAttempts int) ([]*models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE status IN ($1, $2) AND attempts < $3
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.QueueItemStatusQueued, models.QueueItemStatusPending, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible queue items: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	items := make([]*models.QueueItem, 0)

	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

// Claim performs the atomic {queued,pending} -> pending transition that
// grants exclusive right to dispatch the item. The update is conditional on
// the (status, updated_at) pair the caller read: once a racer claims the row
// its updated_at moves, so every other claimer's update matches zero rows.
func (r *QueueRepository) Claim(ctx context.Context, item *models.QueueItem) (bool, error) {
	if item.Status != models.QueueItemStatusQueued && item.Status != models.QueueItemStatusPending {
		return false, nil
	}

	query := `
		UPDATE queue_items SET
			status = $1,
			updated_at = NOW()
		WHERE id = $2 AND status = $3 AND updated_at = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.QueueItemStatusPending,
		item.ID,
		item.Status,
		item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkSent records a successful dispatch. Sent is terminal.
func (r *QueueRepository) MarkSent(ctx context.Context, id, providerMessageID string, attempts int) error {
	query := `
		UPDATE queue_items SET
			status = $1,
			provider_message_id = $2,
			attempts = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	_, err := r.db.ExecContext(ctx, query,
		models.QueueItemStatusSent,
		providerMessageID,
		attempts,
		id,
		models.QueueItemStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark queue item sent: %w", err)
	}

	return nil
}

// Release records a failed attempt: back to queued for a future pass, or
// terminal failed once attempts are exhausted.
func (r *QueueRepository) Release(ctx context.Context, id string, attempts int, lastError string, failed bool) error {
	status := models.QueueItemStatusQueued
	if failed {
		status = models.QueueItemStatusFailed
	}

	query := `
		UPDATE queue_items SET
			status = $1,
			attempts = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	_, err := r.db.ExecContext(ctx, query,
		status,
		attempts,
		lastError,
		id,
		models.QueueItemStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to release queue item: %w", err)
	}

	return nil
}

func scanQueueItem(scanner interface{ Scan(dest ...any) error }) (*models.QueueItem, error) {
	var item models.QueueItem

	err := scanner.Scan(
		&item.ID,
		&item.RunID,
		&item.Recipient,
		&item.Subject,
		&item.Body,
		&item.Status,
		&item.Attempts,
		&item.ProviderMessageID,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &item, nil
}
