package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/google/uuid"
)

// ContactRepository handles contact-related database operations.
type ContactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(db *sql.DB, logger *slog.Logger) *ContactRepository {
	return &ContactRepository{db: db, logger: logger}
}

// GetByID returns a contact by its ID.
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `
		SELECT
			id
		  , email
		  , first_name
		  , last_name
		  , attributes
		  , subscribed_at
		FROM contacts
		WHERE id = $1
	`

	var (
		contact        models.Contact
		attributesJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.Email,
		&contact.FirstName,
		&contact.LastName,
		&attributesJSON,
		&contact.SubscribedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	if attributesJSON != nil {
		err := json.Unmarshal(attributesJSON, &contact.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact attributes: %w", err)
		}
	}

	return &contact, nil
}

// Save upserts a contact.
func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	err := contact.Validate()
	if err != nil {
		return err
	}

	if contact.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate contact ID: %w", err)
		}

		contact.ID = id.String()
	}

	if contact.SubscribedAt.IsZero() {
		contact.SubscribedAt = time.Now().UTC()
	}

	attributesJSON, err := json.Marshal(contact.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal contact attributes: %w", err)
	}

	query := `
		INSERT INTO contacts (id, email, first_name, last_name, attributes, subscribed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			attributes = EXCLUDED.attributes
	`

	_, err = r.db.ExecContext(ctx, query,
		contact.ID,
		contact.Email,
		contact.FirstName,
		contact.LastName,
		attributesJSON,
		contact.SubscribedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	return nil
}
