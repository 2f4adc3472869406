// Package postgresql provides the PostgreSQL persistence implementation for
// workflows, contacts, runs and the send queue.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // postgres driver
)

// Persistence implements persistence.Persistence for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	contactRepo  *ContactRepository
	templateRepo *TemplateRepository
	runRepo      *RunRepository
	queueRepo    *QueueRepository
}

// NewPersistence opens the database, runs migrations and wires the
// repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		contactRepo:  NewContactRepository(database, logger),
		templateRepo: NewTemplateRepository(database, logger),
		runRepo:      NewRunRepository(database, logger),
		queueRepo:    NewQueueRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) ContactByID(ctx context.Context, id string) (*models.Contact, error) {
	return p.contactRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveContact(ctx context.Context, contact *models.Contact) error {
	return p.contactRepo.Save(ctx, contact)
}

func (p *Persistence) TemplateByID(ctx context.Context, id string) (*models.Template, error) {
	return p.templateRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveTemplate(ctx context.Context, template *models.Template) error {
	return p.templateRepo.Save(ctx, template)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	return p.runRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveRun(ctx context.Context, run *models.Run) error {
	return p.runRepo.Save(ctx, run)
}

func (p *Persistence) EligibleRuns(ctx context.Context) ([]*models.Run, error) {
	return p.runRepo.GetEligible(ctx)
}

func (p *Persistence) UpdateRunFrom(ctx context.Context, run *models.Run, prevNodeID string, prevStatus models.RunStatus) error {
	return p.runRepo.UpdateFrom(ctx, run, prevNodeID, prevStatus)
}

func (p *Persistence) QueueItemByID(ctx context.Context, id string) (*models.QueueItem, error) {
	return p.queueRepo.GetByID(ctx, id)
}

func (p *Persistence) EnqueueItem(ctx context.Context, item *models.QueueItem) error {
	return p.queueRepo.Enqueue(ctx, item)
}

func (p *Persistence) EligibleQueueItems(ctx context.Context, maxAttempts int) ([]*models.QueueItem, error) {
	return p.queueRepo.GetEligible(ctx, maxAttempts)
}

func (p *Persistence) ClaimQueueItem(ctx context.Context, item *models.QueueItem) (bool, error) {
	return p.queueRepo.Claim(ctx, item)
}

func (p *Persistence) MarkQueueItemSent(ctx context.Context, id, providerMessageID string, attempts int) error {
	return p.queueRepo.MarkSent(ctx, id, providerMessageID, attempts)
}

func (p *Persistence) ReleaseQueueItem(ctx context.Context, id string, attempts int, lastError string, failed bool) error {
	return p.queueRepo.Release(ctx, id, attempts, lastError, failed)
}
