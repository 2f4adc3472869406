// Package persistence provides the data storage abstraction layer for
// workflows, contacts, runs and the send queue.
package persistence

import (
	"context"

	"github.com/driprun/driprun/pkg/models"
)

// WorkflowRepository reads workflow definitions. The engine never writes
// workflows; Save exists for enrollment tooling and tests.
type WorkflowRepository interface {
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
}

// ContactRepository reads contacts for rendering and branch evaluation.
type ContactRepository interface {
	ContactByID(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
}

// TemplateRepository reads message content referenced by email nodes.
type TemplateRepository interface {
	TemplateByID(ctx context.Context, id string) (*models.Template, error)
	SaveTemplate(ctx context.Context, template *models.Template) error
}

// RunRepository stores workflow runs. UpdateRunFrom is the single mutation
// path the engine uses: it writes the run conditionally on the previously
// read (current_node_id, status) pair so an overlapping tick's stale write is
// a no-op instead of a lost update. It returns ErrStaleRun when no row
// matched.
type RunRepository interface {
	RunByID(ctx context.Context, id string) (*models.Run, error)
	SaveRun(ctx context.Context, run *models.Run) error

	// EligibleRuns returns runs with status active or waiting. Delays live
	// in node config, not in the run row, so the engine re-checks elapsed
	// time for waiting runs before advancing them.
	EligibleRuns(ctx context.Context) ([]*models.Run, error)

	UpdateRunFrom(ctx context.Context, run *models.Run, prevNodeID string, prevStatus models.RunStatus) error
}

// QueueRepository stores outbound messages. ClaimQueueItem performs the
// atomic conditional transition {queued,pending} -> pending, compare-and-swap
// on the (status, updated_at) snapshot the dispatcher read, so a stale
// pending item can be reclaimed but a freshly claimed one cannot be stolen.
// A false return with nil error means another dispatcher won the race.
type QueueRepository interface {
	QueueItemByID(ctx context.Context, id string) (*models.QueueItem, error)

	// EnqueueItem inserts a message in queued state. The insert is
	// idempotent on the item ID: a replay under an existing ID is a no-op,
	// first write wins.
	EnqueueItem(ctx context.Context, item *models.QueueItem) error
	EligibleQueueItems(ctx context.Context, maxAttempts int) ([]*models.QueueItem, error)
	ClaimQueueItem(ctx context.Context, item *models.QueueItem) (bool, error)
	MarkQueueItemSent(ctx context.Context, id, providerMessageID string, attempts int) error

	// ReleaseQueueItem records a failed attempt: back to queued while
	// attempts < maxAttempts, otherwise terminal failed with lastError kept.
	ReleaseQueueItem(ctx context.Context, id string, attempts int, lastError string, failed bool) error
}

// Persistence aggregates the repositories behind one handle, the way the
// engine and the CLI wire storage.
type Persistence interface {
	WorkflowRepository
	ContactRepository
	TemplateRepository
	RunRepository
	QueueRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
