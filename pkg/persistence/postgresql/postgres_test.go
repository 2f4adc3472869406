package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"queue_items", "runs", "workflow_nodes", "contacts", "templates", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("driprun_test"),
			postgres.WithUsername("driprun"),
			postgres.WithPassword("driprun"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func seedWorkflowFixture(ctx context.Context, t *testing.T, p *postgresql.Persistence) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		Name:        "Onboarding drip",
		Status:      models.WorkflowStatusPublished,
		EntryNodeID: "welcome",
		Nodes: []*models.Node{
			{ID: "welcome", Type: models.NodeTypeEmail, Email: &models.EmailNodeConfig{TemplateID: "tpl-1", Subject: "Hello", Next: "wait"}},
			{ID: "wait", Type: models.NodeTypeDelay, Delay: &models.DelayNodeConfig{Duration: models.Duration(72 * time.Hour), Next: "check"}},
			{ID: "check", Type: models.NodeTypeBranch, Branch: &models.BranchNodeConfig{Condition: "{{.contact.attributes.vip}}", OnTrue: "done", OnFalse: "done"}},
			{ID: "done", Type: models.NodeTypeEnd},
		},
	}

	err := p.SaveWorkflow(ctx, workflow)
	require.NoError(t, err)

	return workflow
}

func seedRunFixture(ctx context.Context, t *testing.T, p *postgresql.Persistence, workflowID string) *models.Run {
	t.Helper()

	contact := &models.Contact{
		ID:    uuid.NewString(),
		Email: "ada@example.com",
	}
	require.NoError(t, p.SaveContact(ctx, contact))

	run := &models.Run{
		WorkflowID:    workflowID,
		ContactID:     contact.ID,
		CurrentNodeID: "welcome",
		Status:        models.RunStatusActive,
		EnteredNodeAt: time.Now().UTC(),
	}
	require.NoError(t, p.SaveRun(ctx, run))

	return run
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_nodes", "templates", "contacts", "runs", "queue_items", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}
}

func TestWorkflowRepository_SaveAndLoad(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := seedWorkflowFixture(ctx, t, p)

	loaded, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, workflow.EntryNodeID, loaded.EntryNodeID)
	require.Len(t, loaded.Nodes, 4)

	email, err := loaded.NodeByID("welcome")
	require.NoError(t, err)
	require.NotNil(t, email.Email)
	assert.Equal(t, "tpl-1", email.Email.TemplateID)
	assert.Equal(t, "wait", email.Email.Next)

	delay, err := loaded.NodeByID("wait")
	require.NoError(t, err)
	require.NotNil(t, delay.Delay)
	assert.Equal(t, 72*time.Hour, time.Duration(delay.Delay.Duration))

	branch, err := loaded.NodeByID("check")
	require.NoError(t, err)
	require.NotNil(t, branch.Branch)
	assert.Equal(t, "done", branch.Branch.OnTrue)

	end, err := loaded.NodeByID("done")
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeEnd, end.Type)
	assert.Nil(t, end.Email)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.WorkflowByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestRunRepository_UpdateFrom(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := seedWorkflowFixture(ctx, t, p)
	run := seedRunFixture(ctx, t, p, workflow.ID)

	updated := *run
	updated.CurrentNodeID = "wait"
	updated.EnteredNodeAt = time.Now().UTC()

	err := p.UpdateRunFrom(ctx, &updated, "welcome", models.RunStatusActive)
	require.NoError(t, err)

	stored, err := p.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "wait", stored.CurrentNodeID)
	assert.Equal(t, models.RunStatusActive, stored.Status)

	// A second update from the original snapshot loses the race.
	stale := *run
	stale.CurrentNodeID = "done"

	err = p.UpdateRunFrom(ctx, &stale, "welcome", models.RunStatusActive)
	require.Error(t, err)
	assert.True(t, persistence.IsStaleRun(err))

	stored, err = p.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "wait", stored.CurrentNodeID)
}

func TestRunRepository_EligibleRuns(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := seedWorkflowFixture(ctx, t, p)
	run := seedRunFixture(ctx, t, p, workflow.ID)

	completed := *run
	completed.ID = ""
	completed.Status = models.RunStatusCompleted
	require.NoError(t, p.SaveRun(ctx, &completed))

	runs, err := p.EligibleRuns(ctx)
	require.NoError(t, err)

	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestQueueRepository_ClaimLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	item := &models.QueueItem{
		Recipient: "ada@example.com",
		Subject:   "Welcome",
		Body:      "Hi Ada",
	}
	require.NoError(t, p.EnqueueItem(ctx, item))

	eligible, err := p.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	snapshot := eligible[0]

	claimed, err := p.ClaimQueueItem(ctx, snapshot)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The snapshot is stale after the claim; a racer using it gets nothing.
	claimed, err = p.ClaimQueueItem(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, p.MarkQueueItemSent(ctx, snapshot.ID, "prov-1", 1))

	stored, err := p.QueueItemByID(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ProviderMessageID)
	assert.Equal(t, "prov-1", *stored.ProviderMessageID)

	// Sent is terminal; it never reappears as eligible.
	eligible, err = p.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestQueueRepository_EnqueueIdempotent(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	item := &models.QueueItem{
		Recipient: "ada@example.com",
		Subject:   "Welcome",
		Body:      "Hi Ada",
	}
	require.NoError(t, p.EnqueueItem(ctx, item))

	// Replaying the enqueue under the same ID leaves the stored row alone.
	replay := &models.QueueItem{
		ID:        item.ID,
		Recipient: "ada@example.com",
		Subject:   "Replay",
		Body:      "Should not land",
	}
	require.NoError(t, p.EnqueueItem(ctx, replay))

	stored, err := p.QueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", stored.Subject)

	eligible, err := p.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestQueueRepository_ReleaseAndRetry(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	item := &models.QueueItem{
		Recipient: "ada@example.com",
		Subject:   "Welcome",
		Body:      "Hi Ada",
	}
	require.NoError(t, p.EnqueueItem(ctx, item))

	eligible, err := p.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	claimed, err := p.ClaimQueueItem(ctx, eligible[0])
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, p.ReleaseQueueItem(ctx, item.ID, 1, "provider timeout", false))

	stored, err := p.QueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusQueued, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	// A fresh snapshot claims the requeued item again.
	eligible, err = p.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	claimed, err = p.ClaimQueueItem(ctx, eligible[0])
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, p.ReleaseQueueItem(ctx, item.ID, 2, "provider down", true))

	stored, err = p.QueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "provider down", *stored.LastError)
}
