package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, store *memory.Persistence) *models.Run {
	t.Helper()

	run := &models.Run{
		WorkflowID:    "wf-1",
		ContactID:     "c-1",
		CurrentNodeID: "welcome",
		Status:        models.RunStatusActive,
		EnteredNodeAt: time.Now().UTC(),
	}

	err := store.SaveRun(context.Background(), run)
	require.NoError(t, err)

	return run
}

func seedQueueItem(t *testing.T, store *memory.Persistence) *models.QueueItem {
	t.Helper()

	item := &models.QueueItem{
		Recipient: "ada@example.com",
		Subject:   "Welcome",
		Body:      "Hi Ada",
		Status:    models.QueueItemStatusQueued,
	}

	err := store.EnqueueItem(context.Background(), item)
	require.NoError(t, err)

	return item
}

func TestUpdateRunFrom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies the update when the snapshot matches", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		run := seedRun(t, store)

		updated := *run
		updated.CurrentNodeID = "wait"
		updated.EnteredNodeAt = time.Now().UTC()

		err := store.UpdateRunFrom(ctx, &updated, "welcome", models.RunStatusActive)
		require.NoError(t, err)

		stored, err := store.RunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "wait", stored.CurrentNodeID)
	})

	t.Run("rejects a stale node snapshot", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		run := seedRun(t, store)

		updated := *run
		updated.CurrentNodeID = "wait"

		err := store.UpdateRunFrom(ctx, &updated, "some-other-node", models.RunStatusActive)
		require.Error(t, err)
		assert.True(t, persistence.IsStaleRun(err))

		stored, err := store.RunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "welcome", stored.CurrentNodeID)
	})

	t.Run("rejects a stale status snapshot", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		run := seedRun(t, store)

		updated := *run
		updated.Status = models.RunStatusCompleted

		err := store.UpdateRunFrom(ctx, &updated, "welcome", models.RunStatusWaiting)
		require.Error(t, err)
		assert.True(t, persistence.IsStaleRun(err))
	})

	t.Run("only one of two concurrent updaters wins", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		run := seedRun(t, store)

		first := *run
		first.CurrentNodeID = "wait"

		second := *run
		second.CurrentNodeID = "done"

		err1 := store.UpdateRunFrom(ctx, &first, "welcome", models.RunStatusActive)
		err2 := store.UpdateRunFrom(ctx, &second, "welcome", models.RunStatusActive)

		require.NoError(t, err1)
		require.Error(t, err2)
		assert.True(t, persistence.IsStaleRun(err2))
	})
}

func TestClaimQueueItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("claims a queued item once", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		item := seedQueueItem(t, store)

		snapshot, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)

		claimed, err := store.ClaimQueueItem(ctx, snapshot)
		require.NoError(t, err)
		assert.True(t, claimed)

		// The same snapshot is now stale.
		claimed, err = store.ClaimQueueItem(ctx, snapshot)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("exactly one concurrent claimer wins", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		item := seedQueueItem(t, store)

		snapshot, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)

		const claimers = 32

		var wg sync.WaitGroup

		wins := make(chan bool, claimers)

		for range claimers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				localSnapshot := *snapshot

				claimed, claimErr := store.ClaimQueueItem(ctx, &localSnapshot)
				if claimErr == nil && claimed {
					wins <- true
				}
			}()
		}

		wg.Wait()
		close(wins)

		won := 0
		for range wins {
			won++
		}

		assert.Equal(t, 1, won)
	})

	t.Run("never claims a terminal item", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		item := seedQueueItem(t, store)

		snapshot, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)

		claimed, err := store.ClaimQueueItem(ctx, snapshot)
		require.NoError(t, err)
		require.True(t, claimed)

		err = store.MarkQueueItemSent(ctx, item.ID, "prov-1", 1)
		require.NoError(t, err)

		stale := *snapshot

		claimed, err = store.ClaimQueueItem(ctx, &stale)
		require.NoError(t, err)
		assert.False(t, claimed)

		stored, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueItemStatusSent, stored.Status)
	})
}

func TestReleaseQueueItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("requeues a retryable failure", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		item := seedQueueItem(t, store)

		snapshot, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)

		claimed, err := store.ClaimQueueItem(ctx, snapshot)
		require.NoError(t, err)
		require.True(t, claimed)

		err = store.ReleaseQueueItem(ctx, item.ID, 1, "provider timeout", false)
		require.NoError(t, err)

		stored, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueItemStatusQueued, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		require.NotNil(t, stored.LastError)
		assert.Equal(t, "provider timeout", *stored.LastError)
	})

	t.Run("fails an exhausted item terminally", func(t *testing.T) {
		t.Parallel()

		store := memory.NewPersistence()
		item := seedQueueItem(t, store)

		snapshot, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)

		claimed, err := store.ClaimQueueItem(ctx, snapshot)
		require.NoError(t, err)
		require.True(t, claimed)

		err = store.ReleaseQueueItem(ctx, item.ID, 5, "provider down", true)
		require.NoError(t, err)

		stored, err := store.QueueItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueItemStatusFailed, stored.Status)
		assert.True(t, stored.IsTerminal())
	})
}

func TestEnqueueItem_IdempotentOnID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	item := seedQueueItem(t, store)

	// Replaying the enqueue under the same ID leaves the stored row alone.
	replay := &models.QueueItem{
		ID:        item.ID,
		Recipient: "ada@example.com",
		Subject:   "Replay",
		Body:      "Should not land",
		Status:    models.QueueItemStatusQueued,
	}
	require.NoError(t, store.EnqueueItem(ctx, replay))

	stored, err := store.QueueItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", stored.Subject)

	items, err := store.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSavePathsValidateModels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	err := store.SaveRun(ctx, &models.Run{WorkflowID: "wf-1"})
	require.ErrorContains(t, err, "invalid run")

	err = store.EnqueueItem(ctx, &models.QueueItem{
		Recipient: "not-an-address",
		Subject:   "Welcome",
		Body:      "Hi",
	})
	require.ErrorContains(t, err, "invalid queue item")

	err = store.SaveWorkflow(ctx, &models.Workflow{Name: "No nodes", Status: models.WorkflowStatusDraft, EntryNodeID: "a"})
	require.ErrorContains(t, err, "invalid workflow")

	err = store.SaveContact(ctx, &models.Contact{Email: "also-not-an-address"})
	require.ErrorContains(t, err, "invalid contact")

	err = store.SaveTemplate(ctx, &models.Template{Name: "Welcome"})
	require.ErrorContains(t, err, "invalid template")
}

func TestEligibleQueueItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	fresh := seedQueueItem(t, store)

	exhausted := &models.QueueItem{
		Recipient: "bob@example.com",
		Subject:   "Welcome",
		Body:      "Hi Bob",
		Status:    models.QueueItemStatusQueued,
		Attempts:  5,
	}
	require.NoError(t, store.EnqueueItem(ctx, exhausted))

	sent := &models.QueueItem{
		Recipient: "eve@example.com",
		Subject:   "Welcome",
		Body:      "Hi Eve",
		Status:    models.QueueItemStatusSent,
	}
	require.NoError(t, store.EnqueueItem(ctx, sent))

	items, err := store.EligibleQueueItems(ctx, 5)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, fresh.ID, items[0].ID)
}

func TestEligibleRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	active := seedRun(t, store)

	completed := &models.Run{
		WorkflowID:    "wf-1",
		ContactID:     "c-2",
		CurrentNodeID: "done",
		Status:        models.RunStatusCompleted,
	}
	require.NoError(t, store.SaveRun(ctx, completed))

	runs, err := store.EligibleRuns(ctx)
	require.NoError(t, err)

	require.Len(t, runs, 1)
	assert.Equal(t, active.ID, runs[0].ID)
}
