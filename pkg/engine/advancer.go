package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/eventbus"
	"github.com/driprun/driprun/pkg/events"
	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
)

// Advancer moves each eligible run forward at most one node-transition per
// tick. Failures are isolated per run; a broken workflow never aborts the
// batch.
type Advancer struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	executor    *Executor
	logger      *slog.Logger
}

// NewAdvancer creates a run advancer.
func NewAdvancer(p persistence.Persistence, bus eventbus.EventBus, logger *slog.Logger) *Advancer {
	return &Advancer{
		persistence: p,
		eventBus:    bus,
		executor:    NewExecutor(logger),
		logger:      logger.With("module", "advancer"),
	}
}

// AdvanceStats summarizes one advancement pass.
type AdvanceStats struct {
	Processed int
	Advanced  int
	Errored   int
	Errors    []string
}

// Advance runs one pass over all eligible runs.
func (a *Advancer) Advance(ctx context.Context, now time.Time) *AdvanceStats {
	stats := &AdvanceStats{}

	runs, err := a.persistence.EligibleRuns(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load eligible runs", "error", err)
		stats.Errors = append(stats.Errors, fmt.Sprintf("load runs: %v", err))

		return stats
	}

	// Workflow definitions are immutable within a tick; cache per pass.
	workflows := make(map[string]*models.Workflow)

	for _, run := range runs {
		stats.Processed++
		a.advanceRun(ctx, run, workflows, now, stats)
	}

	return stats
}

func (a *Advancer) advanceRun(ctx context.Context, run *models.Run, workflows map[string]*models.Workflow, now time.Time, stats *AdvanceStats) {
	workflow, ok := workflows[run.WorkflowID]
	if !ok {
		loaded, err := a.persistence.WorkflowByID(ctx, run.WorkflowID)
		if err != nil {
			a.markErrored(ctx, run, fmt.Sprintf("failed to load workflow %s: %v", run.WorkflowID, err), stats)

			return
		}

		workflows[run.WorkflowID] = loaded
		workflow = loaded
	}

	// Runs of unpublished workflows hold their position; a draft or
	// archived workflow resumes where it left off once republished.
	if !workflow.IsExecutable() {
		a.logger.DebugContext(ctx, "workflow not published, holding run",
			"run_id", run.ID,
			"workflow_id", workflow.ID,
			"workflow_status", workflow.Status,
		)

		return
	}

	node, err := workflow.NodeByID(run.CurrentNodeID)
	if err != nil {
		a.markErrored(ctx, run, err.Error(), stats)

		return
	}

	contact, content, err := a.loadNodeInputs(ctx, node, run)
	if err != nil {
		a.markErrored(ctx, run, err.Error(), stats)

		return
	}

	decision, err := a.executor.Execute(node, run, contact, content, now)
	if err != nil {
		a.markErrored(ctx, run, err.Error(), stats)

		return
	}

	a.applyDecision(ctx, workflow, node, run, decision, now, stats)
}

// loadNodeInputs fetches the contact and template a node needs. Delay and
// end nodes need neither.
func (a *Advancer) loadNodeInputs(ctx context.Context, node *models.Node, run *models.Run) (*models.Contact, *models.Template, error) {
	var (
		contact *models.Contact
		content *models.Template
		err     error
	)

	if node.Type == models.NodeTypeEmail || node.Type == models.NodeTypeBranch {
		contact, err = a.persistence.ContactByID(ctx, run.ContactID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load contact %s: %w", run.ContactID, err)
		}
	}

	if node.Type == models.NodeTypeEmail && node.Email != nil {
		content, err = a.persistence.TemplateByID(ctx, node.Email.TemplateID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load template %s: %w", node.Email.TemplateID, err)
		}
	}

	return contact, content, nil
}

func (a *Advancer) applyDecision(ctx context.Context, workflow *models.Workflow, node *models.Node, run *models.Run, decision *Decision, now time.Time, stats *AdvanceStats) {
	prevNodeID := run.CurrentNodeID
	prevStatus := run.Status

	switch decision.Kind {
	case DecisionWait:
		// Already parked; nothing to write until the delay elapses.
		if run.Status == models.RunStatusWaiting {
			return
		}

		updated := *run
		updated.Status = models.RunStatusWaiting

		err := a.persistence.UpdateRunFrom(ctx, &updated, prevNodeID, prevStatus)
		if err != nil {
			a.handleUpdateError(ctx, run, err, stats)

			return
		}

		stats.Advanced++
		a.publish(ctx, run.ID, events.RunAdvanced{
			BaseEvent:  events.NewBaseEvent(events.RunAdvancedEvent),
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			FromNodeID: prevNodeID,
			ToNodeID:   prevNodeID,
			Waiting:    true,
		})

	case DecisionAdvance:
		// The successor must exist before the run is pointed at it.
		successor, err := workflow.NodeByID(decision.NextNodeID)
		if err != nil {
			a.markErrored(ctx, run, fmt.Sprintf("node %s has missing successor: %v", node.ID, err), stats)

			return
		}

		updated := *run
		updated.CurrentNodeID = decision.NextNodeID
		updated.EnteredNodeAt = now
		updated.LastError = nil

		// Entering a delay parks the run until the duration elapses; entering
		// an end completes it. Both settle within the same transition.
		switch successor.Type {
		case models.NodeTypeDelay:
			updated.Status = models.RunStatusWaiting
		case models.NodeTypeEnd:
			updated.Status = models.RunStatusCompleted
		default:
			updated.Status = models.RunStatusActive
		}

		// The message is enqueued before the run moves, under an item ID
		// derived from this transition. The insert is idempotent on that ID,
		// so a lost conditional update or a retried pass lands on the same
		// row instead of producing a duplicate. An enqueue failure leaves
		// the run where it was for the next pass.
		if decision.Item != nil {
			err := a.persistence.EnqueueItem(ctx, decision.Item)
			if err != nil {
				a.logger.ErrorContext(ctx, "failed to enqueue message", "run_id", run.ID, "error", err)
				stats.Errors = append(stats.Errors, fmt.Sprintf("run %s: failed to enqueue message: %v", run.ID, err))

				return
			}
		}

		err = a.persistence.UpdateRunFrom(ctx, &updated, prevNodeID, prevStatus)
		if err != nil {
			a.handleUpdateError(ctx, run, err, stats)

			return
		}

		stats.Advanced++
		a.publish(ctx, run.ID, events.RunAdvanced{
			BaseEvent:  events.NewBaseEvent(events.RunAdvancedEvent),
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			FromNodeID: prevNodeID,
			ToNodeID:   decision.NextNodeID,
			Waiting:    updated.Status == models.RunStatusWaiting,
		})

		if updated.Status == models.RunStatusCompleted {
			a.publish(ctx, run.ID, events.RunCompleted{
				BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent),
				RunID:      run.ID,
				WorkflowID: run.WorkflowID,
				EndNodeID:  decision.NextNodeID,
			})
		}

		if decision.Item != nil {
			a.publish(ctx, run.ID, events.MessageQueued{
				BaseEvent:   events.NewBaseEvent(events.MessageQueuedEvent),
				QueueItemID: decision.Item.ID,
				RunID:       decision.Item.RunID,
				Recipient:   decision.Item.Recipient,
			})
		}

	case DecisionTerminate:
		updated := *run
		updated.Status = models.RunStatusCompleted

		err := a.persistence.UpdateRunFrom(ctx, &updated, prevNodeID, prevStatus)
		if err != nil {
			a.handleUpdateError(ctx, run, err, stats)

			return
		}

		stats.Advanced++
		a.publish(ctx, run.ID, events.RunCompleted{
			BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent),
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			EndNodeID:  run.CurrentNodeID,
		})
	}
}

// handleUpdateError distinguishes a lost conditional-update race, which is
// expected under overlapping ticks and skipped silently, from a real
// persistence failure, which leaves the run untouched for the next pass.
func (a *Advancer) handleUpdateError(ctx context.Context, run *models.Run, err error, stats *AdvanceStats) {
	if persistence.IsStaleRun(err) {
		a.logger.DebugContext(ctx, "run moved by a concurrent tick, skipping", "run_id", run.ID)

		return
	}

	a.logger.ErrorContext(ctx, "failed to persist run transition", "run_id", run.ID, "error", err)
	stats.Errors = append(stats.Errors, fmt.Sprintf("run %s: %v", run.ID, err))
}

// markErrored transitions a run to errored from the state it was read (or
// just written) at.
func (a *Advancer) markErrored(ctx context.Context, run *models.Run, message string, stats *AdvanceStats) {
	prevNodeID := run.CurrentNodeID
	prevStatus := run.Status

	a.logger.WarnContext(ctx, "marking run errored",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"node_id", run.CurrentNodeID,
		"error", message,
	)

	updated := *run
	updated.Status = models.RunStatusErrored
	updated.LastError = &message

	err := a.persistence.UpdateRunFrom(ctx, &updated, prevNodeID, prevStatus)
	if err != nil && !persistence.IsStaleRun(err) {
		a.logger.ErrorContext(ctx, "failed to persist errored run", "run_id", run.ID, "error", err)
	}

	stats.Errored++
	stats.Errors = append(stats.Errors, fmt.Sprintf("run %s: %s", run.ID, message))

	a.publish(ctx, run.ID, events.RunErrored{
		BaseEvent:  events.NewBaseEvent(events.RunErroredEvent),
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		NodeID:     run.CurrentNodeID,
		Error:      message,
	})
}

func (a *Advancer) publish(ctx context.Context, key string, event eventbus.Event) {
	err := a.eventBus.Publish(ctx, key, event)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
