package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driprun/driprun/pkg/eventbus"
	"github.com/driprun/driprun/pkg/events"
	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/sender"
)

// Dispatcher drains eligible queue items, sending each at most once per
// successful claim. Lost claim races are expected under overlapping ticks
// and skipped silently.
type Dispatcher struct {
	persistence persistence.Persistence
	sender      sender.Sender
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	maxAttempts int
}

// NewDispatcher creates a queue dispatcher.
func NewDispatcher(p persistence.Persistence, s sender.Sender, bus eventbus.EventBus, logger *slog.Logger, maxAttempts int) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		sender:      s,
		eventBus:    bus,
		logger:      logger.With("module", "dispatcher"),
		maxAttempts: maxAttempts,
	}
}

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Claimed int
	Sent    int
	Failed  int
	Errors  []string
}

// Dispatch runs one pass over all claimable queue items.
func (d *Dispatcher) Dispatch(ctx context.Context) *DispatchStats {
	stats := &DispatchStats{}

	items, err := d.persistence.EligibleQueueItems(ctx, d.maxAttempts)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to load eligible queue items", "error", err)
		stats.Errors = append(stats.Errors, fmt.Sprintf("load queue: %v", err))

		return stats
	}

	for _, item := range items {
		claimed, err := d.persistence.ClaimQueueItem(ctx, item)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to claim queue item", "item_id", item.ID, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("claim %s: %v", item.ID, err))

			continue
		}

		if !claimed {
			// Another dispatcher won the race; not an error.
			continue
		}

		stats.Claimed++
		d.dispatchItem(ctx, item, stats)
	}

	return stats
}

func (d *Dispatcher) dispatchItem(ctx context.Context, item *models.QueueItem, stats *DispatchStats) {
	attempts := item.Attempts + 1

	providerMessageID, err := d.sender.Send(ctx, item.Recipient, item.Subject, item.Body)
	if err != nil {
		failed := attempts >= d.maxAttempts

		d.logger.WarnContext(ctx, "message send failed",
			"item_id", item.ID,
			"recipient", item.Recipient,
			"attempts", attempts,
			"terminal", failed,
			"error", err,
		)

		releaseErr := d.persistence.ReleaseQueueItem(ctx, item.ID, attempts, err.Error(), failed)
		if releaseErr != nil {
			d.logger.ErrorContext(ctx, "failed to release queue item", "item_id", item.ID, "error", releaseErr)
			stats.Errors = append(stats.Errors, fmt.Sprintf("release %s: %v", item.ID, releaseErr))
		}

		stats.Failed++
		stats.Errors = append(stats.Errors, fmt.Sprintf("item %s: %v", item.ID, err))

		d.publish(ctx, item.ID, events.MessageFailed{
			BaseEvent:   events.NewBaseEvent(events.MessageFailedEvent),
			QueueItemID: item.ID,
			Recipient:   item.Recipient,
			Attempts:    attempts,
			Error:       err.Error(),
			Terminal:    failed,
		})

		return
	}

	err = d.persistence.MarkQueueItemSent(ctx, item.ID, providerMessageID, attempts)
	if err != nil {
		// The message went out but the record update failed; the item stays
		// pending and a later pass will retry the bookkeeping.
		d.logger.ErrorContext(ctx, "failed to mark queue item sent", "item_id", item.ID, "error", err)
		stats.Errors = append(stats.Errors, fmt.Sprintf("mark sent %s: %v", item.ID, err))

		return
	}

	stats.Sent++

	d.publish(ctx, item.ID, events.MessageSent{
		BaseEvent:         events.NewBaseEvent(events.MessageSentEvent),
		QueueItemID:       item.ID,
		Recipient:         item.Recipient,
		ProviderMessageID: providerMessageID,
		Attempts:          attempts,
	})
}

func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	err := d.eventBus.Publish(ctx, key, event)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
