package models

import "time"

// QueueItemStatus represents the delivery state of an outbound message.
type QueueItemStatus string

const (
	QueueItemStatusQueued  QueueItemStatus = "queued"  // Awaiting a dispatcher claim
	QueueItemStatusPending QueueItemStatus = "pending" // Claimed by a dispatcher, in flight
	QueueItemStatusSent    QueueItemStatus = "sent"    // Accepted by the provider; terminal
	QueueItemStatusFailed  QueueItemStatus = "failed"  // Attempts exhausted; terminal
)

// QueueItem is one outbound message. The transition into pending is the
// exclusive gate before dispatch: it must be a single conditional update so
// two concurrent dispatchers cannot both send the same item. Items are never
// deleted by the engine.
type QueueItem struct {
	ID                string          `json:"id"`
	RunID             *string         `json:"run_id,omitempty"` // Nil for one-off sends
	Recipient         string          `json:"recipient" validate:"required,email"`
	Subject           string          `json:"subject"   validate:"required"`
	Body              string          `json:"body"      validate:"required"`
	Status            QueueItemStatus `json:"status"`
	Attempts          int             `json:"attempts"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	LastError         *string         `json:"last_error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the item will never be dispatched again.
func (q *QueueItem) IsTerminal() bool {
	return q.Status == QueueItemStatusSent || q.Status == QueueItemStatusFailed
}
