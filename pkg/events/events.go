// Package events defines event types and structures for engine lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the single topic engine events are published to.
const Topic = "driprun.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunAdvancedEvent  EventType = "run.advanced"
	RunCompletedEvent EventType = "run.completed"
	RunErroredEvent   EventType = "run.errored"

	// Queue lifecycle events.
	MessageQueuedEvent EventType = "message.queued"
	MessageSentEvent   EventType = "message.sent"
	MessageFailedEvent EventType = "message.failed"

	// Tick summary event.
	TickCompletedEvent EventType = "tick.completed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type RunAdvanced struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Waiting    bool   `json:"waiting"`
}

func (e RunAdvanced) GetType() EventType {
	return RunAdvancedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	EndNodeID  string `json:"end_node_id"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunErrored struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id"`
	Error      string `json:"error"`
}

func (e RunErrored) GetType() EventType {
	return RunErroredEvent
}

type MessageQueued struct {
	BaseEvent

	QueueItemID string  `json:"queue_item_id"`
	RunID       *string `json:"run_id,omitempty"`
	Recipient   string  `json:"recipient"`
}

func (e MessageQueued) GetType() EventType {
	return MessageQueuedEvent
}

type MessageSent struct {
	BaseEvent

	QueueItemID       string `json:"queue_item_id"`
	Recipient         string `json:"recipient"`
	ProviderMessageID string `json:"provider_message_id"`
	Attempts          int    `json:"attempts"`
}

func (e MessageSent) GetType() EventType {
	return MessageSentEvent
}

type MessageFailed struct {
	BaseEvent

	QueueItemID string `json:"queue_item_id"`
	Recipient   string `json:"recipient"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
	Terminal    bool   `json:"terminal"`
}

func (e MessageFailed) GetType() EventType {
	return MessageFailedEvent
}

type TickCompleted struct {
	BaseEvent

	RunsProcessed int           `json:"runs_processed"`
	RunsAdvanced  int           `json:"runs_advanced"`
	RunsErrored   int           `json:"runs_errored"`
	ItemsClaimed  int           `json:"items_claimed"`
	ItemsSent     int           `json:"items_sent"`
	ItemsFailed   int           `json:"items_failed"`
	Duration      time.Duration `json:"duration"`
}

func (e TickCompleted) GetType() EventType {
	return TickCompletedEvent
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
