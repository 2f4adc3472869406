// Package eventbus provides event publishing infrastructure for engine
// lifecycle notifications.
package eventbus

import (
	"context"

	"github.com/driprun/driprun/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventBus publishes engine lifecycle events. Publishing is best effort from
// the engine's point of view: a failed publish is logged, never allowed to
// fail a tick.
type EventBus interface {
	Publish(ctx context.Context, key string, event Event) error
	Close() error
	GenerateID() string
}
