package eventbus

import (
	"context"

	"github.com/google/uuid"
)

// NoopEventBus discards all events. Used when no event bus is configured.
type NoopEventBus struct{}

func NewNoopEventBus() EventBus {
	return &NoopEventBus{}
}

func (eb *NoopEventBus) Publish(_ context.Context, _ string, _ Event) error {
	return nil
}

func (eb *NoopEventBus) Close() error {
	return nil
}

func (eb *NoopEventBus) GenerateID() string {
	return uuid.New().String()
}
