package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/driprun/driprun/pkg/channels/gochannel"
	"github.com/driprun/driprun/pkg/channels/kafka"
	"github.com/driprun/driprun/pkg/eventbus"
)

// NewEventBus creates an event bus instance based on the provider. An empty
// or "none" provider disables event publishing.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, err := kafka.CreatePublisher(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka publisher: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub)
	case "gochannel":
		return eventbus.NewWatermillEventBus(gochannel.CreatePublisher(watermill.NewSlogLogger(logger)))
	case "", "none":
		return eventbus.NewNoopEventBus()
	default:
		panic("unsupported event bus provider: " + provider)
	}
}
