package main

import (
	"context"
	"os"

	"github.com/driprun/driprun/pkg/cmd"
	"github.com/driprun/driprun/pkg/engine"
	"github.com/driprun/driprun/pkg/log"
	"github.com/driprun/driprun/pkg/otelhelper"
	"github.com/driprun/driprun/pkg/sender"
	"github.com/driprun/driprun/pkg/sender/httpapi"
	"github.com/driprun/driprun/pkg/sender/logsender"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9099

func main() {
	logger := log.WithModule("engine")

	command := &cli.Command{
		Name:                  "driprun-engine",
		Usage:                 "Advance automation runs and dispatch the send queue",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the engine server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "tick-secret",
				Usage:   "Shared secret callers must present to trigger a tick",
				Sources: cli.EnvVars("TICK_SECRET"),
			},
			&cli.StringFlag{
				Name:    "provider-url",
				Usage:   "Transactional email provider endpoint; empty logs messages instead of sending",
				Sources: cli.EnvVars("PROVIDER_URL"),
			},
			&cli.StringFlag{
				Name:    "provider-api-key",
				Usage:   "API key for the email provider",
				Sources: cli.EnvVars("PROVIDER_API_KEY"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Delivery attempts before a queue item is failed",
				Value:   engine.DefaultMaxAttempts,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "tick-interval",
				Usage:   "Cron expression for self-ticking (e.g. '@every 1m'); empty disables it",
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Driprun engine")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var tracer trace.Tracer

			if command.Bool("tracing") {
				var err error

				tracer, err = otelhelper.NewTracer(ctx, "driprun-engine")
				if err != nil {
					logger.ErrorContext(ctx, "Failed to initialize tracer, continuing without tracing", "error", err)
				}
			}

			var messageSender sender.Sender
			if providerURL := command.String("provider-url"); providerURL != "" {
				messageSender = httpapi.NewSender(providerURL, command.String("provider-api-key"), logger)
			} else {
				messageSender = logsender.NewSender(logger)
			}

			eng, err := engine.NewEngine(persistence, messageSender, eventBus, tracer, logger, engine.Config{
				MaxAttempts: command.Int("max-attempts"),
			})
			if err != nil {
				return err
			}

			if interval := command.String("tick-interval"); interval != "" {
				scheduler := cron.New()

				_, err := scheduler.AddFunc(interval, func() {
					_, tickErr := eng.Tick(ctx)
					if tickErr != nil {
						logger.ErrorContext(ctx, "Scheduled tick failed", "error", tickErr)
					}
				})
				if err != nil {
					return err
				}

				scheduler.Start()
				defer scheduler.Stop()

				logger.InfoContext(ctx, "Self-ticking enabled", "interval", interval)
			}

			api := NewAPI(
				logger,
				persistence,
				eng,
				command.String("tick-secret"),
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start engine server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
