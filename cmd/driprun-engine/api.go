// Package main provides the driprun engine server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/driprun/driprun/pkg/engine"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	tickSecret  string
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eng *engine.Engine,
	tickSecret string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      eng,
		tickSecret:  tickSecret,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewHandlers(a.engine, a.persistence, a.tickSecret, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Driprun Engine")
	})

	app.Post("/internal/tick", handlers.Tick)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
