// Package web provides the HTTP surface of the engine: the authenticated
// tick endpoint and health checks.
package web

import (
	"log/slog"
	"strings"

	"github.com/driprun/driprun/pkg/engine"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/gofiber/fiber/v3"
)

const (
	tickSecretHeader = "X-Tick-Secret"
	bearerPrefix     = "Bearer "
)

type Handlers struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	tickSecret  string
	logger      *slog.Logger
}

func NewHandlers(eng *engine.Engine, p persistence.Persistence, tickSecret string, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:      eng,
		persistence: p,
		tickSecret:  tickSecret,
		logger:      logger.With("module", "web"),
	}
}

// Tick authenticates the caller and executes one engine pass. The credential
// is taken from the X-Tick-Secret header, the Authorization Bearer token or
// the secret query parameter, in that order of precedence.
func (h *Handlers) Tick(c fiber.Ctx) error {
	if h.tickSecret == "" {
		h.logger.Error("tick secret is not configured, refusing all tick requests")

		return misconfigured(c, "tick secret is not configured")
	}

	credential := extractCredential(c)
	if credential != h.tickSecret {
		h.logger.Warn("rejected tick request with invalid credential", "ip", c.IP())

		return unauthorized(c, "invalid tick credential")
	}

	summary, err := h.engine.Tick(c.Context())
	if err != nil {
		h.logger.Error("tick failed", "error", err)

		return internalError(c, err)
	}

	return c.JSON(TickResponse{
		RunsProcessed: summary.RunsProcessed,
		RunsAdvanced:  summary.RunsAdvanced,
		RunsErrored:   summary.RunsErrored,
		ItemsClaimed:  summary.ItemsClaimed,
		ItemsSent:     summary.ItemsSent,
		ItemsFailed:   summary.ItemsFailed,
		Errors:        summary.Errors,
	})
}

// extractCredential returns the first credential present among the supported
// carriers. An empty string means no credential was supplied.
func extractCredential(c fiber.Ctx) string {
	if secret := c.Get(tickSecretHeader); secret != "" {
		return secret
	}

	if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimPrefix(auth, bearerPrefix)
	}

	return c.Query("secret")
}

// HealthCheck reports storage connectivity.
func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)

		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{Status: "unhealthy"})
	}

	return c.JSON(HealthResponse{Status: "healthy"})
}
