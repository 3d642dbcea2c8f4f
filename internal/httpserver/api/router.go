// Package api wires up the public extraction routes.
package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ingestkit/docbridge/internal/app"
)

// Register mounts the v1 API under API-key authentication.
func Register(fiberApp *fiber.App, container *app.Container) {
	group := fiberApp.Group("/v1", apiKeyAuth(container), rateLimit(container))
	handler := &apiHandler{container: container}
	group.Post("/extract/chart", handler.extractChart)
	group.Post("/ingest", handler.ingest)
	group.Get("/jobs/:id", handler.getJob)
}
