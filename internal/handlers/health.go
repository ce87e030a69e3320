package handlers

import (
	"blockforge/internal/capability"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler serves liveness and capability introspection.
type HealthHandler struct {
	capabilities *capability.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(capabilities *capability.Registry) *HealthHandler {
	return &HealthHandler{capabilities: capabilities}
}

// Health reports service liveness.
// GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// Capabilities lists what generated blocks may use.
// GET /api/capabilities
func (h *HealthHandler) Capabilities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"capabilities": h.capabilities.Summaries(),
	})
}
