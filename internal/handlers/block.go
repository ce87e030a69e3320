package handlers

import (
	"errors"
	"log"
	"time"

	"blockforge/internal/logging"
	"blockforge/internal/metrics"
	"blockforge/internal/models"
	"blockforge/internal/prompt"
	"blockforge/internal/registry"
	"blockforge/internal/sandbox"
	"blockforge/internal/synthesizer"

	"github.com/gofiber/fiber/v2"
)

// BlockHandler handles block-related HTTP requests.
type BlockHandler struct {
	synth    *synthesizer.Synthesizer
	registry *registry.Registry
	sandbox  *sandbox.Sandbox
	metrics  *metrics.Metrics
}

// NewBlockHandler creates a new block handler.
func NewBlockHandler(synth *synthesizer.Synthesizer, reg *registry.Registry, sb *sandbox.Sandbox, m *metrics.Metrics) *BlockHandler {
	return &BlockHandler{synth: synth, registry: reg, sandbox: sb, metrics: m}
}

// Generate creates a block from a natural-language request.
// POST /api/blocks/generate
func (h *BlockHandler) Generate(c *fiber.Ctx) error {
	var req struct {
		Request string   `json:"request"`
		Hints   []string `json:"hints"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	h.metrics.GenerationRequests.Inc()
	start := time.Now()

	block, attempts, err := h.synth.Generate(c.Context(), req.Request, req.Hints)
	h.metrics.GenerationLatency.Observe(time.Since(start).Seconds())
	h.metrics.GenerationAttempts.Observe(float64(len(attempts)))

	if err != nil {
		if errors.Is(err, prompt.ErrInvalidRequest) {
			h.metrics.GenerationOutcomes.WithLabelValues("rejected").Inc()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		var gerr *synthesizer.GenerationError
		if errors.As(err, &gerr) {
			h.metrics.GenerationOutcomes.WithLabelValues("failed").Inc()
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":    gerr.Error(),
				"attempts": gerr.Attempts,
			})
		}
		log.Printf("❌ [API] Generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Generation failed",
		})
	}

	if err := h.registry.SaveBlock(c.Context(), block); err != nil {
		if errors.Is(err, registry.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Printf("❌ [API] Failed to persist block %s: %v", block.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to persist block",
		})
	}

	h.metrics.GenerationOutcomes.WithLabelValues("ready").Inc()
	logging.WithGeneration(block.ID, len(attempts)).Info("block generated")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"block":    block,
		"attempts": attempts,
	})
}

// List returns all stored blocks.
// GET /api/blocks
func (h *BlockHandler) List(c *fiber.Ctx) error {
	blocks, err := h.registry.ListBlocks(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list blocks",
		})
	}
	if blocks == nil {
		blocks = []*models.Block{}
	}
	return c.JSON(fiber.Map{"blocks": blocks})
}

// Get returns a single block.
// GET /api/blocks/:id
func (h *BlockHandler) Get(c *fiber.Ctx) error {
	block, err := h.registry.GetBlock(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Block not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch block",
		})
	}
	return c.JSON(block)
}

// Delete removes a block unless a workflow references it. ?force=true
// deletes anyway and drops the references.
// DELETE /api/blocks/:id
func (h *BlockHandler) Delete(c *fiber.Ctx) error {
	err := h.registry.DeleteBlock(c.Context(), c.Params("id"), c.QueryBool("force"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Block not found",
			})
		}
		if errors.Is(err, registry.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete block",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Run executes a single block with the supplied inputs.
// POST /api/blocks/:id/run
func (h *BlockHandler) Run(c *fiber.Ctx) error {
	block, err := h.registry.GetBlock(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Block not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch block",
		})
	}

	var req struct {
		Inputs map[string]any `json:"inputs"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()
	outputs, err := h.sandbox.Execute(c.Context(), block, req.Inputs)
	h.metrics.BlockRunLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		h.metrics.BlockRuns.WithLabelValues("failed").Inc()

		var serr *sandbox.SchemaMismatchError
		if errors.As(err, &serr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": serr.Error(),
			})
		}
		var cerr *sandbox.CapabilityError
		if errors.As(err, &cerr) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": cerr.Error(),
			})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.metrics.BlockRuns.WithLabelValues("completed").Inc()
	return c.JSON(fiber.Map{"outputs": outputs})
}
