package handlers

import (
	"errors"
	"log"

	"blockforge/internal/logging"
	"blockforge/internal/metrics"
	"blockforge/internal/models"
	"blockforge/internal/registry"
	"blockforge/internal/workflow"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// WorkflowHandler handles workflow-related HTTP requests.
type WorkflowHandler struct {
	registry *registry.Registry
	engine   *workflow.Engine
	metrics  *metrics.Metrics
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(reg *registry.Registry, engine *workflow.Engine, m *metrics.Metrics) *WorkflowHandler {
	return &WorkflowHandler{registry: reg, engine: engine, metrics: m}
}

// Create composes and stores a workflow. Nodes and bindings are validated
// as they are added, so type mismatches and cycles come back as 400s with
// the offending edge named.
// POST /api/workflows
func (h *WorkflowHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Name  string `json:"name"`
		Nodes []struct {
			ID      string `json:"id"`
			BlockID string `json:"block_id"`
		} `json:"nodes"`
		Bindings []struct {
			SourceNode  string `json:"source_node"`
			SourceField string `json:"source_field"`
			TargetNode  string `json:"target_node"`
			TargetField string `json:"target_field"`
		} `json:"bindings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	composer := workflow.NewComposer(h.registry)
	for _, node := range req.Nodes {
		if err := composer.AddNode(c.Context(), node.ID, node.BlockID); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}
	for _, b := range req.Bindings {
		if err := composer.Bind(b.SourceNode, b.SourceField, b.TargetNode, b.TargetField); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	wf, err := composer.Build(req.Name)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.registry.SaveWorkflow(c.Context(), wf); err != nil {
		log.Printf("❌ [API] Failed to save workflow: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save workflow",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"workflow":       wf,
		"unbound_inputs": composer.UnboundInputs(),
	})
}

// List returns all stored workflows.
// GET /api/workflows
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	workflows, err := h.registry.ListWorkflows(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list workflows",
		})
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return c.JSON(fiber.Map{"workflows": workflows})
}

// Get returns a single workflow.
// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	wf, err := h.registry.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch workflow",
		})
	}
	return c.JSON(wf)
}

// Delete removes a workflow.
// DELETE /api/workflows/:id
func (h *WorkflowHandler) Delete(c *fiber.Ctx) error {
	err := h.registry.DeleteWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete workflow",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Run executes a workflow.
// POST /api/workflows/:id/run
func (h *WorkflowHandler) Run(c *fiber.Ctx) error {
	wf, err := h.registry.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Workflow not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch workflow",
		})
	}

	var req struct {
		Inputs map[string]map[string]any `json:"inputs"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	runID := uuid.New().String()
	logging.WithRun(runID, wf.ID).Info("workflow run requested")

	result, err := h.engine.Run(c.Context(), wf, req.Inputs, nil)
	if err != nil {
		log.Printf("❌ [API] Workflow run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.metrics.WorkflowRuns.WithLabelValues(string(result.Status)).Inc()
	return c.JSON(fiber.Map{
		"run_id":  runID,
		"status":  result.Status,
		"nodes":   result.NodeResults,
		"outputs": result.Outputs,
		"error":   result.Error,
	})
}
