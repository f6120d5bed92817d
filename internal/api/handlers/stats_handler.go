package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/llm"
	"github.com/prefopt/backend/internal/optimization"
	"github.com/prefopt/backend/internal/storage/sqlite"
	"github.com/prefopt/backend/pkg/logger"
)

type StatsHandler struct {
	manager *optimization.Manager
	llm     *llm.Client
	store   *sqlite.Client
}

func NewStatsHandler(manager *optimization.Manager, llmClient *llm.Client, store *sqlite.Client) *StatsHandler {
	return &StatsHandler{
		manager: manager,
		llm:     llmClient,
		store:   store,
	}
}

// HandleStats returns the full optimization state: routing profiles,
// win rates, template performance, model usage, and feedback aggregates.
func (h *StatsHandler) HandleStats(c *fiber.Ctx) error {
	feedbackStats, err := h.store.GetFeedbackStats()
	if err != nil {
		logger.Error("Failed to load feedback stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	return c.JSON(fiber.Map{
		"optimization": h.manager.GetStats(),
		"feedback":     feedbackStats,
		"llm":          h.llm.Stats(),
	})
}

// HandleToggle enables or disables the optimization pipeline at runtime.
func (h *StatsHandler) HandleToggle(c *fiber.Ctx) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}

	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "enabled is required",
		})
	}

	h.manager.SetEnabled(*req.Enabled)

	return c.JSON(fiber.Map{
		"enabled": *req.Enabled,
	})
}

// HandleFeedbackToggle enables or disables feedback collection only.
func (h *StatsHandler) HandleFeedbackToggle(c *fiber.Ctx) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}

	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "enabled is required",
		})
	}

	h.manager.SetFeedbackEnabled(*req.Enabled)

	return c.JSON(fiber.Map{
		"enabled": *req.Enabled,
	})
}

// HandleClearCaches drops the analysis cache.
func (h *StatsHandler) HandleClearCaches(c *fiber.Ctx) error {
	h.manager.ClearCaches()

	return c.JSON(fiber.Map{
		"cleared": true,
	})
}

// HandleBackup writes a logical database backup and returns its path.
func (h *StatsHandler) HandleBackup(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	_ = c.BodyParser(&req)

	path, err := h.store.BackupDatabase(req.Path)
	if err != nil {
		logger.Error("Failed to back up database", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to back up database",
		})
	}

	return c.JSON(fiber.Map{
		"path": path,
	})
}
