package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/optimization"
	"github.com/prefopt/backend/internal/storage/models"
	"github.com/prefopt/backend/pkg/logger"
)

type FeedbackHandler struct {
	manager *optimization.Manager
}

func NewFeedbackHandler(manager *optimization.Manager) *FeedbackHandler {
	return &FeedbackHandler{manager: manager}
}

type scoreRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// HandleFeedback ingests one feedback event. The score is optional and
// may be a single value or a low/high range.
func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		ConversationID string            `json:"conversation_id"`
		Query          string            `json:"query"`
		Responses      map[string]string `json:"responses"`
		SelectedModel  string            `json:"selected_model"`
		Score          *float64          `json:"score"`
		ScoreRange     *scoreRange       `json:"score_range"`
		Text           string            `json:"text"`
		Metadata       map[string]string `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse feedback body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SelectedModel == "" || len(req.Responses) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "selected_model and responses are required",
		})
	}

	score := models.NoScore()
	switch {
	case req.Score != nil:
		score = models.ScalarScore(*req.Score)
	case req.ScoreRange != nil:
		score = models.RangeScore(req.ScoreRange.Low, req.ScoreRange.High)
	}

	record, err := h.manager.ProcessFeedback(
		req.ConversationID,
		req.Query,
		req.Responses,
		req.SelectedModel,
		score,
		req.Text,
		req.Metadata,
	)
	if err != nil {
		logger.Error("Failed to process feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process feedback",
		})
	}
	if record == nil {
		return c.JSON(fiber.Map{
			"accepted": false,
			"reason":   "optimization disabled",
		})
	}

	return c.JSON(fiber.Map{
		"accepted":    true,
		"feedback_id": record.ID,
	})
}

// HandleExport writes the RLHF export bundle to disk.
func (h *FeedbackHandler) HandleExport(c *fiber.Ctx) error {
	var req struct {
		Dir string `json:"dir"`
	}
	// An empty body exports to the configured directory.
	_ = c.BodyParser(&req)

	path, err := h.manager.ExportFeedbackData(req.Dir)
	if err != nil {
		logger.Error("Failed to export feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export feedback data",
		})
	}

	return c.JSON(fiber.Map{
		"path": path,
	})
}
