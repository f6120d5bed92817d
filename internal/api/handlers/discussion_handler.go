package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/discussion"
	"github.com/prefopt/backend/internal/optimization"
	"github.com/prefopt/backend/pkg/logger"
)

type DiscussionHandler struct {
	manager *optimization.Manager
}

func NewDiscussionHandler(manager *optimization.Manager) *DiscussionHandler {
	return &DiscussionHandler{manager: manager}
}

// HandleGetDiscussion returns a stored discussion transcript.
func (h *DiscussionHandler) HandleGetDiscussion(c *fiber.Ctx) error {
	id := c.Params("id")

	record := h.manager.GetDiscussion(id)
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Discussion not found",
		})
	}

	return c.JSON(record)
}

// HandleConnection streams a group discussion over a websocket: one
// message per contribution as the rounds run, then the final synthesis.
func (h *DiscussionHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Discussion websocket connected")

	defer func() {
		c.Close()
		logger.Info("Discussion websocket closed")
	}()

	for {
		var msg struct {
			Type   string `json:"type"`
			Query  string `json:"query"`
			Rounds int    `json:"rounds"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("Websocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "discuss" || msg.Query == "" {
			h.sendError(c, "Expected a discuss message with a query")
			continue
		}

		result := h.manager.ConductDiscussion(context.Background(), msg.Query, discussion.Options{
			Rounds: msg.Rounds,
			OnRound: func(update discussion.RoundUpdate) {
				c.WriteJSON(map[string]interface{}{
					"type":          "contribution",
					"discussion_id": update.DiscussionID,
					"round":         update.Round,
					"model":         update.Model,
					"content":       update.Content,
				})
			},
		})

		if !result.Success {
			h.sendError(c, "Discussion failed: "+result.Err)
			continue
		}

		c.WriteJSON(map[string]interface{}{
			"type":          "complete",
			"discussion_id": result.DiscussionID,
			"response":      result.Response,
			"models_used":   result.ModelsUsed,
			"rounds":        result.Rounds,
			"latency_ms":    result.CompletionTime.Milliseconds(),
		})
	}
}

func (h *DiscussionHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
