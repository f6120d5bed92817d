package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/discussion"
	"github.com/prefopt/backend/internal/llm"
	"github.com/prefopt/backend/internal/metrics"
	"github.com/prefopt/backend/internal/optimization"
	"github.com/prefopt/backend/pkg/logger"
)

type QueryHandler struct {
	manager   *optimization.Manager
	generator discussion.Generator
	groupName string
}

func NewQueryHandler(manager *optimization.Manager, generator discussion.Generator, groupName string) *QueryHandler {
	return &QueryHandler{
		manager:   manager,
		generator: generator,
		groupName: groupName,
	}
}

// HandleQuery routes a query to the best model (or a group discussion)
// and returns the generated response.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id"`
		UseDiscussion  bool   `json:"use_discussion"`
		Rounds         int    `json:"rounds"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "conv_" + uuid.New().String()
	}

	start := time.Now()
	optimized := h.manager.OptimizeQuery(req.Query)

	useDiscussion := req.UseDiscussion || optimized.SelectedModel == h.groupName

	if useDiscussion {
		result := h.manager.ConductDiscussion(c.Context(), optimized.Prompt, discussion.Options{
			Rounds: req.Rounds,
		})

		metrics.QueryDuration.WithLabelValues(optimized.Profile.QueryType).Observe(time.Since(start).Seconds())
		if !result.Success {
			metrics.QueryTotal.WithLabelValues("error").Inc()
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":           "Discussion failed to produce a response",
				"discussion_id":   result.DiscussionID,
				"conversation_id": conversationID,
			})
		}
		metrics.QueryTotal.WithLabelValues("success").Inc()

		return c.JSON(fiber.Map{
			"conversation_id":  conversationID,
			"response":         result.Response,
			"model":            h.groupName,
			"discussion_id":    result.DiscussionID,
			"models_used":      result.ModelsUsed,
			"rounds":           result.Rounds,
			"template_used":    optimized.TemplateUsed,
			"query_type":       optimized.Profile.QueryType,
			"latency_ms":       time.Since(start).Milliseconds(),
			"request_feedback": h.manager.ShouldRequestFeedback(conversationID),
		})
	}

	if optimized.SelectedModel == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "No models configured",
		})
	}

	resp := h.generator.Generate(c.Context(), llm.Request{
		Model:  optimized.SelectedModel,
		Prompt: optimized.Prompt,
	})

	metrics.QueryDuration.WithLabelValues(optimized.Profile.QueryType).Observe(time.Since(start).Seconds())
	if resp.Success {
		metrics.QueryTotal.WithLabelValues("success").Inc()
	} else {
		metrics.QueryTotal.WithLabelValues("error").Inc()
	}

	return c.JSON(fiber.Map{
		"conversation_id":  conversationID,
		"response":         resp.Content,
		"model":            resp.Model,
		"success":          resp.Success,
		"cached":           resp.Cached,
		"template_used":    optimized.TemplateUsed,
		"query_type":       optimized.Profile.QueryType,
		"latency_ms":       time.Since(start).Milliseconds(),
		"request_feedback": h.manager.ShouldRequestFeedback(conversationID),
	})
}

// HandleAnalyze exposes the query analysis on its own, without running
// any generation.
func (h *QueryHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil || req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	optimized := h.manager.OptimizeQuery(req.Query)

	return c.JSON(fiber.Map{
		"profile":        optimized.Profile,
		"template_used":  optimized.TemplateUsed,
		"selected_model": optimized.SelectedModel,
		"prompt":         optimized.Prompt,
	})
}
