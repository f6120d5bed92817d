package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var scriptPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=)`)

type Config struct {
	MaxQueryLength int
	Logger         *zap.Logger
}

// Middleware validates the request bodies of the query and feedback
// endpoints before they reach a handler.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()
		switch {
		case strings.HasSuffix(path, "/query"):
			return validateQuery(c, cfg)
		case strings.HasSuffix(path, "/feedback"):
			return validateFeedback(c, cfg)
		}

		return c.Next()
	}
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	query, ok := req["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required and must be a string",
		})
	}

	if len(query) > cfg.MaxQueryLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query exceeds maximum length",
		})
	}

	if scriptPattern.MatchString(query) {
		cfg.Logger.Warn("Rejected query with embedded markup",
			zap.String("ip", c.IP()),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query content",
		})
	}

	return c.Next()
}

func validateFeedback(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	selected, ok := req["selected_model"].(string)
	if !ok || selected == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "selected_model is required",
		})
	}

	if raw, present := req["score"]; present && raw != nil {
		score, ok := raw.(float64)
		if !ok || score < 0 || score > 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "score must be a number between 0 and 1",
			})
		}
	}

	return c.Next()
}
