package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/embeddings"
	"github.com/tour-agent/backend/internal/kb"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/logger"
)

type QueryHandler struct {
	kb *kb.KnowledgeBase
}

func NewQueryHandler(knowledgeBase *kb.KnowledgeBase) *QueryHandler {
	return &QueryHandler{
		kb: knowledgeBase,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query       string `json:"query"`
		ContentType string `json:"content_type"`
		Category    string `json:"category"`
		K           int    `json:"k"`
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

	filters := models.QueryFilters{
		ContentType: models.ContentType(req.ContentType),
		Category:    req.Category,
	}
	if req.ContentType != "" && !filters.ContentType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown content_type",
		})
	}

	response, err := h.kb.Query(c.Context(), req.Query, filters, req.K)
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		if errors.Is(err, embeddings.ErrTimeout) {
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
				"error": "Embedding provider timed out",
			})
		}
		if errors.Is(err, embeddings.ErrUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Embedding provider unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(response)
}
