package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/ingestion"
	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/logger"
)

type IngestHandler struct {
	coordinator *ingestion.Coordinator
}

func NewIngestHandler(coordinator *ingestion.Coordinator) *IngestHandler {
	return &IngestHandler{
		coordinator: coordinator,
	}
}

type rawRecordRequest struct {
	SourceID    string         `json:"source_id"`
	ContentType string         `json:"content_type"`
	FetchedAt   *time.Time     `json:"fetched_at"`
	Fields      map[string]any `json:"fields"`
}

func (r rawRecordRequest) toModel() models.RawRecord {
	fetchedAt := time.Now()
	if r.FetchedAt != nil {
		fetchedAt = *r.FetchedAt
	}
	return models.RawRecord{
		SourceID:    r.SourceID,
		ContentType: models.ContentType(r.ContentType),
		FetchedAt:   fetchedAt,
		Fields:      r.Fields,
	}
}

// HandleRecords ingests a batch of crawled records. Per-record failures are
// counted, not fatal: a batch always returns 200 with processed/rejected
// totals.
func (h *IngestHandler) HandleRecords(c *fiber.Ctx) error {
	var req struct {
		Records []rawRecordRequest `json:"records"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Records) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one record is required",
		})
	}

	records := make([]models.RawRecord, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, r.toModel())
	}

	result := h.coordinator.ProcessBatch(c.Context(), records)

	return c.JSON(result)
}

// HandleRefresh replaces the whole index with a fresh crawl in one atomic
// swap. Queries keep seeing the old generation until the swap lands.
func (h *IngestHandler) HandleRefresh(c *fiber.Ctx) error {
	var req struct {
		Records []rawRecordRequest `json:"records"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	records := make([]models.RawRecord, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, r.toModel())
	}

	result, err := h.coordinator.Refresh(c.Context(), records)
	if err != nil {
		logger.Error("Refresh failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to refresh index",
		})
	}

	return c.JSON(result)
}

func (h *IngestHandler) HandleDelete(c *fiber.Ctx) error {
	contentType := models.ContentType(c.Params("content_type"))
	id := c.Params("id")

	err := h.coordinator.Remove(c.Context(), contentType, id)
	if err != nil {
		var validationErr *ingestion.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		logger.Error("Failed to delete entity", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete entity",
		})
	}

	return c.JSON(fiber.Map{
		"deleted": id,
	})
}
