package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/internal/storage/sqlite"
)

type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.ValidationRun, error)
	GetRun(ctx context.Context, id string) (*models.ValidationRun, error)
	GetAttempts(ctx context.Context, runID string) ([]models.ValidationAttempt, error)
}

type RunsHandler struct {
	store RunStore
}

func NewRunsHandler(store RunStore) *RunsHandler {
	return &RunsHandler{
		store: store,
	}
}

func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	runs, err := h.store.ListRuns(c.UserContext(), limit)
	if err != nil {
		return respondError(c, "Failed to list runs", err)
	}
	if runs == nil {
		runs = []models.ValidationRun{}
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	id := c.Params("id")

	run, err := h.store.GetRun(c.UserContext(), id)
	if errors.Is(err, sqlite.ErrRunNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	if err != nil {
		return respondError(c, "Failed to load run", err)
	}

	attempts, err := h.store.GetAttempts(c.UserContext(), id)
	if err != nil {
		return respondError(c, "Failed to load attempts", err)
	}
	if attempts == nil {
		attempts = []models.ValidationAttempt{}
	}

	return c.JSON(fiber.Map{
		"run":      run,
		"attempts": attempts,
	})
}
