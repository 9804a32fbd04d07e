package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/tc-validator/backend/internal/report"
	"github.com/tc-validator/backend/internal/storage/models"
)

type ValidationService interface {
	Validate(ctx context.Context, requirementStore, testCaseStore, reportPath string) (*models.ValidationResult, error)
	Targets() report.Targets
}

type ValidationHandler struct {
	service ValidationService
}

func NewValidationHandler(service ValidationService) *ValidationHandler {
	return &ValidationHandler{
		service: service,
	}
}

type validateRequest struct {
	RequirementStore string `json:"requirement_store"`
	TestCaseStore    string `json:"testcase_store"`
	ReportPath       string `json:"report_path"`
}

// HandleValidate runs one standalone validation pass. Empty store paths fall
// back to the configured ones.
func (h *ValidationHandler) HandleValidate(c *fiber.Ctx) error {
	var req validateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	result, err := h.service.Validate(c.UserContext(), req.RequirementStore, req.TestCaseStore, req.ReportPath)
	if err != nil {
		return respondError(c, "Validation failed", err)
	}

	status := h.service.Targets().Assess(result.Exact.Completeness, result.Exact.Accuracy)
	return c.JSON(fiber.Map{
		"completeness":       result.Completeness,
		"accuracy":           result.Accuracy,
		"total_requirements": result.Total(),
		"covered":            len(result.Covered),
		"missing":            result.Missing,
		"coverage":           result.Covered,
		"completeness_met":   status.CompletenessMet,
		"accuracy_met":       status.AccuracyMet,
	})
}
