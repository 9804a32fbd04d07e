package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/tc-validator/backend/internal/app"
	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/middleware/validation"
)

type FeedbackRunner interface {
	Run(ctx context.Context, opts app.RunOptions, observers ...feedback.Observer) (*feedback.Outcome, error)
}

type FeedbackHandler struct {
	runner FeedbackRunner
}

func NewFeedbackHandler(runner FeedbackRunner) *FeedbackHandler {
	return &FeedbackHandler{
		runner: runner,
	}
}

type feedbackRequest struct {
	MasterStore   string `json:"master_store"`
	TestCaseStore string `json:"testcase_store"`
	ReportPath    string `json:"report_path"`
	MaxRetries    *int   `json:"max_retries"`
	Force         bool   `json:"force"`
}

func (r feedbackRequest) options() app.RunOptions {
	return app.RunOptions{
		MasterStore:   r.MasterStore,
		TestCaseStore: r.TestCaseStore,
		ReportPath:    r.ReportPath,
		MaxRetries:    r.MaxRetries,
		Force:         r.Force,
	}
}

// resolve applies policy to a request that did not pass through the body
// middleware.
func (r *feedbackRequest) resolve(policy validation.Policy) error {
	for _, path := range []*string{&r.MasterStore, &r.TestCaseStore, &r.ReportPath} {
		if *path == "" {
			continue
		}
		resolved, err := policy.ResolvePath(*path)
		if err != nil {
			return err
		}
		*path = resolved
	}
	if r.MaxRetries != nil {
		return policy.CheckRetries(*r.MaxRetries)
	}
	return nil
}

// HandleRun drives a full feedback run and answers once it has finished.
func (h *FeedbackHandler) HandleRun(c *fiber.Ctx) error {
	var req feedbackRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	outcome, err := h.runner.Run(c.UserContext(), req.options())
	if err != nil {
		return respondError(c, "Feedback run failed", err)
	}

	return c.JSON(outcome)
}
