package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// statusFor maps a failure class to the HTTP status returned to callers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInput):
		return fiber.StatusBadRequest
	case errors.Is(err, errs.ErrPersistence):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrModelInvocation):
		return fiber.StatusBadGateway
	case errors.Is(err, errs.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, msg string, err error) error {
	status := statusFor(err)
	kind := errs.Kind(err)

	fields := []zap.Field{zap.String("kind", kind), zap.Error(err)}
	if id, ok := c.Locals("request_id").(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, fields...)
	} else {
		logger.Warn(msg, fields...)
	}

	return c.Status(status).JSON(fiber.Map{
		"error":  err.Error(),
		"kind":   kind,
		"detail": msg,
	})
}
