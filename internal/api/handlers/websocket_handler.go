package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/middleware/validation"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// WebSocketHandler streams feedback runs: one "started" message, one
// "attempt" message per validation pass, then "complete" or "error".
type WebSocketHandler struct {
	runner FeedbackRunner
	policy validation.Policy
}

func NewWebSocketHandler(runner FeedbackRunner, policy validation.Policy) *WebSocketHandler {
	return &WebSocketHandler{
		runner: runner,
		policy: policy,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type string `json:"type"`
			feedbackRequest
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "run" {
			h.sendError(c, "unsupported message type", "input")
			continue
		}

		req := msg.feedbackRequest
		if err := req.resolve(h.policy); err != nil {
			logger.Warn("Rejected feedback run request", zap.Error(err))
			h.sendError(c, err.Error(), errs.Kind(err))
			continue
		}

		err = h.streamRun(ctx, c, req)
		if err != nil {
			logger.Error("Failed to stream feedback run", zap.Error(err))
			h.sendError(c, err.Error(), errs.Kind(err))
		}
	}
}

func (h *WebSocketHandler) streamRun(ctx context.Context, c *websocket.Conn, req feedbackRequest) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcome, err := h.runner.Run(runCtx, req.options(), streamObserver(c.WriteJSON, cancel))
	if err != nil {
		return err
	}

	return h.sendComplete(c, outcome)
}

// streamObserver forwards run progress through send. The first failed send
// means the client is gone, so the run is cancelled.
func streamObserver(send func(v interface{}) error, cancel context.CancelFunc) feedback.ObserverFuncs {
	forward := func(msg map[string]interface{}) error {
		if err := send(msg); err != nil {
			cancel()
			return err
		}
		return nil
	}

	return feedback.ObserverFuncs{
		OnStart: func(_ context.Context, info feedback.RunInfo) error {
			return forward(map[string]interface{}{
				"type":        "started",
				"run_id":      info.RunID,
				"max_retries": info.MaxRetries,
			})
		},
		OnAttempt: func(_ context.Context, runID string, attempt int, result *models.ValidationResult) error {
			return forward(attemptMessage(runID, attempt, result))
		},
	}
}

func attemptMessage(runID string, attempt int, result *models.ValidationResult) map[string]interface{} {
	return map[string]interface{}{
		"type":         "attempt",
		"run_id":       runID,
		"attempt":      attempt,
		"completeness": result.Completeness,
		"accuracy":     result.Accuracy,
		"covered":      len(result.Covered),
		"missing":      len(result.Missing),
	}
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, outcome *feedback.Outcome) error {
	msg := map[string]interface{}{
		"type":    "complete",
		"outcome": outcome,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg, kind string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
		"kind":  kind,
	}

	c.WriteJSON(msg)
}
