package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/api/handlers"
	"github.com/tc-validator/backend/internal/app"
	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/internal/middleware/ratelimit"
	"github.com/tc-validator/backend/internal/middleware/security"
	"github.com/tc-validator/backend/internal/middleware/validation"
	"github.com/tc-validator/backend/pkg/config"
	appLogger "github.com/tc-validator/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting test-case validator API server")

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	validator, err := app.New(cfg)
	if err != nil {
		appLogger.Fatal("Failed to assemble validator", zap.Error(err))
	}
	defer validator.Close()

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Logging.Level == "debug",
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID, X-Request-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	policy := validation.Policy{DataRoot: cfg.Server.DataRoot}

	validationHandler := handlers.NewValidationHandler(validator)
	feedbackHandler := handlers.NewFeedbackHandler(validator)
	wsHandler := handlers.NewWebSocketHandler(validator, policy)

	api := server.Group("/api/v1")

	checkBody := validation.Middleware(validation.Config{
		DataRoot: policy.DataRoot,
		Logger:   appLogger.GetLogger(),
	})
	api.Post("/validate", limiter.Middleware(), checkBody, validationHandler.HandleValidate)
	api.Post("/feedback", limiter.Middleware(), checkBody, feedbackHandler.HandleRun)

	if history := validator.History(); history != nil {
		runsHandler := handlers.NewRunsHandler(history)
		api.Get("/runs", runsHandler.ListRuns)
		api.Get("/runs/:id", runsHandler.GetRun)
	}

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/feedback", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	if cfg.Metrics.Enabled {
		server.Get("/metrics", metrics.MetricsHandler())
	}

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		if err := validator.Ready(ctx); err != nil {
			appLogger.Warn("Readiness check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
