package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"straw/internal/straw/auth"
)

// New builds the Master's local-controller inspection app: panic
// recovery and access logging from SetupMiddleware, three read-only
// routes, with /status guarded by guard when controller auth is
// enabled.
//
// @title Straw Master Inspection API
// @description Read-only status, metrics and health endpoints for a running Master.
// @BasePath /
func New(status StatusProvider, reg *prometheus.Registry, guard *auth.ControllerGuard, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	SetupMiddleware(app, logger)

	h := NewHandlers(status, reg)

	// @Summary Health check
	// @Success 200 {object} map[string]string
	// @Router /healthz [get]
	app.Get("/healthz", h.HealthCheck)

	// @Summary Prometheus metrics
	// @Router /metrics [get]
	app.Get("/metrics", h.Metrics)

	// @Summary Master status
	// @Security ControllerToken
	// @Success 200 {object} map[string]interface{}
	// @Router /status [get]
	app.Get("/status", guard.RequireToken(), h.Status)

	return app
}
