// Package api is the Master's local-controller HTTP surface: inspection
// endpoints (/status, /metrics, /healthz) alongside the WS control
// channel, built with Fiber the way the teacher builds its client API
// (SPEC_FULL.md §8).
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// SetupMiddleware wires the teacher's exact middleware stack: panic
// recovery, request-id tagging, permissive CORS (this surface has no
// browser-facing caller, but the teacher always wires it), and a
// structured access log.
func SetupMiddleware(app *fiber.App, logger *zap.Logger) {
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST",
	}))

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Get("X-Request-ID")),
		)
		return err
	})
}
