package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is the subset of Master's state the inspection API
// exposes, kept as an interface so api never imports the master package
// directly.
type StatusProvider interface {
	ID() string
	RegisteredSlaves() int
	ExpectedSlaves() int
}

// Handlers bundles the inspection routes' dependencies.
type Handlers struct {
	status  StatusProvider
	metrics fiber.Handler
}

// NewHandlers constructs Handlers. reg may be nil, in which case
// /metrics reports against the default Prometheus registry.
func NewHandlers(status StatusProvider, reg *prometheus.Registry) *Handlers {
	gatherer := prometheus.Gatherer(reg)
	if reg == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return &Handlers{status: status, metrics: adaptor.HTTPHandler(handler)}
}

// HealthCheck always reports healthy once the process can serve HTTP.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

// Status reports the master's id and slave-registration progress.
func (h *Handlers) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"id":                h.status.ID(),
		"registered_slaves": h.status.RegisteredSlaves(),
		"expected_slaves":   h.status.ExpectedSlaves(),
		"ready":             h.status.RegisteredSlaves() >= h.status.ExpectedSlaves(),
	})
}

// Metrics renders the Prometheus text exposition format via the standard
// promhttp handler, adapted onto Fiber's net/http-free Ctx.
func (h *Handlers) Metrics(c *fiber.Ctx) error {
	return h.metrics(c)
}
