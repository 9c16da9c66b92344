package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors exposed on straw-master's
// /metrics endpoint. A single *Metrics is built once and passed
// down, never held in package-level state (teacher's convention).
type Metrics struct {
	JobsTotal       *prometheus.CounterVec
	SessionsTotal   *prometheus.CounterVec
	WorkerActive    prometheus.Gauge
	QueueDepth      prometheus.Gauge
}

// NewMetrics registers and returns the engine's collectors against reg.
// Pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "straw_jobs_total",
			Help: "Total number of jobs dispatched to workers.",
		}, []string{"kind"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "straw_sessions_total",
			Help: "Total number of completed request sessions, by status code.",
		}, []string{"status_code"}),
		WorkerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "straw_worker_active",
			Help: "Number of worker subprocesses currently started.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "straw_queue_depth",
			Help: "Depth of the WorkerManager result queue.",
		}),
	}
	reg.MustRegister(m.JobsTotal, m.SessionsTotal, m.WorkerActive, m.QueueDepth)
	return m
}
