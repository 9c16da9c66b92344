// Package config loads the engine's settings (spec.md §6) the teacher's
// way: struct tags processed by kelseyhightower/envconfig, not hand-rolled
// os.Getenv parsing.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config mirrors spec.md §6's Settings table, plus the ambient knobs
// (§7) that control logging and optional storage backends.
type Config struct {
	// Master/Slave topology
	Master     string   `envconfig:"MASTER" default:"127.0.0.1"`
	MasterPort int      `envconfig:"MASTER_PORT" default:"9001"`
	Slaves     []string `envconfig:"SLAVES" default:"127.0.0.1"`

	// Worker lifecycle
	WorkerTimeout       int `envconfig:"WORKER_TIMEOUT" default:"-1"`
	WorkerCheckInterval int `envconfig:"WORKER_CHECK_INTERVAL" default:"1"`
	TestDurationSeconds int `envconfig:"TEST_DURATION" default:"60"`

	// Ambient
	Env      string `envconfig:"STRAW_ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Optional domain-stack backends (spec.md §8 of SPEC_FULL.md); empty
	// means the corresponding component is disabled.
	RedisURL        string `envconfig:"REDIS_URL"`
	HistoryDSN      string `envconfig:"STRAW_HISTORY_DSN"`
	NATSURL         string `envconfig:"NATS_URL"`
	Transport       string `envconfig:"STRAW_TRANSPORT" default:"ws"`
	ControllerToken string `envconfig:"STRAW_CONTROLLER_TOKEN"`

	// Tracing (empty OTLPEndpoint disables it; a worker subprocess never
	// emits a span to anywhere until this is set).
	OTLPEndpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"straw-worker"`
}

// Load processes environment variables into a Config, applying defaults
// for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WorkerTimeoutDuration returns WorkerTimeout as a time.Duration, or 0
// (meaning "infinite", per spec.md §4.6) if WorkerTimeout is <= 0.
func (c *Config) WorkerTimeoutDuration() time.Duration {
	if c.WorkerTimeout <= 0 {
		return 0
	}
	return time.Duration(c.WorkerTimeout) * time.Second
}

// CheckInterval returns WorkerCheckInterval as a time.Duration, clamped to
// at least one second.
func (c *Config) CheckInterval() time.Duration {
	if c.WorkerCheckInterval < 1 {
		return time.Second
	}
	return time.Duration(c.WorkerCheckInterval) * time.Second
}

// TestDuration returns TestDurationSeconds as a time.Duration.
func (c *Config) TestDuration() time.Duration {
	return time.Duration(c.TestDurationSeconds) * time.Second
}
