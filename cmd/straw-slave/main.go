// Command straw-slave connects outward to a straw-master control server,
// drives a local worker.Manager against its assigned job partition, and
// reports the merged result back (spec.md §4.7).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"straw/internal/straw/config"
	"straw/internal/straw/observability"
	"straw/internal/straw/slave"
	"straw/internal/straw/transport"
	"straw/internal/straw/transport/natsctl"
	"straw/internal/straw/worker"
)

func main() {
	logger := observability.FromEnv("info")
	// A straw-slave binary doubles as the worker subprocess executable it
	// forks off for itself; this must run before flag parsing.
	worker.MaybeRunSubprocess(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("straw-slave: load config: %v", err)
	}

	var (
		masterHost = flag.String("master", cfg.Master, "master host to connect to")
		masterPort = flag.Int("master-port", cfg.MasterPort, "master control server port")
	)
	flag.Parse()

	logger = observability.FromEnv(cfg.LogLevel)
	defer logger.Sync()

	// A Slave process has no inspection HTTP surface of its own, only
	// straw-master exposes /metrics, but worker.Manager still expects a
	// non-nil *observability.Metrics to update as it dispatches and
	// reaps workers, so register against a private, unexposed registry.
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	binaryPath, err := os.Executable()
	if err != nil {
		binaryPath, err = exec.LookPath(os.Args[0])
		if err != nil {
			logger.Fatal("straw-slave: resolve own binary path", zap.Error(err))
		}
	}

	var cs transport.ControlSlave
	ctx := context.Background()
	if strings.EqualFold(cfg.Transport, "nats") {
		ns, err := natsctl.NewSlave(cfg.NATSURL, binaryPath, cfg.WorkerTimeout, cfg.WorkerCheckInterval, logger, metrics)
		if err != nil {
			logger.Fatal("straw-slave: connect nats", zap.Error(err))
		}
		cs = ns
	} else {
		url := fmt.Sprintf("ws://%s:%d/slave/", *masterHost, *masterPort)
		cs = slave.New(url, binaryPath, cfg.WorkerTimeoutDuration(), cfg.CheckInterval(), logger, metrics)
	}

	logger.Info("straw-slave: connecting", zap.String("master", *masterHost), zap.Int("master_port", *masterPort), zap.String("transport", cfg.Transport))
	if err := cs.Start(ctx); err != nil {
		logger.Fatal("straw-slave: control channel ended with error", zap.Error(err))
	}
	logger.Info("straw-slave: run complete, exiting")
}

