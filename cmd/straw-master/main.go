// Command straw-master runs the control-server tier: it partitions a job
// list across a fleet of straw-slave processes, waits for them to report,
// and prints the aggregate result (spec.md §4.8).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"straw/internal/straw/api"
	"straw/internal/straw/auth"
	"straw/internal/straw/config"
	"straw/internal/straw/history"
	"straw/internal/straw/id"
	"straw/internal/straw/job"
	"straw/internal/straw/master"
	"straw/internal/straw/observability"
	"straw/internal/straw/persistence"
	"straw/internal/straw/transport"
	"straw/internal/straw/transport/natsctl"
	"straw/internal/straw/worker"
)

func main() {
	// A straw-master binary doubles as the worker subprocess executable
	// forwarded to each slave; this must run before flag parsing.
	worker.MaybeRunSubprocess(observability.FromEnv("info"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("straw-master: load config: %v", err)
	}

	var (
		port            = flag.Int("port", cfg.MasterPort, "control server port")
		slaves          = flag.Int("slaves", len(cfg.Slaves), "number of slaves expected to register")
		apiPort         = flag.Int("api-port", 9090, "inspection API port (0 disables)")
		method          = flag.String("method", "HttpGet", "job kind: HttpGet, HttpPost, WebsocketText, WebsocketBinary")
		targets         = flag.String("targets", "", "comma-separated URLs to load, one job each")
		duration        = flag.Int("duration", cfg.TestDurationSeconds, "run duration in seconds, 0 means run until stopped manually")
		controllerToken = flag.String("controller-token", cfg.ControllerToken, "bearer token required on the inspection API (empty disables auth)")
		weight          = flag.String("weight", "", "comma-separated per-worker weight assigned to every slave's pool, e.g. 1,3 (default: every worker weight 1)")
	)
	flag.Parse()

	logger := observability.FromEnv(cfg.LogLevel)
	defer logger.Sync()

	kind, err := parseKind(*method)
	if err != nil {
		logger.Fatal("straw-master: bad --method", zap.Error(err))
	}

	weights, err := parseWeights(*weight)
	if err != nil {
		logger.Fatal("straw-master: bad --weight", zap.Error(err))
	}

	var ctl transport.ControlMaster
	expected := make([]string, *slaves)
	if strings.EqualFold(cfg.Transport, "nats") {
		ctl, err = natsctl.NewMaster(cfg.NATSURL, expected, weights, logger)
		if err != nil {
			logger.Fatal("straw-master: connect nats", zap.Error(err))
		}
	} else {
		ctl = master.New(*port, expected, weights, logger)
	}
	for _, url := range splitNonEmpty(*targets) {
		ctl.Dispatch(job.NewContainer(kind, url))
	}

	if err := ctl.Start(); err != nil {
		logger.Fatal("straw-master: start control server", zap.Error(err))
	}
	logger.Info("straw-master: listening", zap.Int("port", *port), zap.Int("expected_slaves", *slaves), zap.String("transport", cfg.Transport))

	reg := prometheus.NewRegistry()
	// Registers the engine's collector families against reg so /metrics
	// reports them; the Master process never updates them, so they stay at
	// zero here. worker.Manager sets only straw_worker_active and
	// straw_queue_depth, on each Slave's own unexposed registry.
	observability.NewMetrics(reg)

	guard, err := auth.NewControllerGuard(*controllerToken)
	if err != nil {
		logger.Fatal("straw-master: controller guard", zap.Error(err))
	}

	var inspectionApp *fiber.App
	if *apiPort > 0 {
		status, ok := ctl.(api.StatusProvider)
		if !ok {
			logger.Fatal("straw-master: control transport does not expose inspection status")
		}
		inspectionApp = api.New(status, reg, guard, logger)
		addr := fmt.Sprintf(":%d", *apiPort)
		go func() {
			if err := inspectionApp.Listen(addr); err != nil {
				logger.Error("straw-master: inspection API stopped", zap.Error(err))
			}
		}()
	}

	var store *history.Store
	if cfg.HistoryDSN != "" {
		ctx := context.Background()
		store, err = history.Open(ctx, cfg.HistoryDSN)
		if err != nil {
			logger.Error("straw-master: history store disabled", zap.Error(err))
		} else {
			defer store.Close()
			if err := store.Migrate("internal/straw/history/migrations"); err != nil {
				logger.Error("straw-master: history migration failed", zap.Error(err))
			}
		}
	}

	var cache *persistence.ResultCache
	if cfg.RedisURL != "" {
		ctx := context.Background()
		cache, err = persistence.NewResultCache(ctx, cfg.RedisURL, 24*time.Hour)
		if err != nil {
			logger.Error("straw-master: result cache disabled", zap.Error(err))
		} else {
			defer cache.Close()
		}
	}

	select {
	case <-ctl.Ready():
		logger.Info("straw-master: all slaves registered, run in progress")
	case <-time.After(5 * time.Minute):
		logger.Warn("straw-master: timed out waiting for slaves to register")
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM)

	if *duration > 0 {
		select {
		case <-time.After(time.Duration(*duration) * time.Second):
		case <-stopSignal:
		}
	} else {
		<-stopSignal
	}

	logger.Info("straw-master: stopping run")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := ctl.Stop(ctx)
	if err != nil {
		logger.Fatal("straw-master: stop", zap.Error(err))
	}
	// The merged result's id is always "master"; the stored and cached copy
	// is keyed by a fresh run id so every run gets its own history row.
	record := *result
	record.ID = id.New()
	logger.Info("straw-master: run complete",
		zap.String("run_id", record.ID),
		zap.Int64("total_request", result.TotalRequest),
		zap.Int64("success_request", result.SuccessRequest),
		zap.Int64("qps", result.QPS))

	if store != nil {
		if err := store.Record(ctx, &record); err != nil {
			logger.Error("straw-master: record history", zap.Error(err))
		}
	}
	if cache != nil {
		if err := cache.Put(ctx, record.ID, &record); err != nil {
			logger.Error("straw-master: cache result", zap.Error(err))
		}
	}
	if inspectionApp != nil {
		_ = inspectionApp.ShutdownWithContext(ctx)
	}
}

func parseKind(s string) (job.Kind, error) {
	switch s {
	case string(job.KindHttpGet), string(job.KindHttpPost), string(job.KindWebsocketText), string(job.KindWebsocketBinary):
		return job.Kind(s), nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// parseWeights parses a comma-separated list of positive integers, or
// returns nil for an empty string (meaning every worker gets weight 1).
func parseWeights(s string) ([]int, error) {
	parts := splitNonEmpty(s)
	if len(parts) == 0 {
		return nil, nil
	}
	weights := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("weight %q must be a positive integer", p)
		}
		weights[i] = n
	}
	return weights, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
