// Command straw is a single-process smoke-test launcher: it drives a
// worker.Manager directly against one or more URLs, without a Master or
// Slave control channel, mirroring CamelStraw's local-mode CmdLauncher.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"straw/internal/straw/config"
	"straw/internal/straw/job"
	"straw/internal/straw/observability"
	"straw/internal/straw/worker"
)

func main() {
	logger := observability.FromEnv("info")
	// This binary also serves as its own worker subprocess executable.
	worker.MaybeRunSubprocess(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("straw: load config: %v", err)
	}

	var (
		workerNum = flag.Int("worker", 0, "number of worker subprocesses, 0 means one per CPU")
		timeout   = flag.Int("timeout", cfg.WorkerTimeout, "run timeout in seconds, <=0 runs until the process is interrupted")
		method    = flag.String("method", "HttpGet", "job kind: HttpGet, HttpPost, WebsocketText, WebsocketBinary")
		weight    = flag.String("weight", "", "comma-separated per-worker weight, e.g. 1,3 (default: every worker weight 1)")
	)
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: straw [flags] URL [URL...]")
		os.Exit(2)
	}

	kind, err := parseKind(*method)
	if err != nil {
		fmt.Fprintln(os.Stderr, "straw:", err)
		os.Exit(2)
	}

	weights, err := parseWeights(*weight)
	if err != nil {
		fmt.Fprintln(os.Stderr, "straw:", err)
		os.Exit(2)
	}

	logger = observability.FromEnv(cfg.LogLevel)
	defer logger.Sync()

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	binaryPath, err := os.Executable()
	if err != nil {
		logger.Fatal("straw: resolve own binary path", zap.Error(err))
	}

	manager := worker.NewManager(*workerNum, weights, binaryPath, durationSeconds(*timeout), cfg.CheckInterval(), logger, metrics)
	for _, url := range paths {
		if err := manager.Dispatch(job.NewContainer(kind, strings.TrimSpace(url))); err != nil {
			logger.Fatal("straw: dispatch job", zap.String("url", url), zap.Error(err))
		}
	}

	if err := manager.Start(); err != nil {
		logger.Fatal("straw: start workers", zap.Error(err))
	}
	logger.Info("straw: run started", zap.Int("workers", manager.WorkerCount()), zap.Int("urls", len(paths)))

	if *timeout > 0 {
		time.Sleep(time.Duration(*timeout) * time.Second)
	} else {
		waitForInterrupt()
	}

	if err := manager.Stop(); err != nil {
		logger.Fatal("straw: stop workers", zap.Error(err))
	}

	result := manager.Result()
	encoded, err := result.ToJSON()
	if err != nil {
		logger.Fatal("straw: encode result", zap.Error(err))
	}
	fmt.Println(encoded)

	if result.TotalRequest == 0 || result.SuccessRequest < result.TotalRequest {
		os.Exit(1)
	}
}

func parseKind(s string) (job.Kind, error) {
	switch s {
	case string(job.KindHttpGet), string(job.KindHttpPost), string(job.KindWebsocketText), string(job.KindWebsocketBinary):
		return job.Kind(s), nil
	default:
		return "", fmt.Errorf("unknown --method %q", s)
	}
}

// parseWeights parses a comma-separated list of positive integers, or
// returns nil for an empty string (meaning every worker gets weight 1).
func parseWeights(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	var weights []int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("weight %q must be a positive integer", p)
		}
		weights = append(weights, n)
	}
	return weights, nil
}

func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

func durationSeconds(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
