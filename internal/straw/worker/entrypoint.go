package worker

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/config"
	"straw/internal/straw/observability"
)

// MaybeRunSubprocess checks whether this process was re-exec'd as a
// worker subprocess (os.Args[1] == SubprocessFlag) and, if so, runs it to
// completion and exits. Every straw-* main calls this first, before its
// normal flag parsing, so a single binary serves as both control-tier
// process and worker subprocess (spec.md §5 L2, §9).
//
// This is also where tracing gets set up: it is the only process in
// which job.go's request loop ever actually runs, so it is the only
// place a TracerProvider can take effect for a "job.request" span.
func MaybeRunSubprocess(logger *zap.Logger) {
	if len(os.Args) < 2 || os.Args[1] != SubprocessFlag {
		return
	}

	var shutdownTracing func(context.Context) error
	if cfg, err := config.Load(); err != nil {
		logger.Warn("worker subprocess: load config for tracing", zap.Error(err))
	} else if shutdown, err := observability.SetupTracing(cfg.OTLPEndpoint, cfg.OTELServiceName, logger); err != nil {
		logger.Warn("worker subprocess: tracing disabled", zap.Error(err))
	} else {
		shutdownTracing = shutdown
	}

	err := RunSubprocess(os.Stdin, os.Stdout, logger)

	if shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
			logger.Error("worker subprocess: tracing shutdown", zap.Error(shutdownErr))
		}
		cancel()
	}

	if err != nil {
		logger.Error("worker subprocess exited with error", zap.Error(err))
		os.Exit(1)
	}
	os.Exit(0)
}
