package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/analysable"
	"straw/internal/straw/balancer"
	"straw/internal/straw/id"
	"straw/internal/straw/job"
	"straw/internal/straw/observability"
)

// Manager owns a fixed pool of Workers, fans job containers out to them,
// and aggregates their subprocess results into one AnalyseResult. Unlike
// Session/Job, Manager is not itself Analysable — it is a pure
// IManager-style orchestrator, matching the original design where the
// worker pool's own lifecycle is bookkeeping rather than a roll-up
// participant (spec.md §3).
type Manager struct {
	id         string
	binaryPath string
	workers    []*Worker
	balancer   balancer.Balancer[*Worker]
	queue      chan Message
	timeout    time.Duration
	check      time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics

	result *analysable.Result
}

// NewManager builds a Manager with workerNum workers, clamped to
// [1, 2*NumCPU] (spec.md §4.6's worker-count boundary). workerNum <= 0
// selects NumCPU. weights assigns weights[i] to worker i (matching the
// original's per-worker Worker(weight=...) constructor argument);
// missing entries repeat the last given weight, and an empty/all-1
// weights slice keeps the pool on plain RoundRobin rather than paying
// for WeightedRoundRobin's expansion for no behavioral difference.
func NewManager(workerNum int, weights []int, binaryPath string, timeout, check time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	cpu := runtime.NumCPU()
	if workerNum <= 0 {
		workerNum = cpu
	}
	max := 2 * cpu
	if workerNum > max {
		workerNum = max
	}
	if workerNum < 1 {
		workerNum = 1
	}

	m := &Manager{
		id:         id.Namespaced("WorkerManager"),
		binaryPath: binaryPath,
		timeout:    timeout,
		check:      check,
		logger:     logger,
		metrics:    metrics,
		queue:      make(chan Message, 2*workerNum),
	}
	uniform := true
	for i := 0; i < workerNum; i++ {
		w := weightAt(weights, i)
		if w != 1 {
			uniform = false
		}
		m.workers = append(m.workers, newWorker(w))
	}
	if uniform {
		m.balancer = &balancer.RoundRobin[*Worker]{}
	} else {
		m.balancer = &balancer.WeightedRoundRobin[*Worker]{}
	}
	return m
}

// weightAt returns the weight assigned to pool position i: weights[i] if
// present, otherwise the last entry in weights, otherwise 1. A
// non-positive entry falls back to 1 rather than making a worker
// unchoosable by WeightedRoundRobin.
func weightAt(weights []int, i int) int {
	if len(weights) == 0 {
		return 1
	}
	w := weights[len(weights)-1]
	if i < len(weights) {
		w = weights[i]
	}
	if w < 1 {
		return 1
	}
	return w
}

// ID returns the manager's host-scoped identifier.
func (m *Manager) ID() string { return m.id }

// WorkerCount reports the size of the pool.
func (m *Manager) WorkerCount() int { return len(m.workers) }

// Dispatch routes a job container to one or all workers: containers with
// ReuseJob false fan out to every worker (so each gets its own
// independently built Job), containers with ReuseJob true go to exactly
// one worker chosen by round robin (spec.md §4.5, §4.6).
func (m *Manager) Dispatch(c *job.Container) error {
	if len(m.workers) == 0 {
		return fmt.Errorf("straw: worker manager has no workers")
	}
	if !c.ReuseJob {
		for _, w := range m.workers {
			if err := w.Dispatch(c); err != nil {
				return err
			}
		}
		return nil
	}
	w := m.balancer.Choose(m.workers)
	return w.Dispatch(c)
}

// Start spawns a subprocess for every worker that received at least one
// job container. Workers with zero containers never spawn (spec.md
// §4.6's boundary case).
func (m *Manager) Start() error {
	for _, w := range m.workers {
		if w.jobCount() == 0 {
			continue
		}
		if err := w.Start(m.binaryPath, int(m.timeout.Seconds()), int(m.check.Seconds()), m.queue, m.logger); err != nil {
			return fmt.Errorf("straw: worker manager %s: %w", m.id, err)
		}
	}
	if m.metrics != nil {
		m.metrics.WorkerActive.Set(float64(m.activeCount()))
	}
	return nil
}

func (m *Manager) activeCount() int {
	n := 0
	for _, w := range m.workers {
		if w.Active() {
			n++
		}
	}
	return n
}

// Stop signals every active worker to stop, drains exactly one result per
// active worker (bounded by timeout+slack when a finite timeout is set),
// and merges them into the manager's AnalyseResult. It is safe to call
// Stop even when no worker ever started: the merged result is then a
// zero-valued stub. Because this rewrite gives each worker its own
// stdin/stdout pipe rather than sharing one multiprocessing.Queue for
// both directions, there is no possibility of a "foreign kind" message
// needing to be re-enqueued — the queue here only ever carries "result"
// messages (see message.go), which sidesteps the live-spin hazard the
// original single-queue design invites.
func (m *Manager) Stop() error {
	active := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if w.Active() {
			active = append(active, w)
		}
	}
	for _, w := range active {
		if err := w.SendStop(); err != nil {
			m.logger.Warn("worker manager: send stop failed", zap.String("worker_id", w.ID()), zap.Error(err))
		}
	}

	results := make([]*analysable.Result, 0, len(active))
	remaining := len(active)

	var deadline <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout + 5*time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	for remaining > 0 {
		select {
		case msg := <-m.queue:
			if msg.Kind != "result" {
				continue
			}
			var r analysable.Result
			if err := json.Unmarshal(msg.Payload, &r); err != nil {
				m.logger.Warn("worker manager: malformed result payload", zap.Error(err))
				remaining--
				continue
			}
			results = append(results, &r)
			remaining--
		case <-deadline:
			m.logger.Warn("worker manager: stop deadline exceeded, proceeding with partial results",
				zap.Int("received", len(results)), zap.Int("expected", len(active)))
			remaining = 0
		}
	}

	if m.metrics != nil {
		m.metrics.WorkerActive.Set(0)
		m.metrics.QueueDepth.Set(float64(len(m.queue)))
	}

	reapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer cancel()
		for _, w := range active {
			_ = w.Wait(reapCtx)
		}
	}()

	if len(results) == 0 {
		m.result = &analysable.Result{ID: m.id}
		return nil
	}
	merged, err := analysable.FromResults(m.id, results)
	if err != nil {
		return fmt.Errorf("straw: worker manager %s: %w", m.id, err)
	}
	m.result = merged
	return nil
}

// Result returns the merged AnalyseResult, or nil before Stop completes.
func (m *Manager) Result() *analysable.Result { return m.result }
