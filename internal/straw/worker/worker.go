package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"straw/internal/straw/id"
	"straw/internal/straw/job"
)

// Worker is the parent-side handle for one worker subprocess: it collects
// the job containers dispatched to it before Start, then owns the
// spawned process's stdin/stdout once running. The actual request loops
// and Analysable bookkeeping live in the subprocess itself (see
// subprocess.go) — this struct never touches a job.Job directly, only
// job.Container descriptors, since a Job cannot cross the process
// boundary (spec.md §9).
type Worker struct {
	id     string
	weight int

	mu         sync.Mutex
	containers []*job.Container
	active     bool

	cmd   *exec.Cmd
	stdin *json.Encoder
}

func newWorker(weight int) *Worker {
	return &Worker{id: id.Namespaced("Worker"), weight: weight}
}

// ID returns the worker's host-scoped identifier.
func (w *Worker) ID() string { return w.id }

// Weight implements balancer.Dispatchable.
func (w *Worker) Weight() int { return w.weight }

// Dispatch queues a job container to be sent to this worker's subprocess
// at Start.
func (w *Worker) Dispatch(c *job.Container) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		return fmt.Errorf("straw: worker %s already started, cannot dispatch", w.id)
	}
	w.containers = append(w.containers, c)
	return nil
}

func (w *Worker) jobCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.containers)
}

// Start spawns the worker subprocess, a fresh invocation of binaryPath
// with SubprocessFlag, and begins streaming its result lines into out.
// A worker with zero dispatched containers spawns nothing (spec.md
// §4.6's boundary case) and Start returns nil.
func (w *Worker) Start(binaryPath string, timeoutSeconds, checkIntervalSeconds int, out chan<- Message, logger *zap.Logger) error {
	w.mu.Lock()
	containers := w.containers
	w.mu.Unlock()

	if len(containers) == 0 {
		return nil
	}

	descriptors := make([]descriptorJSON, 0, len(containers))
	for _, c := range containers {
		d, err := c.ToDescriptor()
		if err != nil {
			return fmt.Errorf("straw: worker %s: %w", w.id, err)
		}
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("straw: worker %s: marshal descriptor: %w", w.id, err)
		}
		descriptors = append(descriptors, raw)
	}

	cmd := exec.Command(binaryPath, SubprocessFlag)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("straw: worker %s: stdin pipe: %w", w.id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("straw: worker %s: stdout pipe: %w", w.id, err)
	}
	cmd.Stderr = zap.NewStdLog(logger).Writer()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("straw: worker %s: start subprocess: %w", w.id, err)
	}

	init := initMessage{
		Descriptors:          descriptors,
		TimeoutSeconds:       timeoutSeconds,
		CheckIntervalSeconds: checkIntervalSeconds,
	}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(init); err != nil {
		return fmt.Errorf("straw: worker %s: write init: %w", w.id, err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = enc
	w.active = true
	w.mu.Unlock()

	go w.drain(stdout, out, logger)

	return nil
}

func (w *Worker) drain(stdout io.Reader, out chan<- Message, logger *zap.Logger) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			logger.Warn("worker: malformed message from subprocess", zap.String("worker_id", w.id), zap.Error(err))
			continue
		}
		out <- msg
	}
}

// SendStop writes a "stop" message to the subprocess's stdin, the L2
// notice trigger (spec.md §4.6). A no-op if the worker never started.
func (w *Worker) SendStop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || w.stdin == nil {
		return nil
	}
	return w.stdin.Encode(Message{Kind: "stop"})
}

// Wait blocks until the subprocess exits.
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether this worker actually spawned a subprocess.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
