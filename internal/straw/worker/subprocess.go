package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/analysable"
	"straw/internal/straw/id"
	"straw/internal/straw/job"
)

// RunSubprocess is the worker subprocess entry point: it reads one init
// line describing its job descriptors from stdin, runs each job's
// request loop concurrently until stopped, and writes exactly one
// "result" message to stdout before returning (spec.md §4.6, §5 L2).
//
// A Job's request loop only notices a stop at its next iteration
// boundary — there is no pre-emptive cancellation of an in-flight
// request, so both stop triggers below race harmlessly against whatever
// requests are already in flight.
func RunSubprocess(stdin io.Reader, stdout io.Writer, logger *zap.Logger) error {
	reader := bufio.NewReaderSize(stdin, 4*1024*1024)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("straw: worker subprocess: read init: %w", err)
	}

	var init initMessage
	if err := json.Unmarshal([]byte(line), &init); err != nil {
		return fmt.Errorf("straw: worker subprocess: decode init: %w", err)
	}

	jobs := make([]*job.Job, 0, len(init.Descriptors))
	for _, raw := range init.Descriptors {
		var d job.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("straw: worker subprocess: decode descriptor: %w", err)
		}
		container, err := job.FromDescriptor(&d)
		if err != nil {
			return fmt.Errorf("straw: worker subprocess: %w", err)
		}
		j, err := container.Job()
		if err != nil {
			return fmt.Errorf("straw: worker subprocess: %w", err)
		}
		jobs = append(jobs, j)
	}

	jobManager := &analysable.Container[*analysable.Base]{}
	for _, j := range jobs {
		jobManager.Add(j.Base)
	}
	base := analysable.NewBase(id.Namespaced("Worker"), jobManager)
	if err := base.Start(); err != nil {
		return fmt.Errorf("straw: worker subprocess: %w", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			if err := j.Start(ctx); err != nil {
				logger.Warn("worker subprocess: job loop exited with error", zap.String("job_id", j.ID()), zap.Error(err))
			}
		}(j)
	}

	var once sync.Once
	report := func() {
		once.Do(func() {
			if err := base.Stop(); err != nil {
				logger.Error("worker subprocess: stop failed", zap.Error(err))
				return
			}
			if err := base.Analyse(); err != nil {
				logger.Error("worker subprocess: analyse failed", zap.Error(err))
				return
			}
			payload, err := json.Marshal(base.Result())
			if err != nil {
				logger.Error("worker subprocess: marshal result failed", zap.Error(err))
				return
			}
			msg := Message{Kind: "result", Payload: payload}
			out, err := json.Marshal(msg)
			if err != nil {
				logger.Error("worker subprocess: marshal message failed", zap.Error(err))
				return
			}
			fmt.Fprintf(stdout, "%s\n", out)
		})
	}

	if init.TimeoutSeconds > 0 {
		go func() {
			timer := time.NewTimer(time.Duration(init.TimeoutSeconds) * time.Second)
			defer timer.Stop()
			<-timer.C
			report()
		}()
	}

	go func() {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			var msg Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			if msg.Kind == "stop" {
				report()
				return
			}
		}
	}()

	wg.Wait()
	return nil
}
