package worker

import (
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/job"
)

func TestNewManagerClampsWorkerCount(t *testing.T) {
	m := NewManager(0, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	if m.WorkerCount() != runtime.NumCPU() {
		t.Fatalf("workerNum<=0 should default to NumCPU, got %d", m.WorkerCount())
	}

	max := 2 * runtime.NumCPU()
	m = NewManager(max+50, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	if m.WorkerCount() != max {
		t.Fatalf("worker count = %d, want clamped to %d", m.WorkerCount(), max)
	}

	m = NewManager(-3, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	if m.WorkerCount() < 1 {
		t.Fatal("worker count must never be < 1")
	}
}

func TestDispatchFansOutNonReusedContainers(t *testing.T) {
	m := NewManager(3, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	c := job.NewContainer(job.KindHttpGet, "http://example.invalid", job.WithReuseJob(false))
	if err := m.Dispatch(c); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, w := range m.workers {
		if w.jobCount() != 1 {
			t.Fatalf("worker %s got %d containers, want 1 (fan-out)", w.ID(), w.jobCount())
		}
	}
}

func TestDispatchRoundRobinsReusedContainers(t *testing.T) {
	m := NewManager(3, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	for i := 0; i < 6; i++ {
		c := job.NewContainer(job.KindHttpGet, "http://example.invalid")
		if err := m.Dispatch(c); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	total := 0
	for _, w := range m.workers {
		total += w.jobCount()
		if w.jobCount() != 2 {
			t.Fatalf("worker %s got %d containers, want 2 (even round robin)", w.ID(), w.jobCount())
		}
	}
	if total != 6 {
		t.Fatalf("total dispatched = %d, want 6", total)
	}
}

func TestDispatchWeightsReusedContainersByWorkerWeight(t *testing.T) {
	m := NewManager(2, []int{1, 3}, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	for i := 0; i < 8; i++ {
		c := job.NewContainer(job.KindHttpGet, "http://example.invalid")
		if err := m.Dispatch(c); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if got := m.workers[0].jobCount(); got != 2 {
		t.Fatalf("weight-1 worker got %d containers, want 2 of 8 (1:3 split)", got)
	}
	if got := m.workers[1].jobCount(); got != 6 {
		t.Fatalf("weight-3 worker got %d containers, want 6 of 8 (1:3 split)", got)
	}
}

func TestStopWithNoActiveWorkersYieldsZeroResult(t *testing.T) {
	m := NewManager(2, nil, "/bin/true", 0, time.Second, zap.NewNop(), nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	result := m.Result()
	if result == nil {
		t.Fatal("Result() is nil after Stop")
	}
	if result.TotalRequest != 0 {
		t.Fatalf("TotalRequest = %d, want 0 when no worker ever dispatched a job", result.TotalRequest)
	}
}
