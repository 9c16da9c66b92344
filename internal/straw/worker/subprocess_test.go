package worker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/analysable"
	"straw/internal/straw/job"
)

func TestRunSubprocessRunsJobsAndReportsOnStop(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	container := job.NewContainer(job.KindHttpGet, srv.URL)
	descriptor, err := container.ToDescriptor()
	if err != nil {
		t.Fatalf("ToDescriptor: %v", err)
	}
	rawDescriptor, err := json.Marshal(descriptor)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}

	init := initMessage{
		Descriptors:          []descriptorJSON{rawDescriptor},
		TimeoutSeconds:       0,
		CheckIntervalSeconds: 1,
	}
	initLine, err := json.Marshal(init)
	if err != nil {
		t.Fatalf("marshal init: %v", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.Write(append(initLine, '\n'))
		time.Sleep(40 * time.Millisecond)
		stopLine, _ := json.Marshal(Message{Kind: "stop"})
		pw.Write(append(stopLine, '\n'))
		pw.Close()
	}()

	var stdout strings.Builder
	if err := RunSubprocess(pr, &stdout, zap.NewNop()); err != nil {
		t.Fatalf("RunSubprocess: %v", err)
	}

	if atomic.LoadInt32(&hits) == 0 {
		t.Fatal("subprocess issued no requests before stopping")
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one stdout line, got %d: %q", len(lines), stdout.String())
	}

	var msg Message
	if err := json.Unmarshal([]byte(lines[0]), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Kind != "result" {
		t.Fatalf("kind = %q, want result", msg.Kind)
	}

	var result analysable.Result
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.TotalRequest == 0 {
		t.Fatal("result.TotalRequest = 0, want > 0")
	}
	if result.SuccessRequest != result.TotalRequest {
		t.Fatalf("success=%d total=%d, want all successful", result.SuccessRequest, result.TotalRequest)
	}
}

func TestRunSubprocessReportsOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	container := job.NewContainer(job.KindHttpGet, srv.URL)
	descriptor, _ := container.ToDescriptor()
	rawDescriptor, _ := json.Marshal(descriptor)

	init := initMessage{
		Descriptors:          []descriptorJSON{rawDescriptor},
		TimeoutSeconds:       1,
		CheckIntervalSeconds: 1,
	}
	initLine, _ := json.Marshal(init)

	pr, pw := io.Pipe()
	go func() {
		pw.Write(append(initLine, '\n'))
		// No explicit stop: the subprocess's own timeout trigger must fire.
	}()
	defer pw.Close()

	var stdout strings.Builder
	done := make(chan error, 1)
	go func() { done <- RunSubprocess(pr, &stdout, zap.NewNop()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSubprocess: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subprocess did not report after its own timeout")
	}

	if !strings.Contains(stdout.String(), `"kind":"result"`) {
		t.Fatalf("stdout missing result message: %q", stdout.String())
	}
}
