package job

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"straw/internal/straw/analysable"
	"straw/internal/straw/protocol"
)

func TestHttpGetJobRecordsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	j := newHTTPJob(srv.URL, protocol.MethodGET, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	j.Base.Stop()
	cancel()
	<-done

	if err := j.Base.Analyse(); err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	total, _ := j.TotalRequest()
	success, _ := j.SuccessRequest()
	if total == 0 {
		t.Fatal("expected at least one request")
	}
	if success != total {
		t.Fatalf("success=%d total=%d, want all successful", success, total)
	}
}

func TestHttpGetJobIsActuallyGet(t *testing.T) {
	// Regression for the original source's HttpGetJob.job() typo
	// (spec.md open question (a)): GET containers must issue GET, not POST.
	var sawMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	container := NewContainer(KindHttpGet, srv.URL)
	j, err := container.Job()
	if err != nil {
		t.Fatalf("Job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()
	time.Sleep(30 * time.Millisecond)
	j.Base.Stop()
	cancel()
	<-done

	if sawMethod != http.MethodGet {
		t.Fatalf("server observed method %q, want GET", sawMethod)
	}
}

func TestHttpJobWithNilDataStillIssuesRequests(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	j := newHTTPJob(srv.URL, protocol.MethodGET, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()
	time.Sleep(30 * time.Millisecond)
	j.Base.Stop()
	cancel()
	<-done

	if atomic.LoadInt32(&hits) == 0 {
		t.Fatal("job with nil data issued no requests")
	}
}

func TestHttpPostJobCyclesDataIterator(t *testing.T) {
	seen := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		select {
		case seen <- string(buf):
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	data := []any{map[string]any{"i": 0.0}, map[string]any{"i": 1.0}}
	j := newHTTPJob(srv.URL, protocol.MethodPOST, data, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()
	time.Sleep(80 * time.Millisecond)
	j.Base.Stop()
	cancel()
	<-done

	got := make(map[string]bool)
	for len(seen) > 0 {
		got[<-seen] = true
	}
	if !got[`{"i":0}`] || !got[`{"i":1}`] {
		t.Fatalf("payloads observed = %v, want both {\"i\":0} and {\"i\":1}", got)
	}
}

func TestJobWrongStatusGuard(t *testing.T) {
	j := newHTTPJob("http://example.invalid", protocol.MethodGET, nil, nil, nil, nil)
	if _, err := j.TotalRequest(); err == nil {
		t.Fatal("TotalRequest on a fresh job should fail before ANALYSED")
	}
	if j.Status() != analysable.Init {
		t.Fatalf("fresh job status = %s, want INIT", j.Status())
	}
}
