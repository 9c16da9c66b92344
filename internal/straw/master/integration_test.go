package master_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"straw/internal/straw/job"
	"straw/internal/straw/master"
	"straw/internal/straw/slave"
	"straw/internal/straw/worker"
)

// TestMain lets this test binary double as the worker subprocess
// binary: when Worker spawns os.Args[0] with worker.SubprocessFlag, that
// re-exec'd process re-enters this same TestMain, runs the subprocess,
// and exits without ever calling m.Run(). This is the standard Go
// self-exec trick for testing code that spawns itself as a subprocess.
func TestMain(m *testing.M) {
	worker.MaybeRunSubprocess(zap.NewNop())
	os.Exit(m.Run())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestMasterSlaveHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := zap.NewNop()
	port := freePort(t)

	m := master.New(port, []string{"127.0.0.1"}, nil, logger)
	m.Dispatch(job.NewContainer(job.KindHttpGet, srv.URL))
	m.Dispatch(job.NewContainer(job.KindHttpGet, srv.URL))
	if err := m.Start(); err != nil {
		t.Fatalf("master.Start: %v", err)
	}

	sl := slave.New(fmt.Sprintf("ws://127.0.0.1:%d/slave/", port), os.Args[0], 0, time.Second, logger, nil)
	slaveDone := make(chan error, 1)
	go func() { slaveDone <- sl.Start(context.Background()) }()

	select {
	case <-m.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("master never reached ready (slave did not register in time)")
	}

	time.Sleep(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("master.Stop: %v", err)
	}
	if result.TotalRequest == 0 {
		t.Fatal("aggregate result.TotalRequest = 0, want > 0")
	}
	if result.SuccessRequest != result.TotalRequest {
		t.Fatalf("success=%d total=%d, want all successful", result.SuccessRequest, result.TotalRequest)
	}

	select {
	case err := <-slaveDone:
		if err != nil {
			t.Fatalf("slave.Start returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("slave did not shut down after master stop")
	}
}
