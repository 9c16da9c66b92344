package api

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"straw/internal/straw/auth"
)

type fakeStatus struct {
	id         string
	registered int
	expected   int
}

func (f fakeStatus) ID() string            { return f.id }
func (f fakeStatus) RegisteredSlaves() int { return f.registered }
func (f fakeStatus) ExpectedSlaves() int   { return f.expected }

func TestHealthzReportsHealthy(t *testing.T) {
	guard, err := auth.NewControllerGuard("")
	assert.NoError(t, err)
	app := New(fakeStatus{id: "m1"}, prometheus.NewRegistry(), guard, zap.NewNop())

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	assert.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestStatusRequiresControllerTokenWhenEnabled(t *testing.T) {
	guard, err := auth.NewControllerGuard("secret")
	assert.NoError(t, err)
	app := New(fakeStatus{id: "m1", registered: 1, expected: 2}, prometheus.NewRegistry(), guard, zap.NewNop())

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	assert.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("X-Controller-Token", "secret")
	resp, err = app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestMetricsServesPrometheusText(t *testing.T) {
	guard, err := auth.NewControllerGuard("")
	assert.NoError(t, err)
	app := New(fakeStatus{id: "m1"}, prometheus.NewRegistry(), guard, zap.NewNop())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	assert.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
