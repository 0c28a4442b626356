package gridmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
)

type recordedRequest struct {
	Path string
	Body map[string]any
}

type fakeGridManager struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   atomic.Int32
}

func (f *fakeGridManager) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Body: body})
		f.mu.Unlock()

		if status := int(f.status.Load()); status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/gridmanager"+RegisterPath {
			_, _ = w.Write([]byte(`{"input_sources":[{"address":"10.0.0.2:4000","port":"out"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
}

func (f *fakeGridManager) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeGridManager, *monitoring.Metrics) {
	t.Helper()
	fake := &fakeGridManager{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg.Address = srv.URL + "/gridmanager/"
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	metrics := monitoring.NewMetrics()
	return New(cfg, zap.NewNop(), metrics), fake, metrics
}

func TestRegisterRunner(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{})

	sources, err := client.RegisterRunner(context.Background(), Registration{
		RunnerID: "r-1",
		Address:  "10.0.0.1:5000",
		BrickUID: "B1",
	})
	require.NoError(t, err)
	assert.Equal(t, []Source{{Address: "10.0.0.2:4000", Port: "out"}}, sources)

	calls := fake.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/gridmanager/runner/register", calls[0].Path)
	assert.Equal(t, map[string]any{"runner_id": "r-1", "address": "10.0.0.1:5000", "brick_uid": "B1"}, calls[0].Body)
}

func TestDeregisterAndAlert(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{})

	require.NoError(t, client.DeregisterRunner(context.Background(), "r-1", "B1"))
	require.NoError(t, client.SendSlowQueueAlert(context.Background(), "B2", "G1"))

	calls := fake.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/gridmanager/runner/deregister", calls[0].Path)
	assert.Equal(t, map[string]any{"runner_id": "r-1", "brick_uid": "B1"}, calls[0].Body)
	assert.Equal(t, "/gridmanager/scaling/slow-queue", calls[1].Path)
	assert.Equal(t, map[string]any{"brick_id": "B2", "group_name": "G1"}, calls[1].Body)
}

func TestErrorStatus(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{})
	fake.status.Store(http.StatusBadRequest)

	_, err := client.RegisterRunner(context.Background(), Registration{RunnerID: "r-1"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestRetriesServerErrors(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{Retries: 2})
	fake.status.Store(http.StatusServiceUnavailable)

	err := client.DeregisterRunner(context.Background(), "r-1", "B1")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Len(t, fake.calls(), 3)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	client, fake, metrics := newTestClient(t, Config{
		Breaker: BreakerSettings{Failures: 2, Cooldown: time.Minute},
	})
	fake.status.Store(http.StatusInternalServerError)

	for i := 0; i < 2; i++ {
		assert.Error(t, client.DeregisterRunner(context.Background(), "r-1", "B1"))
	}
	assert.Equal(t, StateOpen, client.BreakerState())

	err := client.DeregisterRunner(context.Background(), "r-1", "B1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, fake.calls(), 2)

	assert.Equal(t, 3.0, testCounter(metrics, "deregister", "error"))
}

func TestAlertsAreRateLimited(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{AlertRPS: 1})

	require.NoError(t, client.SendSlowQueueAlert(context.Background(), "B2", "G1"))
	assert.ErrorIs(t, client.SendSlowQueueAlert(context.Background(), "B2", "G1"), ErrRateLimited)
	assert.Len(t, fake.calls(), 1)
}

func TestAlertLimitIsPerGroup(t *testing.T) {
	client, fake, _ := newTestClient(t, Config{AlertRPS: 1})
	ctx := context.Background()

	require.NoError(t, client.SendSlowQueueAlert(ctx, "B1", "G1"))
	require.NoError(t, client.SendSlowQueueAlert(ctx, "B2", "G2"))
	require.NoError(t, client.SendSlowQueueAlert(ctx, "B1", "G2"))
	assert.ErrorIs(t, client.SendSlowQueueAlert(ctx, "B2", "G2"), ErrRateLimited)
	assert.Len(t, fake.calls(), 3)
}

func TestUnreachableGridManager(t *testing.T) {
	client := New(Config{Address: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, zap.NewNop(), nil)

	_, err := client.RegisterRunner(context.Background(), Registration{RunnerID: "r-1"})
	assert.Error(t, err)
}

func testCounter(m *monitoring.Metrics, method, status string) float64 {
	return testutil.ToFloat64(m.GridManagerCalls.WithLabelValues(method, status))
}
