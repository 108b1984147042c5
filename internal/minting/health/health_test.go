package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
	"github.com/vietddude/badgeminter/internal/infra/storage/memory"
	"github.com/vietddude/badgeminter/internal/minting/queue"
	"github.com/vietddude/badgeminter/internal/minting/recovery"
)

type stubHead struct {
	block uint64
	err   error
}

func (s stubHead) LatestBlock(ctx context.Context) (uint64, error) { return s.block, s.err }

type stubProviders map[string]provider.HealthStatus

func (s stubProviders) Health() map[string]provider.HealthStatus { return s }

type stubQueue struct{ stats queue.Stats }

func (s stubQueue) Stats() queue.Stats { return s.stats }

type stubRecoverer struct {
	manualFrom, manualTo uint64
	result               *recovery.Result
	err                  error
}

func (s *stubRecoverer) Recover(ctx context.Context) (*recovery.Result, error) {
	return s.result, s.err
}

func (s *stubRecoverer) ManualRecovery(ctx context.Context, from, to uint64) (*recovery.Result, error) {
	s.manualFrom, s.manualTo = from, to
	if from > to {
		return nil, domain.ErrInvalidRange
	}
	return s.result, s.err
}

type stubProofs struct {
	got map[string][]byte
}

func (s *stubProofs) SubmitProof(ctx context.Context, id string, data []byte) error {
	if id == "missing" {
		return domain.ErrAttemptNotFound
	}
	s.got[id] = data
	return nil
}

func TestMonitor_Statuses(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		store, _ := memory.NewStore()
		m := NewMonitor(MonitorConfig{
			Store:     store,
			Head:      stubHead{block: 42},
			Providers: stubProviders{"a": {Available: true}},
			Queue:     stubQueue{queue.Stats{QueueSize: 3}},
		})
		r := m.CheckHealth(ctx)
		assert.Equal(t, StatusHealthy, r.Status)
		assert.Equal(t, uint64(42), r.LatestBlock)
		assert.Equal(t, 3, r.Queue.QueueSize)
	})

	t.Run("abandoned attempts degrade", func(t *testing.T) {
		store, _ := memory.NewStore()
		_, err := store.Attempts.Insert(ctx, &domain.Attempt{
			PlayerAddress: "0x01", RunID: "r", Status: domain.AttemptStatusAbandoned,
		})
		require.NoError(t, err)

		r := NewMonitor(MonitorConfig{Store: store}).CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, r.Status)
		assert.Equal(t, 1, r.Attempts[domain.AttemptStatusAbandoned])
	})

	t.Run("store down is critical", func(t *testing.T) {
		store, _ := memory.NewStore()
		store.Ping = func(context.Context) error { return errors.New("connection refused") }

		r := NewMonitor(MonitorConfig{Store: store, Head: stubHead{err: errors.New("timeout")}}).CheckHealth(ctx)
		assert.Equal(t, StatusCritical, r.Status)
		assert.Equal(t, StatusDegraded, r.Components["chain"].Status)
	})

	t.Run("no providers available is critical", func(t *testing.T) {
		r := NewMonitor(MonitorConfig{
			Providers: stubProviders{"a": {Available: false}, "b": {Available: false}},
		}).CheckHealth(ctx)
		assert.Equal(t, StatusCritical, r.Status)
	})
}

func TestMonitor_CachesProbes(t *testing.T) {
	calls := 0
	store, _ := memory.NewStore()
	store.Ping = func(context.Context) error {
		calls++
		return nil
	}
	m := NewMonitor(MonitorConfig{Store: store, CacheFor: time.Hour})

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	assert.Equal(t, 1, calls)
}

func TestServer_Health(t *testing.T) {
	store, _ := memory.NewStore()
	store.Ping = func(context.Context) error { return errors.New("down") }
	srv := NewServer(NewMonitor(MonitorConfig{Store: store}), nil, nil, 0, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"critical"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Admin endpoints are only mounted when wired.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/recover", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	m := NewMonitor(MonitorConfig{Queue: stubQueue{queue.Stats{QueueSize: 2, ByRetryCount: map[int]int{1: 2}}}})
	srv := NewServer(m, nil, nil, 0, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Queue.QueueSize)
	assert.Equal(t, 2, report.Queue.ByRetryCount[1])
}

func TestServer_Recover(t *testing.T) {
	rc := &stubRecoverer{result: &recovery.Result{FromBlock: 1, ToBlock: 9, Found: 2}}
	srv := NewServer(NewMonitor(MonitorConfig{}), rc, nil, 0, nil)

	do := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		return rec
	}

	rec := do("/admin/recover")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"found":2`)

	rec = do("/admin/recover?from=100&to=200")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(100), rc.manualFrom)
	assert.Equal(t, uint64(200), rc.manualTo)

	assert.Equal(t, http.StatusBadRequest, do("/admin/recover?from=100").Code)
	assert.Equal(t, http.StatusBadRequest, do("/admin/recover?from=x&to=1").Code)
	assert.Equal(t, http.StatusBadRequest, do("/admin/recover?from=9&to=1").Code)

	rc.result = &recovery.Result{Skipped: true}
	assert.Equal(t, http.StatusConflict, do("/admin/recover").Code)
}

func TestServer_SubmitProof(t *testing.T) {
	proofs := &stubProofs{got: map[string][]byte{}}
	srv := NewServer(NewMonitor(MonitorConfig{}), nil, proofs, 0, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/attempts/a-1/proof", strings.NewReader(`{"pi":1}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []byte(`{"pi":1}`), proofs.got["a-1"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/attempts/missing/proof", strings.NewReader("x")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGRPCServer_ReportsServing(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := NewGRPCServer(0, nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- g.Serve(lis) }()
	defer func() {
		g.Stop()
		select {
		case err := <-serveErr:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
		}
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	g.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
