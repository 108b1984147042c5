package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/badgeminter/internal/core/config"
	"github.com/vietddude/badgeminter/internal/infra/rpc"
	"github.com/vietddude/badgeminter/internal/infra/storage/memory"
	"github.com/vietddude/badgeminter/internal/minting/health"
)

func newRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result any
		switch req.Method {
		case "eth_blockNumber":
			result = "0x10"
		case "eth_getLogs":
			result = []any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := config.Default()
	cfg.Server = config.ServerConfig{Port: 0, GRPCPort: 0}
	cfg.Chain.ChainID = 8453
	cfg.Chain.GameContract = "0x00000000000000000000000000000000000000aa"
	cfg.Chain.BadgeContract = "0x00000000000000000000000000000000000000bb"
	cfg.Chain.Providers = []rpc.ProviderConfig{{Name: "local", URL: newRPCServer(t).URL}}
	cfg.Minter.PrivateKey = hexutil.Encode(crypto.FromECDSA(key))
	cfg.Retention.MissedEvents = 0
	return cfg
}

type fakeLease struct {
	acquire  bool
	renew    bool
	renewErr error
}

func (l fakeLease) Acquire(context.Context) (bool, error) { return l.acquire, nil }
func (l fakeLease) Renew(context.Context) (bool, error)   { return l.renew, l.renewErr }
func (l fakeLease) Release(context.Context) error         { return nil }
func (l fakeLease) TTL() time.Duration                    { return 30 * time.Millisecond }

func TestMinter_Lifecycle(t *testing.T) {
	m, err := NewMinter(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewMinter failed: %v", err)
	}
	if m.backend.Name() != config.BackendDirect {
		t.Errorf("expected direct backend, got %s", m.backend.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}

	report := m.Monitor().CheckHealth(ctx)
	if report.LatestBlock != 16 {
		t.Errorf("expected latest block 16, got %d", report.LatestBlock)
	}
	if report.Status != health.StatusHealthy {
		t.Errorf("expected healthy, got %s (%+v)", report.Status, report.Components)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestMinter_LeaseHeld(t *testing.T) {
	m, err := NewMinter(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewMinter failed: %v", err)
	}
	m.lease = fakeLease{acquire: false}

	if err := m.Start(context.Background()); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestMinter_LeaseLostClosesDone(t *testing.T) {
	m, err := NewMinter(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewMinter failed: %v", err)
	}
	m.lease = fakeLease{acquire: true, renew: false}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after the lease was lost")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost from Stop, got %v", err)
	}
}

func TestNewMinter_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Minter.Backend = "carrier-pigeon"

	if _, err := NewMinter(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewBackend_Managed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Minter.Backend = config.BackendManaged
	cfg.Minter.Managed.URL = "http://managed.invalid"
	cfg.Minter.Managed.BackendWallet = "0x00000000000000000000000000000000000000CC"

	b, err := newBackend(cfg, nil, nil)
	if err != nil {
		t.Fatalf("newBackend failed: %v", err)
	}
	if b.Name() != config.BackendManaged {
		t.Errorf("expected managed backend, got %s", b.Name())
	}
	if b.Address() != "0x00000000000000000000000000000000000000cc" {
		t.Errorf("unexpected backend wallet %s", b.Address())
	}
}

func TestRenewLease_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := renewLease(ctx, fakeLease{renew: true}, func(error) {}); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

func TestRenewLease_FailingRenewalsExpireLease(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lease := fakeLease{renewErr: errors.New("redis: connection refused")}
	failures := 0
	start := time.Now()
	err := renewLease(ctx, lease, func(error) { failures++ })
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("lease loss reported after %s, ttl is %s", elapsed, lease.TTL())
	}
	if failures == 0 {
		t.Error("expected renewal failures to be reported")
	}
}

func TestRenewLease_RecoversAfterTransientError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	lease := &flakyLease{failures: 1}
	if err := renewLease(ctx, lease, func(error) {}); err != nil {
		t.Fatalf("expected nil after ctx ended, got %v", err)
	}
}

// flakyLease fails its first renewals and then succeeds.
type flakyLease struct {
	failures int
}

func (l *flakyLease) Acquire(context.Context) (bool, error) { return true, nil }
func (l *flakyLease) Renew(context.Context) (bool, error) {
	if l.failures > 0 {
		l.failures--
		return false, errors.New("timeout")
	}
	return true, nil
}
func (l *flakyLease) Release(context.Context) error { return nil }
func (l *flakyLease) TTL() time.Duration            { return 30 * time.Millisecond }

func TestNullifierRegistry_UsesStore(t *testing.T) {
	store, _ := memory.NewStore()

	for _, durable := range []bool{true, false} {
		reg := nullifierRegistry(store, durable, nil)
		if reg != store.Nullifiers {
			t.Errorf("durable=%v: expected the store's nullifier repository", durable)
		}
	}

	ok, err := store.Nullifiers.Reserve(context.Background(), "0x01", "a-1")
	if err != nil || !ok {
		t.Fatalf("reserve failed: ok=%v err=%v", ok, err)
	}
	if ok, _ := nullifierRegistry(store, true, nil).Reserve(context.Background(), "0x01", "a-2"); ok {
		t.Error("expected the spent nullifier to be rejected for another attempt")
	}
}
