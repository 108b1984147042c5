package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/badgeminter/internal/core/config"
	"github.com/vietddude/badgeminter/internal/core/worker"
	"github.com/vietddude/badgeminter/internal/infra/chain/evm"
	"github.com/vietddude/badgeminter/internal/infra/proof"
	redisclient "github.com/vietddude/badgeminter/internal/infra/redis"
	"github.com/vietddude/badgeminter/internal/infra/rpc"
	"github.com/vietddude/badgeminter/internal/infra/storage"
	"github.com/vietddude/badgeminter/internal/infra/storage/memory"
	"github.com/vietddude/badgeminter/internal/infra/storage/postgres"
	"github.com/vietddude/badgeminter/internal/minting/completion"
	"github.com/vietddude/badgeminter/internal/minting/health"
	"github.com/vietddude/badgeminter/internal/minting/queue"
	"github.com/vietddude/badgeminter/internal/minting/recovery"
)

// Minter is the main application struct that manages the minting lifecycle.
type Minter struct {
	cfg     config.AppConfig
	store   *storage.Store
	db      *postgres.DB
	redis   *redisclient.Client
	rpc     *rpc.Client
	backend backend
	lease   Lease

	queue      *queue.Queue
	completion *completion.Handler
	scanner    *recovery.Scanner
	pruner     *worker.Pruner
	monitor    *health.Monitor
	server     *health.Server
	grpc       *health.GRPCServer

	log *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    <-chan struct{}
}

// OpenStore connects to PostgreSQL and runs migrations when a database URL
// is configured, and falls back to in-memory storage otherwise.
func OpenStore(ctx context.Context, cfg postgres.Config, logger *slog.Logger) (*storage.Store, *postgres.DB, error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, using in-memory storage; attempts will not survive a restart")
		store, _ := memory.NewStore()
		return store, nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := postgres.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	logger.Info("using PostgreSQL storage")
	return postgres.NewStore(db), db, nil
}

// NewMinter creates a Minter with all dependencies initialized.
func NewMinter(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (*Minter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Minter{cfg: cfg, log: logger}

	// 1. Storage
	store, db, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	m.store, m.db = store, db

	// 2. Chain access
	m.rpc = rpc.NewHTTPClient(cfg.Chain.Providers, cfg.Chain.RequestTimeout, logger)
	logs, err := evm.NewLogSource(m.rpc, cfg.Chain.GameContract, logger)
	if err != nil {
		m.closeAll()
		return nil, fmt.Errorf("log source: %w", err)
	}

	m.backend, err = newBackend(cfg, m.rpc, logger)
	if err != nil {
		m.closeAll()
		return nil, fmt.Errorf("mint backend: %w", err)
	}
	logger.Info("mint backend ready", "backend", m.backend.Name(), "account", m.backend.Address())

	// 3. Coordination: signer lease and proof nullifiers
	leaseName := "signer:" + m.backend.Address()
	if cfg.Redis.URL != "" {
		m.redis, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		m.lease = m.redis.NewLease(leaseName, leaseOwner(), cfg.Minter.LeaseTTL)
	} else {
		logger.Warn("no redis configured, signer lease is process-local")
		m.lease = localLease{ttl: cfg.Minter.LeaseTTL}
	}
	registry := nullifierRegistry(store, db != nil, m.redis)

	// 4. Proof verification
	var verifier queue.Verifier
	if cfg.Proof.URL != "" {
		httpVerifier, err := proof.NewHTTPVerifier(cfg.Proof)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("proof verifier: %w", err)
		}
		verifier = proof.NewGuard(httpVerifier, registry, logger)
	} else {
		logger.Warn("no proof verifier configured, high-tier attempts will wait in pending_verification")
	}

	// 5. Minting pipeline
	m.queue = queue.New(cfg.Queue, store.Attempts, m.backend, verifier, queue.WithLogger(logger))
	m.completion = completion.NewHandler(store.Runs, cfg.Completion, logger)
	m.scanner, err = recovery.New(cfg.Recovery, logs, store, m.completion, m.queue, recovery.WithLogger(logger))
	if err != nil {
		m.closeAll()
		return nil, fmt.Errorf("recovery scanner: %w", err)
	}
	m.pruner = worker.NewPruner(cfg.Retention, store.MissedEvents, logger)

	// 6. Health and operations surface
	m.monitor = health.NewMonitor(health.MonitorConfig{
		Store:     store,
		Head:      logs,
		Providers: m.rpc,
		Queue:     m.queue,
		Recovery:  m.scanner,
	})
	m.server = health.NewServer(m.monitor, m.scanner, m.queue, cfg.Server.Port, logger)
	m.grpc = health.NewGRPCServer(cfg.Server.GRPCPort, logger)

	return m, nil
}

// nullifierRegistry prefers the database, then Redis. Only the fully
// in-memory mode keeps nullifiers in process.
func nullifierRegistry(store *storage.Store, durable bool, rc *redisclient.Client) proof.NullifierRegistry {
	if durable || rc == nil {
		return store.Nullifiers
	}
	return rc.NewNullifierRegistry()
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Queue returns the retry queue.
func (m *Minter) Queue() *queue.Queue { return m.queue }

// Completion returns the run completion handler.
func (m *Minter) Completion() *completion.Handler { return m.completion }

// Scanner returns the recovery scanner.
func (m *Minter) Scanner() *recovery.Scanner { return m.scanner }

// Monitor returns the health monitor.
func (m *Minter) Monitor() *health.Monitor { return m.monitor }

// Done is closed when a background component fails, for example when the
// signer lease is lost. It is nil before Start.
func (m *Minter) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Start acquires the signer lease, reloads unfinished attempts and starts
// the queue, recovery, pruning and servers. It returns once everything is running.
func (m *Minter) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("minter already started")
	}

	ok, err := m.lease.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire signer lease: %w", err)
	}
	if !ok {
		return ErrLeaseHeld
	}

	n, err := m.queue.LoadPendingAttempts(ctx)
	if err != nil {
		_ = m.lease.Release(ctx)
		return fmt.Errorf("load pending attempts: %w", err)
	}
	m.log.Info("loaded pending attempts", "count", n)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, gctx := errgroup.WithContext(runCtx)
	m.cancel, m.group, m.done = cancel, group, gctx.Done()
	m.started = true

	if m.db != nil {
		m.db.StartMetricsCollector(runCtx)
	}

	if err := m.queue.Start(runCtx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	if err := m.pruner.Start(runCtx); err != nil {
		return fmt.Errorf("start pruner: %w", err)
	}

	group.Go(func() error {
		return renewLease(gctx, m.lease, func(err error) {
			m.log.Warn("signer lease renewal failed", "error", err)
		})
	})
	group.Go(m.server.Start)
	group.Go(m.grpc.Start)

	if m.cfg.Recovery.OnStartup {
		group.Go(func() error {
			res, err := m.scanner.Recover(gctx)
			if err != nil {
				m.log.Error("startup recovery failed", "error", err)
				return nil
			}
			m.log.Info("startup recovery finished",
				"from", res.FromBlock, "to", res.ToBlock,
				"found", res.Found, "enqueued", res.Enqueued, "failed", res.Failed)
			return nil
		})
	}

	m.grpc.SetServing(true)
	m.log.Info("minter started",
		"backend", m.backend.Name(),
		"http_port", m.cfg.Server.Port,
		"grpc_port", m.cfg.Server.GRPCPort)
	return nil
}

// Stop shuts components down in dependency order and releases the lease.
// The returned error joins every failure, including the background error
// that closed Done.
func (m *Minter) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info("stopping minter")
	var errs []error

	if m.started {
		m.grpc.Stop()
		if err := m.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := m.queue.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
		m.pruner.Stop(ctx)

		m.cancel()
		if err := m.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		if err := m.lease.Release(ctx); err != nil {
			errs = append(errs, err)
		}
		m.started = false
	}

	m.closeAll()
	return errors.Join(errs...)
}

func (m *Minter) closeAll() {
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.log.Warn("failed to close redis", "error", err)
		}
		m.redis = nil
	}
	if m.rpc != nil {
		_ = m.rpc.Close()
		m.rpc = nil
	}
	if m.store != nil && m.store.Close != nil {
		if err := m.store.Close(); err != nil {
			m.log.Warn("failed to close store", "error", err)
		}
		m.store.Close = nil
	}
}
