package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
	"github.com/vietddude/badgeminter/internal/infra/storage"
	"github.com/vietddude/badgeminter/internal/minting/queue"
)

// HeadFetcher returns the chain head.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// ProviderHealth reports RPC provider state.
type ProviderHealth interface {
	Health() map[string]provider.HealthStatus
}

// QueueStats exposes the queue's working-set snapshot.
type QueueStats interface {
	Stats() queue.Stats
}

// RecoveryState reports whether a recovery is running.
type RecoveryState interface {
	Running() bool
}

// MonitorConfig wires the monitor's dependencies. Nil fields are skipped.
type MonitorConfig struct {
	Store     *storage.Store
	Head      HeadFetcher
	Providers ProviderHealth
	Queue     QueueStats
	Recovery  RecoveryState

	// CacheFor bounds how often dependencies are probed.
	CacheFor time.Duration
}

// Monitor aggregates health status from the minter's components.
type Monitor struct {
	cfg        MonitorConfig
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.CacheFor <= 0 {
		cfg.CacheFor = 10 * time.Second
	}
	return &Monitor{cfg: cfg}
}

// CheckHealth probes dependencies, at most once per CacheFor.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cfg.CacheFor {
		return m.live(*m.lastReport)
	}

	r := Report{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth),
		CheckedAt:  time.Now(),
	}

	if store := m.cfg.Store; store != nil {
		c := ComponentHealth{Status: StatusHealthy}
		if store.Ping != nil {
			if err := store.Ping(ctx); err != nil {
				c = ComponentHealth{Status: StatusCritical, Error: err.Error()}
			}
		}
		if counts, err := store.Attempts.CountByStatus(ctx); err == nil {
			r.Attempts = counts
			// Abandoned attempts need an operator.
			if counts[domain.AttemptStatusAbandoned] > 0 && c.Status == StatusHealthy {
				c.Status = StatusDegraded
			}
		} else if c.Status == StatusHealthy {
			c = ComponentHealth{Status: StatusCritical, Error: err.Error()}
		}
		r.Components["store"] = c
	}

	if m.cfg.Head != nil {
		c := ComponentHealth{Status: StatusHealthy}
		latest, err := m.cfg.Head.LatestBlock(ctx)
		if err != nil {
			c = ComponentHealth{Status: StatusDegraded, Error: err.Error()}
		} else {
			r.LatestBlock = latest
		}
		r.Components["chain"] = c
	}

	if m.cfg.Providers != nil {
		r.Providers = m.cfg.Providers.Health()
		c := ComponentHealth{Status: StatusHealthy}
		available := 0
		for _, h := range r.Providers {
			if h.Available {
				available++
			}
		}
		switch {
		case len(r.Providers) > 0 && available == 0:
			c = ComponentHealth{Status: StatusCritical, Error: "no rpc provider available"}
		case available < len(r.Providers):
			c.Status = StatusDegraded
		}
		r.Components["rpc"] = c
	}

	for _, c := range r.Components {
		r.Status = worse(r.Status, c.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = &r
	return m.live(r)
}

// live fills in the fields that are cheap enough to read on every call.
func (m *Monitor) live(r Report) *Report {
	if m.cfg.Queue != nil {
		r.Queue = m.cfg.Queue.Stats()
	}
	if m.cfg.Recovery != nil {
		r.Recovering = m.cfg.Recovery.Running()
	}
	return &r
}
