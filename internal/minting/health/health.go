// Package health reports the minter's health over HTTP and gRPC and exposes
// the operator endpoints.
package health

import (
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
	"github.com/vietddude/badgeminter/internal/minting/queue"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Report is the full health report.
type Report struct {
	Status      SystemStatus                     `json:"status"`
	Components  map[string]ComponentHealth       `json:"components"`
	Queue       queue.Stats                      `json:"queue"`
	Attempts    map[domain.AttemptStatus]int     `json:"attempts,omitempty"`
	Providers   map[string]provider.HealthStatus `json:"providers,omitempty"`
	LatestBlock uint64                           `json:"latest_block,omitempty"`
	Recovering  bool                             `json:"recovering"`
	CheckedAt   time.Time                        `json:"checked_at"`
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
