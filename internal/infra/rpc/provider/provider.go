// Package provider implements RPC provider interfaces.
//
// This package contains:
//   - Provider interface: core abstraction for an upstream endpoint
//   - HTTPProvider: JSON-RPC and REST over HTTP
//   - ProviderMonitor: health and rate tracking
package provider

import (
	"context"
	"fmt"
	"time"
)

// Operation represents one call against a provider.
type Operation struct {
	// Name is the JSON-RPC method, or the REST path relative to the endpoint.
	Name string

	// Params is []any for JSON-RPC calls and any JSON-serializable body for REST.
	Params any

	// IsREST indicates a plain REST call instead of JSON-RPC.
	IsREST bool

	// RESTMethod is the HTTP method for REST calls. Defaults to GET.
	RESTMethod string
}

// Provider defines the core interface for any RPC provider.
type Provider interface {
	// GetName returns provider identifier (e.g., "alchemy", "base-public")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Execute performs the operation with monitoring and error handling
	Execute(ctx context.Context, op Operation) (any, error)

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request
	Call(ctx context.Context, method string, params []any) (any, error)
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}
