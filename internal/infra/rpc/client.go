// Package rpc is the entry point application code uses to talk to chain nodes.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
	"github.com/vietddude/badgeminter/internal/infra/rpc/routing"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// ErrNoProviders is returned when a client has nothing to call.
var ErrNoProviders = errors.New("no rpc providers configured")

// ProviderConfig names one upstream endpoint.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Client makes JSON-RPC calls with retry and ordered failover across providers.
type Client struct {
	providers []provider.RPCProvider
	retry     routing.RetryConfig
	logger    *slog.Logger
}

// NewClient creates a client over the given providers, tried in order.
func NewClient(providers []provider.RPCProvider, retry routing.RetryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		providers: providers,
		retry:     retry,
		logger:    logger.With("component", "rpc"),
	}
}

// NewHTTPClient builds HTTP providers from config.
func NewHTTPClient(cfgs []ProviderConfig, timeout time.Duration, logger *slog.Logger) *Client {
	providers := make([]provider.RPCProvider, 0, len(cfgs))
	for _, c := range cfgs {
		providers = append(providers, provider.NewHTTPProvider(c.Name, c.URL, timeout))
	}
	return NewClient(providers, routing.DefaultRetryConfig, logger)
}

// Call makes an RPC call. Available providers are tried first; a fatal error
// stops immediately since another node would answer the same.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range c.ordered() {
		start := time.Now()
		metrics.RPCCallsTotal.WithLabelValues(p.GetName(), method).Inc()

		result, err := routing.CallWithRetry(ctx, p, method, params, c.retry)
		metrics.RPCLatency.WithLabelValues(p.GetName(), method).Observe(time.Since(start).Seconds())
		if err == nil {
			return result, nil
		}

		action := routing.ClassifyError(err)
		metrics.RPCErrorsTotal.WithLabelValues(p.GetName(), action.String()).Inc()
		lastErr = err

		if action == routing.ActionFatal {
			return nil, err
		}
		c.logger.Warn("rpc provider failed, trying next",
			"provider", p.GetName(),
			"method", method,
			"action", action.String(),
			"error", err,
		)
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Providers returns the configured providers.
func (c *Client) Providers() []provider.RPCProvider {
	return c.providers
}

// Health reports every provider's health keyed by name.
func (c *Client) Health() map[string]provider.HealthStatus {
	out := make(map[string]provider.HealthStatus, len(c.providers))
	for _, p := range c.providers {
		out[p.GetName()] = p.GetHealth()
	}
	return out
}

// Close closes every provider.
func (c *Client) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) ordered() []provider.RPCProvider {
	out := make([]provider.RPCProvider, 0, len(c.providers))
	var down []provider.RPCProvider
	for _, p := range c.providers {
		if p.IsAvailable() {
			out = append(out, p)
		} else {
			down = append(down, p)
		}
	}
	return append(out, down...)
}
