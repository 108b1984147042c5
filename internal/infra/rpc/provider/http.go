package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPProvider implements Provider for JSON-RPC and REST over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithHeader sets a header sent with every request.
func WithHeader(key, value string) Option {
	return func(p *HTTPProvider) {
		p.headers[key] = value
	}
}

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(map[string]string),
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs an operation, dispatching to JSON-RPC or REST.
func (p *HTTPProvider) Execute(ctx context.Context, op Operation) (any, error) {
	if op.IsREST {
		var out any
		if err := p.DoREST(ctx, op.RESTMethod, op.Name, op.Params, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	params, ok := op.Params.([]any)
	if !ok && op.Params != nil {
		return nil, fmt.Errorf("json-rpc params must be []any, got %T", op.Params)
	}
	return p.Call(ctx, op.Name, params)
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	var result any
	if err := p.CallInto(ctx, method, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CallInto makes a JSON-RPC call and decodes the result into out.
func (p *HTTPProvider) CallInto(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      p.nextID.Add(1),
	}

	body, err := p.send(ctx, http.MethodPost, p.endpoint, reqBody)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure()
		return fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			return fmt.Errorf("throttle in rpc error: %w", rpcResp.Error)
		}
		return rpcResp.Error
	}

	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// DoREST performs a REST request against endpoint+path and decodes the JSON
// response into out. body is JSON-encoded when non-nil.
func (p *HTTPProvider) DoREST(ctx context.Context, method, path string, body, out any) error {
	if method == "" {
		method = http.MethodGet
	}
	url := p.endpoint + "/" + strings.TrimLeft(path, "/")

	respBody, err := p.send(ctx, method, url, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (p *HTTPProvider) send(ctx context.Context, method, url string, payload any) ([]byte, error) {
	start := time.Now()

	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled {
		return nil, fmt.Errorf("provider throttled, retry after: %v", p.Monitor.GetRetryAfter())
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			p.recordFailure()
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(http.StatusTooManyRequests, retryAfter)
		p.recordFailure()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: "rate limited, retry after: " + retryAfter}
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		p.Monitor.RecordThrottle(http.StatusForbidden, "")
		p.recordFailure()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: "ip blocked"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(string(body)) {
			return nil, fmt.Errorf("throttle detected in response: %w",
				&HTTPError{StatusCode: resp.StatusCode, Body: string(body)})
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	latency := time.Since(start)
	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)
	return body, nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.health
	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// IsAvailable checks if the provider is available.
func (p *HTTPProvider) IsAvailable() bool {
	status := p.Monitor.CheckProviderStatus()
	return status == StatusHealthy || status == StatusDegraded
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	p.health.Latency = p.totalLatency / time.Duration(p.successCount)
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
