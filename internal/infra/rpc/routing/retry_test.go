package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionFailover},
		{errors.New("project rate limit exceeded"), ActionFailover},
		{errors.New("quota exceeded"), ActionFailover},
		{errors.New("daily request count exceeded"), ActionFailover},
		{errors.New("403 Forbidden"), ActionFailover},
		{&provider.HTTPError{StatusCode: 429}, ActionFailover},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{errors.New("Parse error -32700"), ActionFatal},
		{&provider.RPCError{Code: 3, Message: "execution reverted"}, ActionFatal},
		{&provider.RPCError{Code: -32000, Message: "header not found"}, ActionRetry},
		{context.Canceled, ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{&provider.HTTPError{StatusCode: 502}, ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

type flakyProvider struct {
	provider.RPCProvider
	mu    sync.Mutex
	calls int
	errs  []error
}

func (p *flakyProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	return "ok", nil
}

func TestCallWithRetry_RetriesTransient(t *testing.T) {
	p := &flakyProvider{errs: []error{errors.New("connection reset"), errors.New("timeout")}}
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	res, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, cfg)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res != "ok" || p.calls != 3 {
		t.Errorf("res=%v calls=%d", res, p.calls)
	}
}

func TestCallWithRetry_StopsOnFatal(t *testing.T) {
	p := &flakyProvider{errs: []error{&provider.RPCError{Code: -32602, Message: "invalid params"}}}
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := CallWithRetry(context.Background(), p, "eth_getLogs", nil, cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Errorf("expected 1 call, got %d", p.calls)
	}
}
