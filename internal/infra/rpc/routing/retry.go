package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	}
	return "unknown"
}

// JSON-RPC codes that mean the request itself is wrong.
var fatalCodes = map[int]bool{
	-32700: true, // parse error
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
	3:      true, // execution reverted
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFatal
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) && fatalCodes[rpcErr.Code] {
		return ActionFatal
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusForbidden, http.StatusUnauthorized, http.StatusPaymentRequired:
			return ActionFailover
		}
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") ||
		strings.Contains(sLower, "execution reverted") {
		return ActionFatal
	}

	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "plan limit") ||
		strings.Contains(sLower, "unauthorized") ||
		strings.Contains(sLower, "rate limit") ||
		strings.Contains(sLower, "count exceeded") {
		return ActionFailover
	}

	// Network, 5xx, timeouts
	return ActionRetry
}

// Backoff builds the go-retry backoff for a config.
func (c RetryConfig) Backoff() retry.Backoff {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(c.InitialDelay)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// CallWithRetry executes an RPC call, retrying only errors classified as ActionRetry.
func CallWithRetry(
	ctx context.Context,
	p provider.RPCProvider,
	method string,
	params []any,
	config RetryConfig,
) (any, error) {
	var result any
	attempts := 0

	err := retry.Do(ctx, config.Backoff(), func(ctx context.Context) error {
		attempts++
		res, err := p.Call(ctx, method, params)
		if err == nil {
			result = res
			return nil
		}
		if ClassifyError(err) == ActionRetry {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if attempts > 1 {
			return nil, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return result, nil
}
