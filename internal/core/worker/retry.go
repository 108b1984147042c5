package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// StoreRetry bounds local retries of a single store write.
type StoreRetry struct {
	Attempts     int
	InitialDelay time.Duration
}

// DefaultStoreRetry is three tries starting at 200ms.
var DefaultStoreRetry = StoreRetry{Attempts: 3, InitialDelay: 200 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-transient error or runs out
// of attempts. Not-found, duplicate and state errors are never retried.
func (r StoreRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(r.Attempts, 1)
	delay := r.InitialDelay
	if delay <= 0 {
		delay = DefaultStoreRetry.InitialDelay
	}

	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(delay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !isTransientStoreError(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isTransientStoreError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrDuplicateAttempt),
		errors.Is(err, domain.ErrInvalidState):
		return false
	}
	return true
}
