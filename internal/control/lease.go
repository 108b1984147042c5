package control

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseHeld is returned by Start when another process holds the signer lease.
var ErrLeaseHeld = errors.New("signer lease is held by another process")

// ErrLeaseLost is reported when a renewal finds the lease taken over, or when
// renewals keep failing until the lease could have expired.
var ErrLeaseLost = errors.New("signer lease lost")

// Lease guards the signing account so that only one process submits mints.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

// localLease is used without Redis. It only guards the current process.
type localLease struct {
	ttl time.Duration
}

func (l localLease) Acquire(context.Context) (bool, error) { return true, nil }
func (l localLease) Renew(context.Context) (bool, error)   { return true, nil }
func (l localLease) Release(context.Context) error         { return nil }
func (l localLease) TTL() time.Duration                    { return l.ttl }

// renewLease keeps the lease alive until ctx is done. It returns ErrLeaseLost
// if a renewal is refused, or once no renewal has succeeded for four fifths
// of the TTL. The caller has just acquired the lease.
func renewLease(ctx context.Context, lease Lease, onError func(error)) error {
	ttl := lease.TTL()
	interval := ttl / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	// Stop before the key can expire and be taken by another process.
	deadline := ttl * leaseSafetyNum / leaseSafetyDen

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ok, err := lease.Renew(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				onError(err)
				if deadline > 0 && time.Since(lastOK) >= deadline {
					return fmt.Errorf("%w: no successful renewal for %s: %v", ErrLeaseLost, time.Since(lastOK).Round(time.Millisecond), err)
				}
				continue
			}
			if !ok {
				return ErrLeaseLost
			}
			lastOK = time.Now()
		}
	}
}

const (
	leaseSafetyNum = 4
	leaseSafetyDen = 5
)
