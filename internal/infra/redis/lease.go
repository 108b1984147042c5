package redis

import (
	"context"
	"fmt"
	"time"
)

// Lease is an owner-tagged Redis key with a TTL. Only the owner can renew or
// release it, so a stalled process that lost its lease cannot clobber the new holder's.
type Lease struct {
	client *Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewLease creates a lease handle. Nothing is written until Acquire.
func (c *Client) NewLease(name, owner string, ttl time.Duration) *Lease {
	return &Lease{
		client: c,
		key:    leaseKey(c.prefix, name),
		owner:  owner,
		ttl:    ttl,
	}
}

// Acquire takes the lease if nobody holds it. Re-acquiring a lease we already
// hold refreshes it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}
	return l.Renew(ctx)
}

// Renew extends the TTL if we still own the lease.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	ok, err := l.client.evalOwned(ctx, renewScript, l.key, l.owner, l.ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return ok, nil
}

// Release drops the lease if we own it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.client.evalOwned(ctx, releaseScript, l.key, l.owner); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Holder returns the current owner, or "" if the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	v, err := l.client.rdb.Get(ctx, l.key).Result()
	if isNil(err) {
		return "", nil
	}
	return v, err
}

// TTL returns the configured lease duration.
func (l *Lease) TTL() time.Duration {
	return l.ttl
}
