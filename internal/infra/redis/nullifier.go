package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NullifierRegistry records spent proof nullifiers in Redis. A nullifier is
// bound to the attempt that first reserved it and never expires.
type NullifierRegistry struct {
	client *Client
}

// NewNullifierRegistry creates a registry on the client.
func (c *Client) NewNullifierRegistry() *NullifierRegistry {
	return &NullifierRegistry{client: c}
}

// Reserve binds nullifier to owner. It returns true when the nullifier was
// free or is already bound to the same owner.
func (r *NullifierRegistry) Reserve(ctx context.Context, nullifier, owner string) (bool, error) {
	key := nullifierKey(r.client.prefix, nullifier)
	ok, err := r.client.rdb.SetNX(ctx, key, owner, 0).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := r.client.rdb.Get(ctx, key).Result()
	if isNil(err) {
		// Released between SETNX and GET; try once more.
		return r.client.rdb.SetNX(ctx, key, owner, 0).Result()
	}
	if err != nil {
		return false, fmt.Errorf("get failed: %w", err)
	}
	return holder == owner, nil
}

// Release frees a nullifier reserved by owner.
func (r *NullifierRegistry) Release(ctx context.Context, nullifier, owner string) error {
	key := nullifierKey(r.client.prefix, nullifier)
	if _, err := r.client.evalOwned(ctx, releaseScript, key, owner); err != nil {
		return fmt.Errorf("release nullifier: %w", err)
	}
	return nil
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
