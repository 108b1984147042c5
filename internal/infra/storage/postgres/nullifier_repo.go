package postgres

import (
	"context"
	"fmt"
)

// NullifierRepo implements storage.NullifierRepository using PostgreSQL.
type NullifierRepo struct {
	db *DB
}

// NewNullifierRepo creates a new PostgreSQL nullifier repository.
func NewNullifierRepo(db *DB) *NullifierRepo {
	return &NullifierRepo{db: db}
}

const (
	reserveNullifierQuery = `
		INSERT INTO nullifiers (nullifier, owner, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (nullifier) DO NOTHING
	`
	nullifierOwnerQuery   = `SELECT owner FROM nullifiers WHERE nullifier = $1`
	releaseNullifierQuery = `DELETE FROM nullifiers WHERE nullifier = $1 AND owner = $2`
)

// Reserve binds nullifier to owner. It returns true when the nullifier was
// free or is already bound to the same owner.
func (r *NullifierRepo) Reserve(ctx context.Context, nullifier, owner string) (bool, error) {
	// A concurrent Release can delete the row between the insert and the
	// owner lookup, so try once more when the lookup comes back empty.
	for range 2 {
		res, err := r.db.ExecContext(ctx, reserveNullifierQuery, nullifier, owner)
		if err != nil {
			return false, fmt.Errorf("failed to reserve nullifier: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return true, nil
		}

		var holder string
		err = r.db.GetContext(ctx, &holder, nullifierOwnerQuery, nullifier)
		if notFound(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to get nullifier owner: %w", err)
		}
		return holder == owner, nil
	}
	return false, fmt.Errorf("failed to reserve nullifier %s: released concurrently", nullifier)
}

// Release frees a nullifier reserved by owner.
func (r *NullifierRepo) Release(ctx context.Context, nullifier, owner string) error {
	if _, err := r.db.ExecContext(ctx, releaseNullifierQuery, nullifier, owner); err != nil {
		return fmt.Errorf("failed to release nullifier: %w", err)
	}
	return nil
}
