package postgres

import (
	"context"
	"fmt"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get returns the stored block for name.
func (r *CheckpointRepo) Get(ctx context.Context, name string) (uint64, bool, error) {
	var block int64
	err := r.db.GetContext(ctx, &block, `SELECT block_number FROM checkpoints WHERE name = $1`, name)
	if notFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint %s: %w", name, err)
	}
	return uint64(block), true, nil
}

// Save upserts the checkpoint.
func (r *CheckpointRepo) Save(ctx context.Context, name string, block uint64) error {
	query := `
		INSERT INTO checkpoints (name, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
		DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, name, int64(block)); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, err)
	}
	return nil
}

// Delete removes the checkpoint.
func (r *CheckpointRepo) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", name, err)
	}
	return nil
}
