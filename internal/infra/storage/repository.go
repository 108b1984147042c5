package storage

import (
	"context"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// AttemptRepository persists mint attempts.
type AttemptRepository interface {
	// Insert stores a new attempt and returns its id. Returns
	// domain.ErrDuplicateAttempt when an attempt for the same player and run
	// still holds the slot.
	Insert(ctx context.Context, attempt *domain.Attempt) (string, error)

	// Update applies a patch to a single attempt.
	Update(ctx context.Context, id string, patch domain.AttemptPatch) error

	// Query returns attempts matching the filter, oldest first.
	Query(ctx context.Context, filter domain.AttemptFilter) ([]*domain.Attempt, error)

	// CountByStatus returns the number of attempts per status.
	CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error)
}

// MissedEventRepository persists events found by recovery.
type MissedEventRepository interface {
	// InsertBatch stores events and fills in their ids.
	InsertBatch(ctx context.Context, events []*domain.MissedEvent) error

	// Update applies a patch to a single event.
	Update(ctx context.Context, id string, patch domain.MissedEventPatch) error

	// Query returns events matching the filter, ordered by block.
	Query(ctx context.Context, filter domain.MissedEventFilter) ([]*domain.MissedEvent, error)

	// DeleteProcessedBefore removes processed events created before cutoff.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRepository persists completed game runs.
type RunRepository interface {
	// Insert stores a run record and returns its id.
	Insert(ctx context.Context, run *domain.RunRecord) (string, error)

	// FindByTxHash returns the run whose seed matches the hash exactly or,
	// for legacy records, by suffix. Returns domain.ErrNotFound if none.
	FindByTxHash(ctx context.Context, txHash string) (*domain.RunRecord, error)

	// Latest returns the most recently created run, or domain.ErrNotFound.
	Latest(ctx context.Context) (*domain.RunRecord, error)
}

// CheckpointRepository persists named scan positions.
type CheckpointRepository interface {
	// Get returns the checkpointed block. ok is false when none is stored.
	Get(ctx context.Context, name string) (block uint64, ok bool, err error)

	// Save upserts the checkpoint.
	Save(ctx context.Context, name string, block uint64) error

	// Delete removes the checkpoint.
	Delete(ctx context.Context, name string) error
}

// NullifierRepository records spent proof nullifiers. A nullifier stays bound
// to the attempt that first reserved it until that attempt releases it.
type NullifierRepository interface {
	// Reserve returns true if the nullifier was free or is already held by owner.
	Reserve(ctx context.Context, nullifier, owner string) (bool, error)

	// Release frees a nullifier held by owner.
	Release(ctx context.Context, nullifier, owner string) error
}

// Store bundles every repository the minter needs.
type Store struct {
	Attempts     AttemptRepository
	MissedEvents MissedEventRepository
	Runs         RunRepository
	Checkpoints  CheckpointRepository
	Nullifiers   NullifierRepository

	// Ping checks the backing store is reachable. Nil for in-memory stores.
	Ping func(ctx context.Context) error
	// Close releases resources. Nil when there is nothing to close.
	Close func() error
}
