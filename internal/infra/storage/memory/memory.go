package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/storage"
)

type MemoryStorage struct {
	attempts    map[string]*domain.Attempt
	missed      map[string]*domain.MissedEvent
	runs        map[string]*domain.RunRecord
	checkpoints map[string]uint64
	nullifiers  map[string]string
	mu          sync.RWMutex
	now         func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		attempts:    make(map[string]*domain.Attempt),
		missed:      make(map[string]*domain.MissedEvent),
		runs:        make(map[string]*domain.RunRecord),
		checkpoints: make(map[string]uint64),
		nullifiers:  make(map[string]string),
		now:         time.Now,
	}
}

// NewStore wires a fresh in-memory storage into a storage.Store.
func NewStore() (*storage.Store, *MemoryStorage) {
	s := NewMemoryStorage()
	return &storage.Store{
		Attempts:     NewAttemptRepo(s),
		MissedEvents: NewMissedEventRepo(s),
		Runs:         NewRunRepo(s),
		Checkpoints:  NewCheckpointRepo(s),
		Nullifiers:   NewNullifierRepo(s),
	}, s
}

// -----------------------------------------------------------------------------
// Attempt Repository
// -----------------------------------------------------------------------------

type AttemptRepo struct {
	store *MemoryStorage
}

func NewAttemptRepo(store *MemoryStorage) *AttemptRepo {
	return &AttemptRepo{store: store}
}

func (r *AttemptRepo) Insert(ctx context.Context, a *domain.Attempt) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.attempts {
		if existing.PlayerAddress == a.PlayerAddress &&
			existing.RunID == a.RunID &&
			existing.BlocksDuplicate() {
			return "", domain.ErrDuplicateAttempt
		}
	}

	c := a.Clone()
	c.ID = uuid.NewString()
	now := r.store.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.store.attempts[c.ID] = c
	return c.ID, nil
}

func (r *AttemptRepo) Update(ctx context.Context, id string, patch domain.AttemptPatch) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	a, ok := r.store.attempts[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
	}
	patch.Apply(a)
	a.UpdatedAt = r.store.now()
	return nil
}

func (r *AttemptRepo) Query(ctx context.Context, f domain.AttemptFilter) ([]*domain.Attempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Attempt
	for _, a := range r.store.attempts {
		if f.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *AttemptRepo) CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[domain.AttemptStatus]int)
	for _, a := range r.store.attempts {
		counts[a.Status]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Missed Event Repository
// -----------------------------------------------------------------------------

type MissedEventRepo struct {
	store *MemoryStorage
}

func NewMissedEventRepo(store *MemoryStorage) *MissedEventRepo {
	return &MissedEventRepo{store: store}
}

func (r *MissedEventRepo) InsertBatch(ctx context.Context, events []*domain.MissedEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	for _, e := range events {
		e.ID = uuid.NewString()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		c := *e
		c.BoostsUsed = append([]string(nil), e.BoostsUsed...)
		r.store.missed[e.ID] = &c
	}
	return nil
}

func (r *MissedEventRepo) Update(ctx context.Context, id string, patch domain.MissedEventPatch) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.missed[id]
	if !ok {
		return fmt.Errorf("missed event %s: %w", id, domain.ErrNotFound)
	}
	if patch.Processed != nil {
		e.Processed = *patch.Processed
	}
	return nil
}

func (r *MissedEventRepo) Query(ctx context.Context, f domain.MissedEventFilter) ([]*domain.MissedEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.MissedEvent
	for _, e := range r.store.missed {
		if f.Matches(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MissedEventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for id, e := range r.store.missed {
		if e.Processed && e.CreatedAt.Before(cutoff) {
			delete(r.store.missed, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Insert(ctx context.Context, run *domain.RunRecord) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c := *run
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.store.now()
	}
	r.store.runs[c.ID] = &c
	return c.ID, nil
}

func (r *RunRepo) FindByTxHash(ctx context.Context, txHash string) (*domain.RunRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, run := range r.store.runs {
		if run.MatchesTxHash(txHash) {
			c := *run
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *RunRepo) Latest(ctx context.Context) (*domain.RunRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *domain.RunRecord
	for _, run := range r.store.runs {
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	c := *latest
	return &c, nil
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, name string) (uint64, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	block, ok := r.store.checkpoints[name]
	return block, ok, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, name string, block uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.checkpoints[name] = block
	return nil
}

func (r *CheckpointRepo) Delete(ctx context.Context, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.checkpoints, name)
	return nil
}

// -----------------------------------------------------------------------------
// Nullifier Repository
// -----------------------------------------------------------------------------

type NullifierRepo struct {
	store *MemoryStorage
}

func NewNullifierRepo(store *MemoryStorage) *NullifierRepo {
	return &NullifierRepo{store: store}
}

func (r *NullifierRepo) Reserve(ctx context.Context, nullifier, owner string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if held, ok := r.store.nullifiers[nullifier]; ok {
		return held == owner, nil
	}
	r.store.nullifiers[nullifier] = owner
	return true, nil
}

func (r *NullifierRepo) Release(ctx context.Context, nullifier, owner string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.nullifiers[nullifier] == owner {
		delete(r.store.nullifiers, nullifier)
	}
	return nil
}
