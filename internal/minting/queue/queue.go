// Package queue drives badge mint attempts to a terminal state: proof
// verification for high-value claims, chain submission, and retries with
// jittered exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/core/tier"
	"github.com/vietddude/badgeminter/internal/core/worker"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/infra/storage"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// Verifier checks proof material for a claim.
type Verifier interface {
	Verify(ctx context.Context, player string, proofData []byte, claim domain.ProofClaim) (*domain.VerifyResult, error)
}

// Stats is a snapshot of the working set.
type Stats struct {
	QueueSize    int                          `json:"queue_size"`
	Processing   bool                         `json:"processing"`
	ByRetryCount map[int]int                  `json:"by_retry_count"`
	ByStatus     map[domain.AttemptStatus]int `json:"by_status"`
}

// entry is a working-set slot. nextDue caches the jittered backoff so a
// tick does not resample it.
type entry struct {
	attempt *domain.Attempt
	nextDue time.Time
	// unsaved holds a terminal patch whose write failed; it is flushed
	// before anything else happens to the attempt.
	unsaved *domain.AttemptPatch
}

// Queue owns the in-memory working set of active attempts. The store stays
// the source of truth across restarts.
type Queue struct {
	cfg      Config
	repo     storage.AttemptRepository
	minter   chain.Minter
	verifier Verifier
	logger   *slog.Logger
	now      func() time.Time
	rand     func() float64
	retry    worker.StoreRetry

	mu      sync.Mutex
	working map[string]*entry

	processing atomic.Bool
	rerun      atomic.Bool

	// lifecycle
	runMu    sync.Mutex
	started  bool
	stopping bool
	cron     *cron.Cron
	runCtx   context.Context
	cancel   context.CancelFunc
	ticks    sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithRand replaces the jitter source. It must return values in [0,1).
func WithRand(r func() float64) Option {
	return func(q *Queue) { q.rand = r }
}

// WithStoreRetry overrides the local retry policy for store writes.
func WithStoreRetry(r worker.StoreRetry) Option {
	return func(q *Queue) { q.retry = r }
}

// New creates a queue. verifier may be nil when no attempt will ever need a
// proof; such attempts then wait in PendingVerification.
func New(
	cfg Config,
	repo storage.AttemptRepository,
	minter chain.Minter,
	verifier Verifier,
	opts ...Option,
) *Queue {
	q := &Queue{
		cfg:      cfg.withDefaults(),
		repo:     repo,
		minter:   minter,
		verifier: verifier,
		logger:   slog.Default(),
		now:      time.Now,
		rand:     rand.Float64,
		retry:    worker.DefaultStoreRetry,
		working:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// AddAttempt validates and persists a new attempt and puts it in the working
// set. Only validation errors and ErrDuplicateAttempt are expected here; mint
// outcomes are observable through Stats and the store.
func (q *Queue) AddAttempt(
	ctx context.Context,
	playerAddress, runID string,
	xpEarned uint64,
	season int,
	proofData []byte,
) (string, error) {
	player, err := chain.NormalizeAddress(playerAddress)
	if err != nil {
		return "", err
	}
	if runID == "" {
		return "", domain.ErrInvalidRunID
	}
	if xpEarned == 0 {
		return "", domain.ErrInvalidXP
	}
	if season <= 0 {
		return "", domain.ErrInvalidSeason
	}

	tokenID := tier.TokenIDFor(xpEarned)
	requiresProof := tier.RequiresProof(xpEarned, tokenID)

	now := q.now()
	a := &domain.Attempt{
		PlayerAddress:   player,
		RunID:           runID,
		XPEarned:        xpEarned,
		Season:          season,
		TokenID:         tokenID,
		Status:          domain.AttemptStatusPending,
		RequiresZKProof: requiresProof,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if requiresProof {
		a.Status = domain.AttemptStatusPendingVerification
		if len(proofData) > 0 {
			a.ZKProofData = append([]byte(nil), proofData...)
		}
	}

	id, err := q.insert(ctx, a)
	if err != nil {
		return "", err
	}
	a.ID = id

	q.mu.Lock()
	q.working[id] = &entry{attempt: a}
	size := len(q.working)
	q.mu.Unlock()

	metrics.AttemptsEnqueued.WithLabelValues(tier.Name(tokenID)).Inc()
	metrics.QueueSize.Set(float64(size))

	q.logger.Info("attempt enqueued",
		"attempt_id", id,
		"player", player,
		"run_id", runID,
		"xp", xpEarned,
		"token_id", tokenID,
		"requires_proof", requiresProof,
	)

	q.kick()
	return id, nil
}

// insert stores a with local retries. A duplicate reported after a failed
// try may be our own earlier write, in which case its id is returned.
func (q *Queue) insert(ctx context.Context, a *domain.Attempt) (string, error) {
	var (
		id          string
		sawFailures bool
	)
	err := q.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = q.repo.Insert(ctx, a)
		if err != nil && !errors.Is(err, domain.ErrDuplicateAttempt) {
			sawFailures = true
		}
		return err
	})
	if err == nil {
		return id, nil
	}
	if errors.Is(err, domain.ErrDuplicateAttempt) && sawFailures {
		if existing := q.findActive(ctx, a.PlayerAddress, a.RunID); existing != nil &&
			existing.XPEarned == a.XPEarned &&
			existing.Status == a.Status &&
			existing.RetryCount == 0 {
			return existing.ID, nil
		}
	}
	if errors.Is(err, domain.ErrDuplicateAttempt) {
		return "", err
	}
	return "", fmt.Errorf("persist attempt: %w", err)
}

func (q *Queue) findActive(ctx context.Context, player, runID string) *domain.Attempt {
	found, err := q.repo.Query(ctx, domain.AttemptFilter{PlayerAddress: player, RunID: runID})
	if err != nil {
		return nil
	}
	for _, a := range found {
		if a.BlocksDuplicate() {
			return a
		}
	}
	return nil
}

// SubmitProof attaches proof material to an attempt waiting for it.
func (q *Queue) SubmitProof(ctx context.Context, attemptID string, proofData []byte) error {
	if len(proofData) == 0 {
		return fmt.Errorf("%w: empty proof", domain.ErrInvalidState)
	}

	q.mu.Lock()
	e, ok := q.working[attemptID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	a := e.attempt
	if !a.RequiresZKProof || a.ZKProofVerified || e.unsaved != nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrInvalidState, attemptID)
	}
	q.mu.Unlock()

	data := append([]byte(nil), proofData...)
	if err := q.update(ctx, attemptID, domain.AttemptPatch{ZKProofData: data}); err != nil {
		return fmt.Errorf("store proof: %w", err)
	}

	q.mu.Lock()
	a.ZKProofData = data
	q.mu.Unlock()

	q.logger.Info("proof submitted", "attempt_id", attemptID)
	q.kick()
	return nil
}

// LoadPendingAttempts fills the working set from the store. Attempts that
// already used every retry are abandoned instead of being resurrected.
// Attempts left in Minting by a crash go back to Pending.
func (q *Queue) LoadPendingAttempts(ctx context.Context) (int, error) {
	found, err := q.repo.Query(ctx, domain.AttemptFilter{
		Statuses: []domain.AttemptStatus{
			domain.AttemptStatusPendingVerification,
			domain.AttemptStatusPending,
			domain.AttemptStatusMinting,
			domain.AttemptStatusFailed,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("query pending attempts: %w", err)
	}

	loaded := 0
	for _, a := range found {
		if a.IsTerminal() {
			continue
		}

		if a.RetryCount >= q.cfg.MaxRetries {
			patch := domain.AttemptPatch{
				Status:       domain.Ptr(domain.AttemptStatusAbandoned),
				ErrorMessage: domain.Ptr(abandonMessage(a.ErrorMessage)),
			}
			if a.FailureKind == domain.FailureKindNone {
				patch.FailureKind = domain.Ptr(domain.FailureKindTransient)
			}
			if err := q.update(ctx, a.ID, patch); err != nil {
				q.logger.Error("failed to abandon exhausted attempt", "attempt_id", a.ID, "error", err)
				continue
			}
			metrics.AttemptsAbandoned.WithLabelValues("max_retries").Inc()
			q.logger.Warn("abandoned exhausted attempt on load",
				"attempt_id", a.ID,
				"player", a.PlayerAddress,
				"run_id", a.RunID,
				"retry", a.RetryCount,
			)
			continue
		}

		if a.Status == domain.AttemptStatusMinting {
			q.logger.Warn("attempt was interrupted while minting, resetting to pending",
				"attempt_id", a.ID,
				"player", a.PlayerAddress,
			)
			if err := q.update(ctx, a.ID, domain.AttemptPatch{Status: domain.Ptr(domain.AttemptStatusPending)}); err != nil {
				q.logger.Error("failed to reset interrupted attempt", "attempt_id", a.ID, "error", err)
				continue
			}
			a.Status = domain.AttemptStatusPending
		}

		e := &entry{attempt: a}
		if a.LastRetryAt != nil {
			e.nextDue = a.LastRetryAt.Add(q.Backoff(a.RetryCount))
		}

		q.mu.Lock()
		if _, exists := q.working[a.ID]; !exists {
			q.working[a.ID] = e
			loaded++
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	metrics.QueueSize.Set(float64(len(q.working)))
	q.mu.Unlock()

	q.logger.Info("loaded pending attempts", "count", loaded)
	return loaded, nil
}

// Stats returns a snapshot of the working set.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		QueueSize:    len(q.working),
		Processing:   q.processing.Load(),
		ByRetryCount: make(map[int]int),
		ByStatus:     make(map[domain.AttemptStatus]int),
	}
	for _, e := range q.working {
		s.ByRetryCount[e.attempt.RetryCount]++
		s.ByStatus[e.attempt.Status]++
	}
	return s
}

// Get returns a copy of a working-set attempt.
func (q *Queue) Get(id string) (*domain.Attempt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.working[id]
	if !ok {
		return nil, false
	}
	return e.attempt.Clone(), true
}

// snapshot returns working-set ids, oldest first.
func (q *Queue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]*entry, 0, len(q.working))
	for _, e := range q.working {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].attempt, entries[j].attempt
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.attempt.ID
	}
	return ids
}

func (q *Queue) update(ctx context.Context, id string, patch domain.AttemptPatch) error {
	return q.retry.Do(ctx, func(ctx context.Context) error {
		return q.repo.Update(ctx, id, patch)
	})
}

func abandonMessage(last string) string {
	if last == "" {
		return "max retries exceeded"
	}
	return "max retries exceeded: " + last
}
