// Package recovery replays run-completion events that the live listener
// missed. It scans the game contract's logs in bounded chunks, drops every
// log that already has a run record and feeds the rest through the same
// completion pipeline live events use.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/core/worker"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/infra/storage"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// Pipeline handles a completed run and returns the run id to mint against.
type Pipeline interface {
	HandleRunCompletion(ctx context.Context, data domain.RunData) (*domain.RunOutcome, error)
}

// Enqueuer accepts mint attempts.
type Enqueuer interface {
	AddAttempt(ctx context.Context, playerAddress, runID string, xpEarned uint64, season int, proofData []byte) (string, error)
}

// Config controls scanning.
type Config struct {
	OnStartup       bool          `yaml:"on_startup"`
	ChunkSize       uint64        `yaml:"chunk_size"`
	ChunkDelay      time.Duration `yaml:"chunk_delay"`
	DefaultLookback uint64        `yaml:"default_lookback"`
	SafetyBuffer    uint64        `yaml:"safety_buffer"`
	MaxManualRange  uint64        `yaml:"max_manual_range"`
	CheckpointName  string        `yaml:"checkpoint_name"`
	KnownCacheSize  int           `yaml:"known_cache_size"`

	// BlockTime is the assumed block interval used to estimate a start
	// block from run timestamps. Filled from the chain section.
	BlockTime time.Duration `yaml:"-"`
}

// DefaultConfig returns the standard scanner settings.
func DefaultConfig() Config {
	return Config{
		OnStartup:       true,
		ChunkSize:       1000,
		ChunkDelay:      500 * time.Millisecond,
		DefaultLookback: 1000,
		SafetyBuffer:    100,
		MaxManualRange:  100_000,
		CheckpointName:  "run_completed",
		KnownCacheSize:  10_000,
		BlockTime:       2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.DefaultLookback == 0 {
		c.DefaultLookback = d.DefaultLookback
	}
	if c.SafetyBuffer == 0 {
		c.SafetyBuffer = d.SafetyBuffer
	}
	if c.MaxManualRange == 0 {
		c.MaxManualRange = d.MaxManualRange
	}
	if c.CheckpointName == "" {
		c.CheckpointName = d.CheckpointName
	}
	if c.KnownCacheSize <= 0 {
		c.KnownCacheSize = d.KnownCacheSize
	}
	if c.BlockTime <= 0 {
		c.BlockTime = d.BlockTime
	}
	return c
}

// ScanResult is what one scan found.
type ScanResult struct {
	Events       []*domain.MissedEvent
	FailedChunks []Range
}

// Result summarizes a recovery run.
type Result struct {
	// Skipped is set when another recovery was already running.
	Skipped      bool    `json:"skipped"`
	FromBlock    uint64  `json:"from_block"`
	ToBlock      uint64  `json:"to_block"`
	Found        int     `json:"found"`
	Replayed     int     `json:"replayed"`
	Enqueued     int     `json:"enqueued"`
	Failed       int     `json:"failed"`
	FailedChunks []Range `json:"failed_chunks,omitempty"`
	Checkpoint   uint64  `json:"checkpoint,omitempty"`
}

// Scanner finds and replays missed run-completion events.
type Scanner struct {
	cfg         Config
	logs        chain.LogSource
	runs        storage.RunRepository
	missed      storage.MissedEventRepository
	checkpoints storage.CheckpointRepository
	pipeline    Pipeline
	queue       Enqueuer
	known       *lru.Cache[string, struct{}]
	retry       worker.StoreRetry
	logger      *slog.Logger
	now         func() time.Time

	running atomic.Bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a scanner.
func New(
	cfg Config,
	logs chain.LogSource,
	store *storage.Store,
	pipeline Pipeline,
	queue Enqueuer,
	opts ...Option,
) (*Scanner, error) {
	cfg = cfg.withDefaults()
	known, err := lru.New[string, struct{}](cfg.KnownCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create known tx cache: %w", err)
	}

	s := &Scanner{
		cfg:         cfg,
		logs:        logs,
		runs:        store.Runs,
		missed:      store.MissedEvents,
		checkpoints: store.Checkpoints,
		pipeline:    pipeline,
		queue:       queue,
		known:       known,
		retry:       worker.DefaultStoreRetry,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "recovery")
	return s, nil
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Running reports whether a recovery is in progress.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// DetermineStartBlock picks where an automatic recovery starts: after the
// stored checkpoint if there is one, else an estimate from the latest run's
// timestamp minus a safety buffer, else DefaultLookback blocks back.
func (s *Scanner) DetermineStartBlock(ctx context.Context, current uint64) (uint64, error) {
	block, ok, err := s.checkpoints.Get(ctx, s.cfg.CheckpointName)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		return block + 1, nil
	}

	latest, err := s.runs.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return sub(current, s.cfg.DefaultLookback), nil
	}
	if err != nil {
		return 0, fmt.Errorf("load latest run: %w", err)
	}

	elapsed := max(s.now().Sub(latest.CreatedAt), 0)
	blocksAgo := uint64(elapsed / s.cfg.BlockTime)
	return sub(sub(current, blocksAgo), s.cfg.SafetyBuffer), nil
}

// Scan reads logs in [from, to] chunk by chunk and returns those with no run
// record. A chunk that cannot be read is logged, reported in FailedChunks and
// skipped. Only an invalid range or a cancelled ctx fails the scan.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) (*ScanResult, error) {
	if from > to {
		return nil, fmt.Errorf("%w: %d > %d", domain.ErrInvalidRange, from, to)
	}

	chunks := Range{Start: from, End: to}.Split(s.cfg.ChunkSize)
	res := &ScanResult{}
	seen := make(map[string]struct{})

	s.logger.Info("scanning for missed runs", "from", from, "to", to, "chunks", len(chunks))

	for i, chunk := range chunks {
		if i > 0 && s.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		events, err := s.scanChunk(ctx, chunk, seen)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			metrics.RecoveryChunkFailures.Inc()
			s.logger.Warn("chunk scan failed, skipping", "range", chunk.String(), "error", err)
			res.FailedChunks = append(res.FailedChunks, chunk)
			continue
		}
		res.Events = append(res.Events, events...)
	}

	s.logger.Info("scan complete",
		"from", from,
		"to", to,
		"missed", len(res.Events),
		"failed_chunks", len(res.FailedChunks),
	)
	return res, nil
}

func (s *Scanner) scanChunk(ctx context.Context, chunk Range, seen map[string]struct{}) ([]*domain.MissedEvent, error) {
	logs, err := s.logs.RunCompletedLogs(ctx, chunk.Start, chunk.End)
	if err != nil {
		return nil, err
	}

	var events []*domain.MissedEvent
	for _, l := range logs {
		if _, dup := seen[l.TxHash]; dup {
			continue
		}
		processed, err := s.isProcessed(ctx, l.TxHash)
		if err != nil {
			return nil, err
		}
		seen[l.TxHash] = struct{}{}
		if processed {
			continue
		}
		events = append(events, domain.NewMissedEvent(l))
	}
	return events, nil
}

// isProcessed reports whether a run record exists for txHash.
func (s *Scanner) isProcessed(ctx context.Context, txHash string) (bool, error) {
	if s.known.Contains(txHash) {
		return true, nil
	}
	_, err := s.runs.FindByTxHash(ctx, txHash)
	switch {
	case err == nil:
		s.known.Add(txHash, struct{}{})
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("lookup run %s: %w", txHash, err)
}

// Recover scans from DetermineStartBlock to the chain head, persists what it
// finds, replays every unprocessed missed event and advances the checkpoint.
// A call made while another recovery runs returns a Skipped result.
func (s *Scanner) Recover(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("recovery already in progress, skipping")
		return &Result{Skipped: true}, nil
	}
	defer s.running.Store(false)

	current, err := s.logs.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	from, err := s.DetermineStartBlock(ctx, current)
	if err != nil {
		return nil, err
	}

	res := &Result{FromBlock: from, ToBlock: current}
	if from <= current {
		scan, err := s.Scan(ctx, from, current)
		if err != nil {
			return nil, err
		}
		res.FailedChunks = scan.FailedChunks
		if res.Found, err = s.persist(ctx, scan.Events); err != nil {
			return nil, err
		}

		// Stop the checkpoint short of the first failed chunk so it is
		// rescanned next time.
		checkpoint, advance := current, true
		if len(scan.FailedChunks) > 0 {
			first := scan.FailedChunks[0].Start
			checkpoint, advance = first-1, first > from
		}
		if advance {
			if err := s.saveCheckpoint(ctx, checkpoint); err != nil {
				return nil, err
			}
			res.Checkpoint = checkpoint
		}
	}

	if err := s.replayPending(ctx, res); err != nil {
		return nil, err
	}

	s.logger.Info("recovery finished",
		"from", res.FromBlock,
		"to", res.ToBlock,
		"found", res.Found,
		"replayed", res.Replayed,
		"enqueued", res.Enqueued,
		"failed", res.Failed,
	)
	return res, nil
}

// ManualRecovery scans an operator-chosen range. It shares the in-progress
// guard with Recover and never moves the checkpoint.
func (s *Scanner) ManualRecovery(ctx context.Context, from, to uint64) (*Result, error) {
	if from > to {
		return nil, fmt.Errorf("%w: %d > %d", domain.ErrInvalidRange, from, to)
	}
	if to-from >= s.cfg.MaxManualRange {
		return nil, fmt.Errorf("%w: %d blocks exceeds limit of %d", domain.ErrInvalidRange,
			(Range{Start: from, End: to}).Size(), s.cfg.MaxManualRange)
	}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("recovery already in progress, skipping manual range", "from", from, "to", to)
		return &Result{Skipped: true}, nil
	}
	defer s.running.Store(false)

	current, err := s.logs.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	if from > current {
		return nil, fmt.Errorf("%w: start %d is beyond chain head %d", domain.ErrInvalidRange, from, current)
	}
	to = min(to, current)

	res := &Result{FromBlock: from, ToBlock: to}
	scan, err := s.Scan(ctx, from, to)
	if err != nil {
		return nil, err
	}
	res.FailedChunks = scan.FailedChunks
	if res.Found, err = s.persist(ctx, scan.Events); err != nil {
		return nil, err
	}
	if err := s.replayPending(ctx, res); err != nil {
		return nil, err
	}

	s.logger.Info("manual recovery finished",
		"from", from,
		"to", to,
		"found", res.Found,
		"enqueued", res.Enqueued,
	)
	return res, nil
}

// persist stores events that have no missed-event record yet and returns how
// many were new.
func (s *Scanner) persist(ctx context.Context, events []*domain.MissedEvent) (int, error) {
	var fresh []*domain.MissedEvent
	for _, e := range events {
		existing, err := s.missed.Query(ctx, domain.MissedEventFilter{TxHash: e.TxHash, Limit: 1})
		if err != nil {
			return 0, fmt.Errorf("lookup missed event: %w", err)
		}
		if len(existing) == 0 {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.missed.InsertBatch(ctx, fresh)
	})
	if err != nil {
		return 0, fmt.Errorf("persist missed events: %w", err)
	}
	metrics.RecoveryMissedEvents.Add(float64(len(fresh)))
	return len(fresh), nil
}

func (s *Scanner) saveCheckpoint(ctx context.Context, block uint64) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.checkpoints.Save(ctx, s.cfg.CheckpointName, block)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	metrics.RecoveryCheckpoint.Set(float64(block))
	return nil
}

// replayPending pushes every unprocessed missed event through the pipeline.
// Failures leave the event unprocessed for the next recovery.
func (s *Scanner) replayPending(ctx context.Context, res *Result) error {
	pending, err := s.missed.Query(ctx, domain.MissedEventFilter{Processed: domain.Ptr(false)})
	if err != nil {
		return fmt.Errorf("query unprocessed missed events: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].BlockNumber == pending[j].BlockNumber {
			return pending[i].LogIndex < pending[j].LogIndex
		}
		return pending[i].BlockNumber < pending[j].BlockNumber
	})

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		enqueued, err := s.replay(ctx, e)
		if err != nil {
			res.Failed++
			s.logger.Error("failed to replay missed event",
				"tx_hash", e.TxHash,
				"block", e.BlockNumber,
				"player", e.PlayerAddress,
				"error", err,
			)
			continue
		}
		res.Replayed++
		if enqueued {
			res.Enqueued++
		}
	}
	return nil
}

// replay runs one event through the pipeline, enqueues its attempt when it
// earned XP and marks it processed. It reports whether an attempt was added.
func (s *Scanner) replay(ctx context.Context, e *domain.MissedEvent) (bool, error) {
	var outcome *domain.RunOutcome

	run, err := s.runs.FindByTxHash(ctx, e.TxHash)
	switch {
	case err == nil && run.Source != domain.RunSourceRecovery:
		// The live listener got there first and owns the attempt.
		s.logger.Info("missed event already handled live", "tx_hash", e.TxHash, "run_id", run.ID)
		return false, s.markProcessed(ctx, e)
	case err == nil:
		// An earlier replay recorded the run but stopped before finishing.
		outcome = &domain.RunOutcome{RunID: run.ID, Season: run.Season}
	case errors.Is(err, domain.ErrNotFound):
		outcome, err = s.pipeline.HandleRunCompletion(ctx, e.RunData())
		if err != nil {
			return false, fmt.Errorf("run completion: %w", err)
		}
	default:
		return false, fmt.Errorf("lookup run: %w", err)
	}

	enqueued := false
	if e.XPEarned > 0 {
		id, err := s.queue.AddAttempt(ctx, e.PlayerAddress, outcome.RunID, e.XPEarned, outcome.Season, nil)
		switch {
		case err == nil:
			enqueued = true
			s.logger.Info("enqueued attempt for missed run",
				"attempt_id", id,
				"run_id", outcome.RunID,
				"player", e.PlayerAddress,
				"xp", e.XPEarned,
			)
		case errors.Is(err, domain.ErrDuplicateAttempt):
			s.logger.Debug("attempt already exists for missed run", "run_id", outcome.RunID)
		default:
			return false, fmt.Errorf("enqueue attempt: %w", err)
		}
	}

	if err := s.markProcessed(ctx, e); err != nil {
		return enqueued, err
	}
	s.known.Add(e.TxHash, struct{}{})
	return enqueued, nil
}

func (s *Scanner) markProcessed(ctx context.Context, e *domain.MissedEvent) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.missed.Update(ctx, e.ID, domain.MissedEventPatch{Processed: domain.Ptr(true)})
	})
	if err != nil {
		return fmt.Errorf("mark missed event processed: %w", err)
	}
	e.Processed = true
	return nil
}
