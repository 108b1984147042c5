package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/core/tier"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// ProcessQueue runs a scheduling pass over the working set. Attempts are
// handled one at a time with ItemDelay between chain submissions, since they
// share a signer. A call made while a pass is running does not start a
// second one; the running pass goes round again instead.
func (q *Queue) ProcessQueue(ctx context.Context) {
	q.rerun.Store(true)
	for {
		if !q.processing.CompareAndSwap(false, true) {
			return
		}
		for q.rerun.Swap(false) {
			q.pass(ctx)
			if ctx.Err() != nil || q.isStopping() {
				q.rerun.Store(false)
				break
			}
		}
		q.processing.Store(false)
		if !q.rerun.Load() {
			return
		}
	}
}

func (q *Queue) pass(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.QueueTickDuration.Observe(time.Since(start).Seconds())
	}()

	submitted := false
	for _, id := range q.snapshot() {
		if ctx.Err() != nil || q.isStopping() {
			return
		}

		q.mu.Lock()
		e, ok := q.working[id]
		q.mu.Unlock()
		if !ok {
			continue
		}

		if e.unsaved != nil {
			q.flush(ctx, e)
			continue
		}

		if q.now().Before(e.nextDue) {
			continue
		}

		if !q.ensureVerified(ctx, e) {
			continue
		}

		if submitted && q.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.ItemDelay):
			}
		}
		q.mint(ctx, e)
		submitted = true
	}
}

// ensureVerified reports whether e may go to the chain. Attempts needing a
// proof wait until proof data arrives and the verifier accepts it.
func (q *Queue) ensureVerified(ctx context.Context, e *entry) bool {
	a := e.attempt

	q.mu.Lock()
	verified := !a.RequiresZKProof || a.ZKProofVerified
	proof := a.ZKProofData
	q.mu.Unlock()

	if verified {
		return true
	}
	if len(proof) == 0 || q.verifier == nil {
		return false
	}

	log := q.logger.With("attempt_id", a.ID, "player", a.PlayerAddress, "run_id", a.RunID)

	res, err := q.verifier.Verify(ctx, a.PlayerAddress, proof, domain.ProofClaim{
		AttemptID: a.ID,
		TokenID:   a.TokenID,
		XP:        a.XPEarned,
		Season:    a.Season,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("proof verification unavailable", "error", err)
		q.fail(ctx, e, err, false)
		return false
	}

	if !res.Verified {
		msg := domain.ErrProofRejected.Error()
		if res.Reason != "" {
			msg += ": " + res.Reason
		}
		log.Warn("proof rejected, attempt failed", "reason", res.Reason)
		q.finish(ctx, e, domain.AttemptPatch{
			Status:       domain.Ptr(domain.AttemptStatusFailed),
			FailureKind:  domain.Ptr(domain.FailureKindProofRejected),
			ErrorMessage: domain.Ptr(msg),
		})
		metrics.AttemptsAbandoned.WithLabelValues("proof_rejected").Inc()
		return false
	}

	patch := domain.AttemptPatch{
		Status:          domain.Ptr(domain.AttemptStatusPending),
		ZKProofVerified: domain.Ptr(true),
	}
	if err := q.update(ctx, a.ID, patch); err != nil {
		// The verdict is not lost: the nullifier stays reserved for this
		// attempt, so the next pass verifies again and gets the same answer.
		log.Error("failed to record proof verification", "error", err)
		return false
	}
	q.mu.Lock()
	patch.Apply(a)
	q.mu.Unlock()

	log.Info("proof verified", "claim_id", res.ClaimID)
	return true
}

// mint submits e to the chain and records the outcome.
func (q *Queue) mint(ctx context.Context, e *entry) {
	a := e.attempt
	log := q.logger.With(
		"attempt_id", a.ID,
		"player", a.PlayerAddress,
		"run_id", a.RunID,
		"token_id", a.TokenID,
		"retry", a.RetryCount,
	)

	if err := q.update(ctx, a.ID, domain.AttemptPatch{Status: domain.Ptr(domain.AttemptStatusMinting)}); err != nil {
		log.Error("failed to mark attempt minting, skipping this pass", "error", err)
		return
	}
	q.mu.Lock()
	a.Status = domain.AttemptStatusMinting
	q.mu.Unlock()

	start := time.Now()
	receipt, err := q.minter.Mint(ctx, domain.MintRequest{
		Player:  a.PlayerAddress,
		TokenID: a.TokenID,
		XP:      a.XPEarned,
		Season:  a.Season,
	})
	metrics.MintLatency.WithLabelValues(q.minter.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Shutting down mid-submission. The store still says Minting and
			// the next start puts it back to Pending.
			log.Warn("mint interrupted", "error", err)
			return
		}
		permanent := domain.IsPermanentMintError(err)
		log.Warn("mint failed", "error", err, "permanent", permanent)
		q.fail(ctx, e, err, permanent)
		return
	}
	if receipt == nil || receipt.TxHash == "" {
		// A Completed attempt always carries its transaction hash.
		log.Warn("mint returned no transaction hash, retrying")
		q.fail(ctx, e, &domain.MintError{Message: "mint receipt has no transaction hash"}, false)
		return
	}

	q.finish(ctx, e, domain.AttemptPatch{
		Status:       domain.Ptr(domain.AttemptStatusCompleted),
		TxHash:       domain.Ptr(receipt.TxHash),
		ErrorMessage: domain.Ptr(""),
		FailureKind:  domain.Ptr(domain.FailureKindNone),
	})
	metrics.AttemptsCompleted.WithLabelValues(tier.Name(a.TokenID)).Inc()
	log.Info("badge minted",
		"tx_hash", receipt.TxHash,
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
}

// fail records one failed try. Exhausted or permanent failures abandon the
// attempt; otherwise it stays Failed and waits out its backoff.
func (q *Queue) fail(ctx context.Context, e *entry, cause error, permanent bool) {
	a := e.attempt
	now := q.now()
	retries := a.RetryCount + 1

	kind := domain.FailureKindTransient
	if permanent {
		kind = domain.FailureKindPermanent
	}
	metrics.MintFailures.WithLabelValues(string(kind)).Inc()

	patch := domain.AttemptPatch{
		RetryCount:   domain.Ptr(retries),
		LastRetryAt:  &now,
		ErrorMessage: domain.Ptr(cause.Error()),
		FailureKind:  domain.Ptr(kind),
	}

	switch {
	case permanent:
		patch.Status = domain.Ptr(domain.AttemptStatusAbandoned)
		q.finish(ctx, e, patch)
		metrics.AttemptsAbandoned.WithLabelValues("permanent").Inc()
		q.logger.Error("attempt abandoned after permanent failure",
			"attempt_id", a.ID, "player", a.PlayerAddress, "run_id", a.RunID, "error", cause)
		return

	case retries >= q.cfg.MaxRetries:
		patch.Status = domain.Ptr(domain.AttemptStatusAbandoned)
		patch.ErrorMessage = domain.Ptr(abandonMessage(cause.Error()))
		q.finish(ctx, e, patch)
		metrics.AttemptsAbandoned.WithLabelValues("max_retries").Inc()
		q.logger.Error("attempt abandoned after max retries",
			"attempt_id", a.ID, "player", a.PlayerAddress, "run_id", a.RunID, "retry", retries)
		return
	}

	patch.Status = domain.Ptr(domain.AttemptStatusFailed)
	delay := q.Backoff(retries)

	q.mu.Lock()
	patch.Apply(a)
	e.nextDue = now.Add(delay)
	q.mu.Unlock()

	if err := q.update(ctx, a.ID, patch); err != nil {
		q.logger.Error("failed to record retry", "attempt_id", a.ID, "error", err)
	}
	q.logger.Info("attempt scheduled for retry", "attempt_id", a.ID, "retry", retries, "delay", delay)
}

// finish persists a terminal patch and drops e from the working set. If the
// write fails the entry stays and the write is retried on the next pass.
func (q *Queue) finish(ctx context.Context, e *entry, patch domain.AttemptPatch) {
	q.mu.Lock()
	patch.Apply(e.attempt)
	e.unsaved = &patch
	q.mu.Unlock()

	q.flush(ctx, e)
}

func (q *Queue) flush(ctx context.Context, e *entry) {
	q.mu.Lock()
	patch := e.unsaved
	id := e.attempt.ID
	q.mu.Unlock()
	if patch == nil {
		return
	}

	err := q.update(ctx, id, *patch)
	if err != nil && !errors.Is(err, domain.ErrAttemptNotFound) {
		q.logger.Error("failed to persist final attempt state, will retry", "attempt_id", id, "error", err)
		return
	}

	q.mu.Lock()
	delete(q.working, id)
	size := len(q.working)
	q.mu.Unlock()
	metrics.QueueSize.Set(float64(size))
}
