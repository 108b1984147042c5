package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/core/worker"
)

// Start schedules ProcessQueue every TickInterval and runs a first pass
// immediately. The passes outlive ctx cancellation; use Shutdown to stop.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.stopping {
		return domain.ErrQueueClosed
	}
	if q.started {
		return nil
	}

	q.runCtx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.cron = worker.NewCron(q.logger)
	spec := fmt.Sprintf("@every %s", q.cfg.TickInterval)
	if _, err := q.cron.AddFunc(spec, q.tick); err != nil {
		q.cancel()
		return fmt.Errorf("schedule queue: %w", err)
	}
	q.cron.Start()
	q.started = true

	q.logger.Info("queue started", "tick", q.cfg.TickInterval, "max_retries", q.cfg.MaxRetries)
	go q.tick()
	return nil
}

// Shutdown stops scheduling and waits for the running pass to finish its
// current attempt. If ctx expires first, the in-flight call is cancelled.
// Unfinished attempts stay in the store and are reloaded on next start.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.runMu.Lock()
	if q.stopping {
		q.runMu.Unlock()
		return nil
	}
	q.stopping = true
	started := q.started
	q.runMu.Unlock()

	if !started {
		return nil
	}

	cronDone := q.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		q.ticks.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("queue stopped", "pending", q.Stats().QueueSize)
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return errors.Join(errors.New("queue shutdown interrupted in-flight attempt"), ctx.Err())
	}
}

func (q *Queue) tick() {
	q.runMu.Lock()
	if q.stopping || !q.started {
		q.runMu.Unlock()
		return
	}
	q.ticks.Add(1)
	ctx := q.runCtx
	q.runMu.Unlock()
	defer q.ticks.Done()

	q.ProcessQueue(ctx)
}

// kick runs a pass now if the scheduler is running.
func (q *Queue) kick() {
	q.runMu.Lock()
	running := q.started && !q.stopping
	q.runMu.Unlock()
	if running {
		go q.tick()
	}
}

func (q *Queue) isStopping() bool {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	return q.stopping
}
