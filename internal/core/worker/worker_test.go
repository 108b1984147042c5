package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/storage/memory"
)

func TestPruner_Interval(t *testing.T) {
	tests := []struct {
		cfg  RetentionConfig
		want time.Duration
	}{
		{RetentionConfig{MissedEvents: 720 * time.Hour}, time.Hour},
		{RetentionConfig{MissedEvents: 30 * time.Minute}, 3 * time.Minute},
		{RetentionConfig{MissedEvents: time.Minute}, time.Minute},
		{RetentionConfig{MissedEvents: time.Hour, PruneInterval: 5 * time.Minute}, 5 * time.Minute},
	}
	for _, tt := range tests {
		p := NewPruner(tt.cfg, nil, nil)
		if got := p.Interval(); got != tt.want {
			t.Errorf("Interval(%v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestPruner_Prune(t *testing.T) {
	store, _ := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := &domain.MissedEvent{TxHash: "0x01", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &domain.MissedEvent{TxHash: "0x02", CreatedAt: now.Add(-time.Hour)}
	pending := &domain.MissedEvent{TxHash: "0x03", CreatedAt: now.Add(-48 * time.Hour)}
	if err := store.MissedEvents.InsertBatch(ctx, []*domain.MissedEvent{old, fresh, pending}); err != nil {
		t.Fatal(err)
	}
	for _, e := range []*domain.MissedEvent{old, fresh} {
		if err := store.MissedEvents.Update(ctx, e.ID, domain.MissedEventPatch{Processed: domain.Ptr(true)}); err != nil {
			t.Fatal(err)
		}
	}

	p := NewPruner(RetentionConfig{MissedEvents: 24 * time.Hour}, store.MissedEvents, nil)
	p.now = func() time.Time { return now }

	n, err := p.Prune(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}

	left, _ := store.MissedEvents.Query(ctx, domain.MissedEventFilter{})
	if len(left) != 2 {
		t.Errorf("left %d events, want 2", len(left))
	}
}

func TestPruner_DisabledDoesNotStart(t *testing.T) {
	p := NewPruner(RetentionConfig{}, nil, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.cron != nil {
		t.Error("cron started with retention disabled")
	}
	p.Stop(context.Background())
}

func TestStoreRetry(t *testing.T) {
	ctx := context.Background()
	r := StoreRetry{Attempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	})
	if err == nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = r.Do(ctx, func(ctx context.Context) error {
		calls++
		return domain.ErrAttemptNotFound
	})
	if !errors.Is(err, domain.ErrAttemptNotFound) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
