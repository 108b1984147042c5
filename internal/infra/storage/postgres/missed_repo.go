package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// MissedEventRepo implements storage.MissedEventRepository using PostgreSQL.
type MissedEventRepo struct {
	db *DB
}

// NewMissedEventRepo creates a new PostgreSQL missed event repository.
func NewMissedEventRepo(db *DB) *MissedEventRepo {
	return &MissedEventRepo{db: db}
}

type missedEventRow struct {
	ID             string         `db:"id"`
	PlayerAddress  string         `db:"player_address"`
	XPEarned       int64          `db:"xp_earned"`
	CPEarned       int64          `db:"cp_earned"`
	DBPMinted      int64          `db:"dbp_minted"`
	Duration       int64          `db:"duration"`
	BonusThrowUsed bool           `db:"bonus_throw_used"`
	BoostsUsed     pq.StringArray `db:"boosts_used"`
	BlockNumber    int64          `db:"block_number"`
	TxHash         string         `db:"tx_hash"`
	LogIndex       int            `db:"log_index"`
	Processed      bool           `db:"processed"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r missedEventRow) toDomain() *domain.MissedEvent {
	return &domain.MissedEvent{
		ID:             r.ID,
		PlayerAddress:  r.PlayerAddress,
		XPEarned:       uint64(r.XPEarned),
		CPEarned:       uint64(r.CPEarned),
		DBPMinted:      uint64(r.DBPMinted),
		Duration:       uint64(r.Duration),
		BonusThrowUsed: r.BonusThrowUsed,
		BoostsUsed:     []string(r.BoostsUsed),
		BlockNumber:    uint64(r.BlockNumber),
		TxHash:         r.TxHash,
		LogIndex:       uint(r.LogIndex),
		Processed:      r.Processed,
		CreatedAt:      r.CreatedAt,
	}
}

// InsertBatch stores events inside one transaction and fills in their ids.
func (r *MissedEventRepo) InsertBatch(ctx context.Context, events []*domain.MissedEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO missed_events (
			player_address, xp_earned, cp_earned, dbp_minted, duration,
			bonus_throw_used, boosts_used, block_number, tx_hash, log_index, processed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	for _, e := range events {
		boosts := pq.StringArray(e.BoostsUsed)
		if boosts == nil {
			boosts = pq.StringArray{}
		}
		var dest struct {
			ID        string    `db:"id"`
			CreatedAt time.Time `db:"created_at"`
		}
		err := tx.GetContext(
			ctx,
			&dest,
			query,
			e.PlayerAddress,
			int64(e.XPEarned),
			int64(e.CPEarned),
			int64(e.DBPMinted),
			int64(e.Duration),
			e.BonusThrowUsed,
			boosts,
			int64(e.BlockNumber),
			e.TxHash,
			int(e.LogIndex),
			e.Processed,
		)
		if err != nil {
			return fmt.Errorf("failed to insert missed event %s: %w", e.TxHash, err)
		}
		e.ID = dest.ID
		e.CreatedAt = dest.CreatedAt
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit missed events: %w", err)
	}
	return nil
}

// Update applies a patch to one missed event.
func (r *MissedEventRepo) Update(ctx context.Context, id string, p domain.MissedEventPatch) error {
	var b setBuilder
	if p.Processed != nil {
		b.add("processed", *p.Processed)
	}
	if b.empty() {
		return nil
	}

	query, args := b.update("missed_events", id)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update missed event %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("missed event %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Query returns missed events matching the filter, ordered by block.
func (r *MissedEventRepo) Query(ctx context.Context, f domain.MissedEventFilter) ([]*domain.MissedEvent, error) {
	var w whereBuilder
	if f.Processed != nil {
		w.add("processed = ?", *f.Processed)
	}
	if f.TxHash != "" {
		w.add("lower(tx_hash) = lower(?)", f.TxHash)
	}

	query := `SELECT id, player_address, xp_earned, cp_earned, dbp_minted, duration,
		bonus_throw_used, boosts_used, block_number, tx_hash, log_index, processed, created_at
		FROM missed_events` + w.String() + " ORDER BY block_number ASC, log_index ASC" + limitClause(f.Limit)

	var rows []missedEventRow
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("failed to query missed events: %w", err)
	}

	out := make([]*domain.MissedEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// DeleteProcessedBefore removes processed events created before cutoff.
func (r *MissedEventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(
		ctx,
		`DELETE FROM missed_events WHERE processed AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune missed events: %w", err)
	}
	return res.RowsAffected()
}
