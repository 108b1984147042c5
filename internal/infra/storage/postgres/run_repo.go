package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

type runRow struct {
	ID            string    `db:"id"`
	PlayerAddress string    `db:"player_address"`
	XPEarned      int64     `db:"xp_earned"`
	CPEarned      int64     `db:"cp_earned"`
	Season        int       `db:"season"`
	Seed          string    `db:"seed"`
	Source        string    `db:"source"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r runRow) toDomain() *domain.RunRecord {
	return &domain.RunRecord{
		ID:            r.ID,
		PlayerAddress: r.PlayerAddress,
		XPEarned:      uint64(r.XPEarned),
		CPEarned:      uint64(r.CPEarned),
		Season:        r.Season,
		Seed:          r.Seed,
		Source:        domain.RunSource(r.Source),
		CreatedAt:     r.CreatedAt,
	}
}

const runColumns = `id, player_address, xp_earned, cp_earned, season, seed, source, created_at`

// Insert stores a run record.
func (r *RunRepo) Insert(ctx context.Context, run *domain.RunRecord) (string, error) {
	query := `
		INSERT INTO runs (player_address, xp_earned, cp_earned, season, seed, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id string
	err := r.db.GetContext(
		ctx,
		&id,
		query,
		run.PlayerAddress,
		int64(run.XPEarned),
		int64(run.CPEarned),
		run.Season,
		run.Seed,
		string(run.Source),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FindByTxHash tries an exact (case-insensitive) seed match first and falls
// back to a suffix match for legacy seeds.
func (r *RunRepo) FindByTxHash(ctx context.Context, txHash string) (*domain.RunRecord, error) {
	var row runRow
	query := "SELECT " + runColumns + " FROM runs WHERE lower(seed) = lower($1) LIMIT 1"
	err := r.db.GetContext(ctx, &row, query, txHash)
	if err == nil {
		return row.toDomain(), nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("failed to find run by tx hash: %w", err)
	}

	query = "SELECT " + runColumns + " FROM runs WHERE lower(seed) LIKE '%' || lower($1) LIMIT 1"
	err = r.db.GetContext(ctx, &row, query, txHash)
	if notFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run by tx hash suffix: %w", err)
	}
	return row.toDomain(), nil
}

// Latest returns the most recently created run.
func (r *RunRepo) Latest(ctx context.Context) (*domain.RunRecord, error) {
	var row runRow
	query := "SELECT " + runColumns + " FROM runs ORDER BY created_at DESC LIMIT 1"
	err := r.db.GetContext(ctx, &row, query)
	if notFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return row.toDomain(), nil
}
