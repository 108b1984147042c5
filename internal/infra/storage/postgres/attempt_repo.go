package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

type attemptRow struct {
	ID              string         `db:"id"`
	PlayerAddress   string         `db:"player_address"`
	RunID           string         `db:"run_id"`
	XPEarned        int64          `db:"xp_earned"`
	Season          int            `db:"season"`
	TokenID         int            `db:"token_id"`
	Status          string         `db:"status"`
	RetryCount      int            `db:"retry_count"`
	LastRetryAt     sql.NullTime   `db:"last_retry_at"`
	RequiresZKProof bool           `db:"requires_zk_proof"`
	ZKProofData     []byte         `db:"zk_proof_data"`
	ZKProofVerified bool           `db:"zk_proof_verified"`
	TxHash          sql.NullString `db:"tx_hash"`
	ErrorMessage    sql.NullString `db:"error_message"`
	FailureKind     string         `db:"failure_kind"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r attemptRow) toDomain() *domain.Attempt {
	a := &domain.Attempt{
		ID:              r.ID,
		PlayerAddress:   r.PlayerAddress,
		RunID:           r.RunID,
		XPEarned:        uint64(r.XPEarned),
		Season:          r.Season,
		TokenID:         r.TokenID,
		Status:          domain.AttemptStatus(r.Status),
		RetryCount:      r.RetryCount,
		RequiresZKProof: r.RequiresZKProof,
		ZKProofData:     r.ZKProofData,
		ZKProofVerified: r.ZKProofVerified,
		TxHash:          r.TxHash.String,
		ErrorMessage:    r.ErrorMessage.String,
		FailureKind:     domain.FailureKind(r.FailureKind),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.LastRetryAt.Valid {
		t := r.LastRetryAt.Time
		a.LastRetryAt = &t
	}
	return a
}

const attemptColumns = `id, player_address, run_id, xp_earned, season, token_id, status,
	retry_count, last_retry_at, requires_zk_proof, zk_proof_data, zk_proof_verified,
	tx_hash, error_message, failure_kind, created_at, updated_at`

// Insert stores a new attempt. The partial unique index on (player_address, run_id)
// turns a concurrent duplicate into domain.ErrDuplicateAttempt.
func (r *AttemptRepo) Insert(ctx context.Context, a *domain.Attempt) (string, error) {
	query := `
		INSERT INTO attempts (
			player_address, run_id, xp_earned, season, token_id, status, retry_count,
			requires_zk_proof, zk_proof_data, zk_proof_verified, failure_kind
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id string
	err := r.db.GetContext(
		ctx,
		&id,
		query,
		a.PlayerAddress,
		a.RunID,
		int64(a.XPEarned),
		a.Season,
		a.TokenID,
		string(a.Status),
		a.RetryCount,
		a.RequiresZKProof,
		a.ZKProofData,
		a.ZKProofVerified,
		string(a.FailureKind),
	)
	if isUniqueViolation(err) {
		return "", domain.ErrDuplicateAttempt
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert attempt: %w", err)
	}
	return id, nil
}

// Update applies a patch to one attempt.
func (r *AttemptRepo) Update(ctx context.Context, id string, p domain.AttemptPatch) error {
	var b setBuilder
	if p.Status != nil {
		b.add("status", string(*p.Status))
	}
	if p.RetryCount != nil {
		b.add("retry_count", *p.RetryCount)
	}
	if p.LastRetryAt != nil {
		b.add("last_retry_at", *p.LastRetryAt)
	}
	if p.ZKProofData != nil {
		b.add("zk_proof_data", p.ZKProofData)
	}
	if p.ZKProofVerified != nil {
		b.add("zk_proof_verified", *p.ZKProofVerified)
	}
	if p.TxHash != nil {
		b.add("tx_hash", *p.TxHash)
	}
	if p.ErrorMessage != nil {
		b.add("error_message", *p.ErrorMessage)
	}
	if p.FailureKind != nil {
		b.add("failure_kind", string(*p.FailureKind))
	}
	if b.empty() {
		return nil
	}
	b.add("updated_at", time.Now().UTC())

	query, args := b.update("attempts", id)
	res, err := r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateAttempt
	}
	if err != nil {
		return fmt.Errorf("failed to update attempt %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
	}
	return nil
}

// Query returns attempts matching the filter, oldest first.
func (r *AttemptRepo) Query(ctx context.Context, f domain.AttemptFilter) ([]*domain.Attempt, error) {
	where := attemptWhere(f)
	query := "SELECT " + attemptColumns + " FROM attempts" + where.String() +
		" ORDER BY created_at ASC" + limitClause(f.Limit)

	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, where.args...); err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}

	out := make([]*domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func attemptWhere(f domain.AttemptFilter) *whereBuilder {
	var w whereBuilder
	if len(f.IDs) > 0 {
		w.add("id::text = ANY(?)", pq.StringArray(f.IDs))
	}
	if len(f.Statuses) > 0 {
		statuses := make(pq.StringArray, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	if f.PlayerAddress != "" {
		w.add("player_address = ?", f.PlayerAddress)
	}
	if f.RunID != "" {
		w.add("run_id = ?", f.RunID)
	}
	return &w
}

// CountByStatus returns the number of attempts per status.
func (r *AttemptRepo) CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM attempts GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	counts := make(map[domain.AttemptStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.AttemptStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
