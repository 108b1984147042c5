package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

func TestSetBuilder_Update(t *testing.T) {
	var b setBuilder
	b.add("status", "completed")
	b.add("tx_hash", "0xabc")

	query, args := b.update("attempts", "id-1")

	want := "UPDATE attempts SET status = $1, tx_hash = $2 WHERE id = $3"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[2] != "id-1" {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestAttemptWhere(t *testing.T) {
	w := attemptWhere(domain.AttemptFilter{
		Statuses:      []domain.AttemptStatus{domain.AttemptStatusPending, domain.AttemptStatusFailed},
		PlayerAddress: "0xabc",
	})

	want := " WHERE status = ANY($1) AND player_address = $2"
	if w.String() != want {
		t.Errorf("where = %q, want %q", w.String(), want)
	}

	statuses, ok := w.args[0].(pq.StringArray)
	if !ok || len(statuses) != 2 || statuses[1] != "failed" {
		t.Errorf("unexpected status arg: %#v", w.args[0])
	}
}

func TestAttemptWhere_Empty(t *testing.T) {
	if got := attemptWhere(domain.AttemptFilter{}).String(); got != "" {
		t.Errorf("expected empty where, got %q", got)
	}
	if got := limitClause(0); got != "" {
		t.Errorf("expected empty limit, got %q", got)
	}
	if got := limitClause(5); got != " LIMIT 5" {
		t.Errorf("limit = %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(dup) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation reported as unique")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error reported as unique")
	}
}
