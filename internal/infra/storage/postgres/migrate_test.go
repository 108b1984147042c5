package postgres

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrations_NullifierTable(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, name := range names {
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS nullifiers") {
			found = true
			if !strings.Contains(string(body), "nullifier  TEXT PRIMARY KEY") {
				t.Errorf("%s: nullifier must be the primary key", name)
			}
		}
	}
	if !found {
		t.Fatal("no migration creates the nullifiers table")
	}
}

func TestNullifierQueries(t *testing.T) {
	if !strings.Contains(reserveNullifierQuery, "ON CONFLICT (nullifier) DO NOTHING") {
		t.Error("reserve must not overwrite an existing owner")
	}
	if !strings.Contains(releaseNullifierQuery, "owner = $2") {
		t.Error("release must be scoped to the owner")
	}
}
