package storage_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/storage/storagetest"
)

func newTestSQLite(t *testing.T) storage.Store {
	t.Helper()
	r, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "fintrack.db"), storage.Options{StrictCategoryKind: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return r
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, newTestSQLite)
}

// TestPostgresStore runs the suite against a scratch database named by
// FINTRACK_TEST_DATABASE_URL. Every subtest truncates all tables.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("FINTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FINTRACK_TEST_DATABASE_URL not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		r, err := storage.NewPostgresRepository(url, storage.Options{StrictCategoryKind: true})
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		db, err := sql.Open("pgx", url)
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		if _, err := db.Exec(`TRUNCATE transactions, categories, users RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return r
	})
}

func TestSQLiteMalformedDateIsLoadedZero(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fintrack.db")
	r, err := storage.NewSQLiteRepository(path, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	u, err := r.CreateUser(ctx, core.User{Username: "alice", PasswordHash: "x"})
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`INSERT INTO transactions (user_id, kind, amount_cents, date, created_at) VALUES (?, 'expense', 100, 'not-a-date', CURRENT_TIMESTAMP)`, u.ID)
	raw.Close()
	if err != nil {
		t.Fatal(err)
	}

	r, err = storage.NewSQLiteRepository(path, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	txs, err := r.ListTransactions(ctx, u.ID)
	if err != nil {
		t.Fatalf("list should tolerate malformed rows: %v", err)
	}
	if len(txs) != 1 || !txs[0].Date.IsZero() || txs[0].CategoryName != core.UncategorizedName {
		t.Fatalf("unexpected rows %+v", txs)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fintrack.db")
	r, err := storage.NewSQLiteRepository(path, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateUser(ctx, core.User{Username: "alice", PasswordHash: "x"}); err != nil {
		t.Fatal(err)
	}
	r.Close()

	r, err = storage.NewSQLiteRepository(path, storage.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	if _, err := r.FindUserByName(ctx, "alice"); err != nil {
		t.Fatalf("user lost after reopen: %v", err)
	}
}
