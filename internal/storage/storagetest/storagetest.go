// Package storagetest connects tests to a throwaway PostgreSQL database.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"libracirc/internal/storage"
)

// Open connects to the database named by TEST_DATABASE_URI (or the PG* variables), applies
// migrations and empties every table. The test is skipped when no database is reachable.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getenv("PGHOST", "localhost"),
			getenv("PGPORT", "5432"),
			getenv("PGUSER", "user"),
			getenv("PGPASSWORD", "password"),
			getenv("PGDATABASE", "testdb"),
		)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping database tests: could not connect to postgres: %v", err)
	}

	ctx := context.Background()
	if err := storage.Migrate(ctx, db.DB); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		TRUNCATE TABLE events, fines, loans, reservations, book_instances,
		               book_authors, authors, books, readers, operators CASCADE
	`)
	if err != nil {
		db.Close()
		t.Fatalf("failed to truncate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
