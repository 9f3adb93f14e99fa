// Package integration exercises the inbound pipeline against a real
// PostgreSQL instance. Tests are skipped unless TEST_DATABASE_URL points at a
// database the suite may freely truncate.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/pamgw/internal/platform/db"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "TEST_DATABASE_URL not set, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 5, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect test database: %v\n", err)
		os.Exit(1)
	}
	testPool = pool

	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	os.Exit(code)
}

// migrationsDir locates the migrations directory relative to this file.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// resetTables empties every gateway table so each test starts clean.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE movement, visit, admin_file, identifier,
			patient_phone, patient_address, patient_name, patient,
			namespace, subscriber, message_log, emission_outbox, location, sequence`)
	if err != nil {
		t.Fatalf("reset tables: %v", err)
	}
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	err := testPool.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
