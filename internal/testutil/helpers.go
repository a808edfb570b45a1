package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"PerpClearing/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// TestPostgresDSN returns the Postgres DSN for integration tests, or "" when
// none is configured.
func TestPostgresDSN() string {
	return os.Getenv("PERP_TEST_DATABASE_URL")
}

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("PERP_TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4223"
}

// tables are truncated between tests, children first.
var tables = []string{
	"event_log.events",
	"event_log.journal",
	"event_log.records",
	"event_log.rejections",
	"event_log.snapshots",
	"projections.balances",
	"projections.positions",
	"projections.funding_history",
	"projections.funding_rates",
	"projections.liquidation_history",
	"projections.insurance_fund",
	"projections.market_status",
	"projections.watermark",
}

// SetupTestDB opens the test database, applies the embedded migrations and
// empties every table. Skips the test when no database is configured or
// reachable. The returned cleanup truncates and closes.
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("PERP_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}

	migrator := persistence.NewMigrator(db, persistence.EmbeddedMigrations(), zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	truncate(db)

	cleanup := func() {
		truncate(db)
		db.Close()
	}
	return db, cleanup
}

func truncate(db *sql.DB) {
	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
	}
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}
