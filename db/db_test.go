package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres migration test")
	}
	db, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Errorf("Connect(\"\") expected error")
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	// twice: embedded SQL must be idempotent
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	var exists bool
	if err := db.QueryRow(`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'bot_state')`).Scan(&exists); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if !exists {
		t.Errorf("bot_state does not exist after migration")
	}
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS bot_state`); err != nil {
		t.Fatalf("drop bot_state: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS schema_migrations`); err != nil {
		t.Fatalf("drop schema_migrations: %v", err)
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() second run error = %v", err)
	}

	version, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty {
		t.Errorf("migration version is dirty")
	}
	if version != 1 {
		t.Errorf("migration version = %d, want 1", version)
	}
}

func TestSingleRowConstraint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Prepare(ctx, db); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO bot_state (id, document) VALUES (2, '{}')`); err == nil {
		t.Errorf("expected check constraint to reject id=2")
	}
}
