package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestApplyMigrationsCreatesEveryTable(t *testing.T) {
	d := openTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	tables := []string{
		"intents", "orders", "order_events", "fills", "positions",
		"allocations", "risk_daily_portfolio", "risk_daily_strategy",
		"strategy_state", "oms_state", "trade_marks", "recon_log",
		"trades", "risk_config",
	}
	for _, table := range tables {
		var name string
		err := d.DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing after migration: %v", table, err)
		}
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("first ApplyMigrations: %v", err)
	}
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
}

func TestApplyMigrationsAddsAdditiveColumns(t *testing.T) {
	d := openTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	for _, tc := range []struct{ table, column string }{
		{"orders", "broker_order_date"},
		{"trades", "entry_rationale_code"},
	} {
		exists, err := columnExists(d.DB, tc.table, tc.column)
		if err != nil {
			t.Fatalf("columnExists(%s,%s): %v", tc.table, tc.column, err)
		}
		if !exists {
			t.Fatalf("expected %s.%s added by migration", tc.table, tc.column)
		}
	}
}

func TestIntentsTableEnforcesUniqueIdempotencyKey(t *testing.T) {
	d := openTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	insert := `INSERT INTO intents (intent_id, idempotency_key, strategy_id, symbol, intent_type, urgency, time_horizon, status)
		VALUES (?, ?, 'KMP', '005930', 'ENTER', 'NORMAL', 'INTRADAY', 'EXECUTED')`
	if _, err := d.DB.Exec(insert, "i1", "dupe-key"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := d.DB.Exec(insert, "i2", "dupe-key"); err == nil {
		t.Fatal("expected a unique constraint violation on a duplicate idempotency_key")
	}
}
