package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS intents (
	intent_id        TEXT PRIMARY KEY,
	idempotency_key  TEXT UNIQUE NOT NULL,
	strategy_id      TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	intent_type      TEXT NOT NULL,
	desired_qty      INTEGER,
	target_qty       INTEGER,
	urgency          TEXT NOT NULL,
	time_horizon     TEXT NOT NULL,
	max_slippage_bps REAL,
	max_spread_bps   REAL,
	limit_price      REAL,
	stop_price       REAL,
	expiry_ts        REAL,
	entry_px         REAL,
	stop_px          REAL,
	hard_stop_px     REAL,
	rationale_code   TEXT,
	confidence       TEXT,
	signal_hash      TEXT,
	status           TEXT NOT NULL,
	result_message   TEXT,
	modified_qty     INTEGER,
	order_id         TEXT,
	cooldown_until   REAL,
	created_at       TEXT NOT NULL DEFAULT (datetime('now')),
	processed_at     TEXT
);

CREATE TABLE IF NOT EXISTS orders (
	oms_order_id     TEXT PRIMARY KEY,
	strategy_id      TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	order_type       TEXT NOT NULL,
	qty              INTEGER NOT NULL,
	filled_qty       INTEGER NOT NULL DEFAULT 0,
	limit_price      REAL,
	stop_price       REAL,
	status           TEXT NOT NULL,
	broker_order_id  TEXT,
	intent_id        TEXT,
	cancel_after_sec INTEGER,
	created_at       TEXT NOT NULL DEFAULT (datetime('now')),
	last_update_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS order_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	oms_order_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	detail      TEXT,
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fills (
	broker_exec_id TEXT PRIMARY KEY,
	oms_order_id   TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	qty            INTEGER NOT NULL,
	price          REAL NOT NULL,
	strategy_id    TEXT NOT NULL,
	realized_pnl   REAL,
	created_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS positions (
	symbol     TEXT PRIMARY KEY,
	real_qty   INTEGER NOT NULL DEFAULT 0,
	avg_price  REAL NOT NULL DEFAULT 0,
	frozen     INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS allocations (
	symbol       TEXT NOT NULL,
	strategy_id  TEXT NOT NULL,
	qty          INTEGER NOT NULL DEFAULT 0,
	cost_basis   REAL NOT NULL DEFAULT 0,
	entry_ts     TEXT,
	soft_stop_px REAL,
	time_stop    TEXT,
	updated_at   TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (symbol, strategy_id)
);

CREATE TABLE IF NOT EXISTS risk_daily_portfolio (
	trade_date         TEXT PRIMARY KEY,
	equity             REAL,
	buyable_cash       REAL,
	realized_pnl       REAL,
	unrealized_pnl     REAL,
	daily_pnl_pct      REAL,
	gross_exposure     REAL,
	gross_exposure_pct REAL,
	positions_count    INTEGER,
	halted             INTEGER NOT NULL DEFAULT 0,
	safe_mode          INTEGER NOT NULL DEFAULT 0,
	regime             TEXT,
	updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS risk_daily_strategy (
	trade_date     TEXT NOT NULL,
	strategy_id    TEXT NOT NULL,
	realized_pnl   REAL,
	unrealized_pnl REAL,
	trades_count   INTEGER,
	wins           INTEGER,
	losses         INTEGER,
	halted         INTEGER NOT NULL DEFAULT 0,
	updated_at     TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (trade_date, strategy_id)
);

CREATE TABLE IF NOT EXISTS strategy_state (
	strategy_id       TEXT PRIMARY KEY,
	mode              TEXT,
	positions_count   INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	last_heartbeat_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS oms_state (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	safe_mode           INTEGER NOT NULL DEFAULT 0,
	halt_new_entries    INTEGER NOT NULL DEFAULT 0,
	flatten_in_progress INTEGER NOT NULL DEFAULT 0,
	equity              REAL,
	buyable_cash        REAL,
	daily_pnl           REAL,
	daily_pnl_pct       REAL,
	broker_connected    INTEGER NOT NULL DEFAULT 0,
	recon_status        TEXT,
	drift_count         INTEGER NOT NULL DEFAULT 0,
	last_heartbeat_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trade_marks (
	trade_id         TEXT PRIMARY KEY,
	duration_seconds INTEGER,
	mae_pct          REAL,
	mfe_pct          REAL,
	capture_ratio    REAL,
	computed_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recon_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	recon_type   TEXT NOT NULL,
	symbol       TEXT,
	strategy_id  TEXT,
	before_value TEXT,
	after_value  TEXT,
	action       TEXT,
	details      TEXT,
	created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id        TEXT PRIMARY KEY,
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	entry_intent_id TEXT,
	setup_type      TEXT,
	confidence      TEXT,
	entry_qty       INTEGER NOT NULL,
	entry_price     REAL NOT NULL,
	exit_price      REAL,
	realized_pnl    REAL,
	mae             REAL,
	mfe             REAL,
	opened_at       TEXT NOT NULL DEFAULT (datetime('now')),
	closed_at       TEXT
);

CREATE TABLE IF NOT EXISTS risk_config (
	id                      INTEGER PRIMARY KEY CHECK (id = 1),
	daily_loss_warn_pct     REAL,
	daily_loss_halt_pct     REAL,
	max_gross_exposure_pct  REAL,
	max_net_exposure_pct    REAL,
	max_position_pct        REAL,
	max_positions_count     INTEGER,
	max_sector_pct          REAL,
	max_spread_bps          REAL,
	vi_cooldown_sec         REAL,
	current_regime          TEXT
);
`

// ApplyMigrations creates the schema if absent and applies additive,
// idempotent column migrations — the same ensureColumn pattern the
// teacher uses so upgrading an existing DB file never loses data.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	migrations := []struct {
		table, column, ddl string
	}{
		{"orders", "broker_order_date", "ALTER TABLE orders ADD COLUMN broker_order_date TEXT"},
		{"trades", "entry_rationale_code", "ALTER TABLE trades ADD COLUMN entry_rationale_code TEXT"},
	}
	for _, m := range migrations {
		exists, err := columnExists(d.DB, m.table, m.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := d.DB.Exec(m.ddl); err != nil {
				return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

func columnExists(conn *sql.DB, table, column string) (bool, error) {
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
