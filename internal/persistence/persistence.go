package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/db"
)

// Store is the OMS's write-through persistence facade. Every write is
// best-effort and asynchronous via Writer; every method here returns
// immediately and never blocks trading, matching oms/persistence.py's
// try/except-log-and-continue contract.
type Store struct {
	database *db.Database
	writer   *Writer
}

// New wires a Store over database. Pass a nil database to run fully
// in-memory (writes become no-ops) — useful for tests.
func New(database *db.Database) *Store {
	s := &Store{database: database}
	if database != nil {
		s.writer = NewWriter(database.DB, 500, 500*time.Millisecond)
	}
	return s
}

func (s *Store) connected() bool { return s.database != nil }

// Close flushes pending writes and releases resources.
func (s *Store) Close() {
	if s.writer != nil {
		s.writer.Close()
	}
}

// Metrics exposes writer throughput/loss counters. The /health handler
// does not report them.
func (s *Store) Metrics() WriterMetrics {
	if s.writer == nil {
		return WriterMetrics{}
	}
	return s.writer.Metrics()
}

// RecordIntent persists an intent and its result, upserting by
// idempotency key so a reprocessed intent updates rather than
// duplicates its row.
func (s *Store) RecordIntent(in *intent.Intent, res *intent.Result) {
	if !s.connected() {
		return
	}
	var modifiedQty, cooldownUntil any
	if res.ModifiedQty != nil {
		modifiedQty = *res.ModifiedQty
	}
	if res.CooldownUntil != nil {
		cooldownUntil = res.CooldownUntil.Unix()
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO intents (
				intent_id, idempotency_key, strategy_id, symbol, intent_type,
				desired_qty, target_qty, urgency, time_horizon, rationale_code,
				confidence, signal_hash, status, result_message, modified_qty,
				order_id, cooldown_until, processed_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?, datetime('now'))
			ON CONFLICT(idempotency_key) DO UPDATE SET
				status=excluded.status, result_message=excluded.result_message,
				modified_qty=excluded.modified_qty, order_id=excluded.order_id,
				cooldown_until=excluded.cooldown_until, processed_at=datetime('now')
		`,
		Args: []any{
			in.IntentID, in.IdempotencyKey, in.StrategyID, in.Symbol, string(in.Kind),
			nilableInt(in.DesiredQty), nilableInt(in.TargetQty), string(in.Urgency), string(in.TimeHorizon),
			in.RiskPayload.RationaleCode, string(in.RiskPayload.Confidence), in.SignalHash,
			string(res.Status), res.Message, modifiedQty, res.OrderID, cooldownUntil,
		},
	})
}

func nilableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// RecordOrder upserts a working order snapshot.
func (s *Store) RecordOrder(o *state.WorkingOrder, intentID string) {
	if !s.connected() {
		return
	}
	var limitPrice any
	if o.LimitPrice != nil {
		limitPrice = *o.LimitPrice
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO orders (
				oms_order_id, strategy_id, symbol, side, order_type, qty,
				filled_qty, limit_price, status, intent_id, cancel_after_sec
			) VALUES (?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(oms_order_id) DO UPDATE SET
				filled_qty=excluded.filled_qty, status=excluded.status,
				last_update_at=datetime('now')
		`,
		Args: []any{
			o.OrderID, o.StrategyID, o.Symbol, o.Side, o.OrderType, o.Qty,
			o.FilledQty, limitPrice, string(o.Status), intentID, int(o.CancelAfter.Seconds()),
		},
	})
}

// UpdateOrderStatus updates just an order's status/fill progress,
// called from the reconciliation loop without re-sending the full row.
func (s *Store) UpdateOrderStatus(orderID string, status state.OrderStatus, filledQty int) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `UPDATE orders SET status=?, filled_qty=?, last_update_at=datetime('now') WHERE oms_order_id=?`,
		Args:  []any{string(status), filledQty, orderID},
	})
}

// RecordOrderEvent appends a lifecycle event row for an order.
func (s *Store) RecordOrderEvent(orderID, eventType, detail string) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `INSERT INTO order_events (oms_order_id, event_type, detail) VALUES (?,?,?)`,
		Args:  []any{orderID, eventType, detail},
	})
}

// RecordFill records one execution, unique by broker execution ID so a
// duplicate fill report (e.g. after a reconnect) is a no-op.
func (s *Store) RecordFill(brokerExecID, orderID, symbol, side string, qty int, price float64, strategyID string, realizedPnl *float64) {
	if !s.connected() {
		return
	}
	var pnl any
	if realizedPnl != nil {
		pnl = *realizedPnl
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO fills (broker_exec_id, oms_order_id, symbol, side, qty, price, strategy_id, realized_pnl)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(broker_exec_id) DO NOTHING
		`,
		Args: []any{brokerExecID, orderID, symbol, side, qty, price, strategyID, pnl},
	})
}

// SyncAllocation upserts a strategy's allocation for a symbol.
func (s *Store) SyncAllocation(symbol string, a *state.StrategyAllocation) {
	if !s.connected() {
		return
	}
	var entryTs, timeStop any
	if a.EntryTs != nil {
		entryTs = a.EntryTs.Format(time.RFC3339)
	}
	if a.TimeStop != nil {
		timeStop = a.TimeStop.Format(time.RFC3339)
	}
	var softStop any
	if a.SoftStopPx != nil {
		softStop = *a.SoftStopPx
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO allocations (symbol, strategy_id, qty, cost_basis, entry_ts, soft_stop_px, time_stop, updated_at)
			VALUES (?,?,?,?,?,?,?, datetime('now'))
			ON CONFLICT(symbol, strategy_id) DO UPDATE SET
				qty=excluded.qty, cost_basis=excluded.cost_basis, entry_ts=excluded.entry_ts,
				soft_stop_px=excluded.soft_stop_px, time_stop=excluded.time_stop, updated_at=datetime('now')
		`,
		Args: []any{symbol, a.StrategyID, a.Qty, a.CostBasis, entryTs, softStop, timeStop},
	})
}

// SyncPosition upserts the broker-authoritative position snapshot.
func (s *Store) SyncPosition(p *state.SymbolPosition) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO positions (symbol, real_qty, avg_price, frozen, updated_at)
			VALUES (?,?,?,?, datetime('now'))
			ON CONFLICT(symbol) DO UPDATE SET
				real_qty=excluded.real_qty, avg_price=excluded.avg_price,
				frozen=excluded.frozen, updated_at=datetime('now')
		`,
		Args: []any{p.Symbol, p.RealQty, p.AvgPrice, boolToInt(p.Frozen)},
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// OpenTrade records the start of a round-trip trade.
func (s *Store) OpenTrade(tradeID, strategyID, symbol, entryIntentID, setupType string, confidence intent.Confidence, qty int, entryPrice float64) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO trades (trade_id, strategy_id, symbol, entry_intent_id, setup_type, confidence, entry_qty, entry_price)
			VALUES (?,?,?,?,?,?,?,?)
		`,
		Args: []any{tradeID, strategyID, symbol, entryIntentID, setupType, string(confidence), qty, entryPrice},
	})
}

// CloseTrade closes an open trade with its realized PnL and excursion marks.
func (s *Store) CloseTrade(tradeID string, exitPrice, realizedPnl, mae, mfe float64) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			UPDATE trades SET exit_price=?, realized_pnl=?, mae=?, mfe=?, closed_at=datetime('now')
			WHERE trade_id=?
		`,
		Args: []any{exitPrice, realizedPnl, mae, mfe, tradeID},
	})
}

// FindOpenTrade returns the trade ID of the oldest still-open trade for
// strategyID on symbol, or "" if none.
func (s *Store) FindOpenTrade(ctx context.Context, strategyID, symbol string) string {
	if !s.connected() {
		return ""
	}
	var tradeID string
	err := s.database.DB.QueryRowContext(ctx, `
		SELECT trade_id FROM trades
		WHERE strategy_id=? AND symbol=? AND closed_at IS NULL
		ORDER BY opened_at ASC LIMIT 1
	`, strategyID, symbol).Scan(&tradeID)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("persistence: find open trade: %v", err)
		}
		return ""
	}
	return tradeID
}

// LogRecon appends one reconciliation event: a position sync, a drift
// correction, a freeze/unfreeze, etc. before/after are pre-rendered
// (e.g. via fmt.Sprintf) rather than marshalled here, keeping this
// package free of a JSON dependency it otherwise has no use for.
func (s *Store) LogRecon(reconType, symbol, strategyID, beforeValue, afterValue, action, details string) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO recon_log (recon_type, symbol, strategy_id, before_value, after_value, action, details)
			VALUES (?,?,?,?,?,?,?)
		`,
		Args: []any{reconType, nilableString(symbol), nilableString(strategyID), nilableString(beforeValue), nilableString(afterValue), nilableString(action), nilableString(details)},
	})
}

func nilableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateDailyRiskPortfolio snapshots the day's portfolio-level risk
// state. daily_pnl_pct and gross_exposure_pct are derived here from
// equity the same way the original computes them at the call site.
func (s *Store) UpdateDailyRiskPortfolio(tradeDate string, equity, buyableCash, realizedPnl, unrealizedPnl, grossExposure float64, positionsCount int, halted, safeMode bool, regime string) {
	if !s.connected() {
		return
	}
	denom := equity
	if denom < 1 {
		denom = 1
	}
	dailyPnlPct := (realizedPnl + unrealizedPnl) / denom
	grossExposurePct := grossExposure / denom * 100

	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO risk_daily_portfolio (
				trade_date, equity, buyable_cash, realized_pnl, unrealized_pnl, daily_pnl_pct,
				gross_exposure, gross_exposure_pct, positions_count, halted, safe_mode, regime
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(trade_date) DO UPDATE SET
				equity=excluded.equity, buyable_cash=excluded.buyable_cash,
				realized_pnl=excluded.realized_pnl, unrealized_pnl=excluded.unrealized_pnl,
				daily_pnl_pct=excluded.daily_pnl_pct, gross_exposure=excluded.gross_exposure,
				gross_exposure_pct=excluded.gross_exposure_pct, positions_count=excluded.positions_count,
				halted=excluded.halted, safe_mode=excluded.safe_mode,
				regime=COALESCE(excluded.regime, risk_daily_portfolio.regime), updated_at=datetime('now')
		`,
		Args: []any{tradeDate, equity, buyableCash, realizedPnl, unrealizedPnl, dailyPnlPct,
			grossExposure, grossExposurePct, positionsCount, boolToInt(halted), boolToInt(safeMode), nilableString(regime)},
	})
}

// UpdateDailyRiskStrategy snapshots a strategy's per-day risk stats.
func (s *Store) UpdateDailyRiskStrategy(tradeDate, strategyID string, realizedPnl, unrealizedPnl float64, tradesCount, wins, losses int, halted bool) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO risk_daily_strategy (trade_date, strategy_id, realized_pnl, unrealized_pnl, trades_count, wins, losses, halted)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(trade_date, strategy_id) DO UPDATE SET
				realized_pnl=excluded.realized_pnl, unrealized_pnl=excluded.unrealized_pnl,
				trades_count=excluded.trades_count, wins=excluded.wins, losses=excluded.losses,
				halted=excluded.halted, updated_at=datetime('now')
		`,
		Args: []any{tradeDate, strategyID, realizedPnl, unrealizedPnl, tradesCount, wins, losses, boolToInt(halted)},
	})
}

// UpdateStrategyState records a strategy's self-reported heartbeat: its
// operating mode and position count. The row is written only; /health
// does not read it.
func (s *Store) UpdateStrategyState(strategyID, mode string, positionsCount int, lastError string) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO strategy_state (strategy_id, mode, positions_count, last_error, last_heartbeat_at)
			VALUES (?, ?, ?, ?, datetime('now'))
			ON CONFLICT(strategy_id) DO UPDATE SET
				mode=excluded.mode, positions_count=excluded.positions_count,
				last_error=excluded.last_error, last_heartbeat_at=datetime('now')
		`,
		Args: []any{strategyID, mode, positionsCount, lastError},
	})
}

// Heartbeat persists the OMS's own singleton status row: account
// scalars, control flags, and reconciliation health. The row is written
// only; /health does not read it.
func (s *Store) Heartbeat(equity, buyableCash, dailyPnl, dailyPnlPct float64, safeMode, haltNewEntries, brokerConnected bool, reconStatus string, driftCount int) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO oms_state (
				id, safe_mode, halt_new_entries, equity, buyable_cash,
				daily_pnl, daily_pnl_pct, broker_connected, recon_status, drift_count, last_heartbeat_at
			) VALUES (1, ?,?,?,?,?,?,?,?,?, datetime('now'))
			ON CONFLICT(id) DO UPDATE SET
				safe_mode=excluded.safe_mode, halt_new_entries=excluded.halt_new_entries,
				equity=excluded.equity, buyable_cash=excluded.buyable_cash,
				daily_pnl=excluded.daily_pnl, daily_pnl_pct=excluded.daily_pnl_pct,
				broker_connected=excluded.broker_connected, recon_status=excluded.recon_status,
				drift_count=excluded.drift_count, last_heartbeat_at=datetime('now')
		`,
		Args: []any{boolToInt(safeMode), boolToInt(haltNewEntries), equity, buyableCash, dailyPnl, dailyPnlPct, boolToInt(brokerConnected), reconStatus, driftCount},
	})
}

// SetFlattenInProgress updates just the flatten-in-progress flag,
// called around FlattenAll without waiting for the next full heartbeat.
func (s *Store) SetFlattenInProgress(inProgress bool) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO oms_state (id, flatten_in_progress, last_heartbeat_at) VALUES (1, ?, datetime('now'))
			ON CONFLICT(id) DO UPDATE SET flatten_in_progress=excluded.flatten_in_progress, last_heartbeat_at=datetime('now')
		`,
		Args: []any{boolToInt(inProgress)},
	})
}

// RecordTradeMarks stores a closed trade's excursion metrics.
func (s *Store) RecordTradeMarks(tradeID string, duration time.Duration, maePct, mfePct, captureRatio float64) {
	if !s.connected() {
		return
	}
	s.writer.Write(WriteOp{
		Query: `
			INSERT INTO trade_marks (trade_id, duration_seconds, mae_pct, mfe_pct, capture_ratio)
			VALUES (?,?,?,?,?)
			ON CONFLICT(trade_id) DO UPDATE SET
				duration_seconds=excluded.duration_seconds, mae_pct=excluded.mae_pct,
				mfe_pct=excluded.mfe_pct, capture_ratio=excluded.capture_ratio, computed_at=datetime('now')
		`,
		Args: []any{tradeID, int(duration.Seconds()), maePct, mfePct, captureRatio},
	})
}

// --- Startup load (synchronous, direct reads — not best-effort) ---

// LoadPositions returns every persisted position.
func (s *Store) LoadPositions(ctx context.Context) ([]*state.SymbolPosition, error) {
	if !s.connected() {
		return nil, nil
	}
	rows, err := s.database.DB.QueryContext(ctx, `SELECT symbol, real_qty, avg_price, frozen FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.SymbolPosition
	for rows.Next() {
		p := &state.SymbolPosition{Allocations: make(map[string]*state.StrategyAllocation)}
		var frozen int
		if err := rows.Scan(&p.Symbol, &p.RealQty, &p.AvgPrice, &frozen); err != nil {
			return nil, err
		}
		p.Frozen = frozen != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadAllocations returns every persisted allocation, keyed by symbol.
func (s *Store) LoadAllocations(ctx context.Context) (map[string][]*state.StrategyAllocation, error) {
	if !s.connected() {
		return nil, nil
	}
	rows, err := s.database.DB.QueryContext(ctx, `SELECT symbol, strategy_id, qty, cost_basis, entry_ts FROM allocations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]*state.StrategyAllocation)
	for rows.Next() {
		var symbol string
		var entryTs sql.NullString
		a := &state.StrategyAllocation{}
		if err := rows.Scan(&symbol, &a.StrategyID, &a.Qty, &a.CostBasis, &entryTs); err != nil {
			return nil, err
		}
		if entryTs.Valid {
			if t, err := time.Parse(time.RFC3339, entryTs.String); err == nil {
				a.EntryTs = &t
			}
		}
		out[symbol] = append(out[symbol], a)
	}
	return out, rows.Err()
}

// LoadWorkingOrders returns every order not yet in a terminal state.
func (s *Store) LoadWorkingOrders(ctx context.Context) ([]*state.WorkingOrder, error) {
	if !s.connected() {
		return nil, nil
	}
	rows, err := s.database.DB.QueryContext(ctx, `
		SELECT oms_order_id, symbol, side, qty, filled_qty, limit_price, order_type, status, strategy_id, cancel_after_sec
		FROM orders WHERE status IN ('PENDING','SUBMITTING','WORKING','PARTIAL')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.WorkingOrder
	for rows.Next() {
		o := &state.WorkingOrder{}
		var limitPrice sql.NullFloat64
		var cancelAfterSec sql.NullInt64
		if err := rows.Scan(&o.OrderID, &o.Symbol, &o.Side, &o.Qty, &o.FilledQty, &limitPrice, &o.OrderType, &o.Status, &o.StrategyID, &cancelAfterSec); err != nil {
			return nil, err
		}
		if limitPrice.Valid {
			lp := limitPrice.Float64
			o.LimitPrice = &lp
		}
		if cancelAfterSec.Valid {
			o.CancelAfter = time.Duration(cancelAfterSec.Int64) * time.Second
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OMSFlags is the persisted subset of the OMS's own control flags.
type OMSFlags struct {
	SafeMode          bool
	HaltNewEntries    bool
	FlattenInProgress bool
}

// LoadOMSState returns the persisted OMS flags, or zero-value defaults
// if no row exists yet.
func (s *Store) LoadOMSState(ctx context.Context) (OMSFlags, error) {
	if !s.connected() {
		return OMSFlags{}, nil
	}
	var safeMode, halt, flatten int
	err := s.database.DB.QueryRowContext(ctx, `SELECT safe_mode, halt_new_entries, flatten_in_progress FROM oms_state WHERE id=1`).
		Scan(&safeMode, &halt, &flatten)
	if err == sql.ErrNoRows {
		return OMSFlags{}, nil
	}
	if err != nil {
		return OMSFlags{}, err
	}
	return OMSFlags{SafeMode: safeMode != 0, HaltNewEntries: halt != 0, FlattenInProgress: flatten != 0}, nil
}
