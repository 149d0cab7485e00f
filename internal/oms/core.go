// Package oms is the central order management system: the orchestrator
// that ties state, risk, arbitration, planning, the broker adapter, and
// persistence together behind a single SubmitIntent entry point. Ported
// from oms/oms_core.py.
package oms

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sehyungp92/k-stock-trader-oms/internal/arbitration"
	"github.com/sehyungp92/k-stock-trader-oms/internal/broker"
	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/persistence"
	"github.com/sehyungp92/k-stock-trader-oms/internal/planner"
	"github.com/sehyungp92/k-stock-trader-oms/internal/reconciliation"
	"github.com/sehyungp92/k-stock-trader-oms/internal/risk"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/cache"
)

// unknownStrategy mirrors state.UnknownStrategy; kept local for the
// flatten-all drift-sweep intent below.
const unknownStrategy = state.UnknownStrategy

// IdempotencyStore deduplicates intent submission by idempotency key.
// Swap InMemoryIdempotencyStore for a Redis/Postgres-backed store to
// survive a restart without reprocessing in-flight intents.
type IdempotencyStore interface {
	Get(key string) (*intent.Result, bool)
	Put(key string, result *intent.Result)
}

// InMemoryIdempotencyStore is the default IdempotencyStore.
type InMemoryIdempotencyStore struct {
	mu    sync.RWMutex
	store map[string]*intent.Result
}

// NewInMemoryIdempotencyStore builds an empty store.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{store: make(map[string]*intent.Result)}
}

func (s *InMemoryIdempotencyStore) Get(key string) (*intent.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.store[key]
	return r, ok
}

func (s *InMemoryIdempotencyStore) Put(key string, result *intent.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = result
}

// Core is the central order management system.
//
// Processes intents through: validation+expiry, risk checks,
// arbitration, order planning, execution. An allocation is only
// updated on FILL, never on submit.
type Core struct {
	Store   *state.Store
	Risk    *risk.Gateway
	Arb     *arbitration.Engine
	Planner *planner.Planner
	Broker  *broker.Adapter
	Persist *persistence.Store
	Prices  *cache.ShardedPriceCache
	Bus     *events.Bus

	idem  IdempotencyStore
	recon *reconciliation.Service
}

// New wires a Core. sectorMap may be nil (all symbols fall back to the
// sector exposure tracker's UNKNOWN bucket). idem/bus/priceCache may be
// nil; sensible defaults/no-ops are substituted.
func New(brokerAdapter *broker.Adapter, riskConfig risk.Config, sectorMap map[string]string, priceCache *cache.ShardedPriceCache, persist *persistence.Store, idem IdempotencyStore, bus *events.Bus) *Core {
	if priceCache == nil {
		priceCache = cache.NewShardedPriceCache()
	}
	if idem == nil {
		idem = NewInMemoryIdempotencyStore()
	}
	if persist == nil {
		persist = persistence.New(nil)
	}

	store := state.NewStore()
	riskGateway := risk.New(store, riskConfig, priceCache.Get, sectorMap)

	c := &Core{
		Store:   store,
		Risk:    riskGateway,
		Arb:     arbitration.New(store),
		Planner: planner.New(),
		Broker:  brokerAdapter,
		Persist: persist,
		Prices:  priceCache,
		Bus:     bus,
		idem:    idem,
	}
	c.recon = reconciliation.New(store, riskGateway, brokerAdapter, persist, c, bus, 0)
	return c
}

func (c *Core) publish(e events.Event, payload any) {
	if c.Bus != nil {
		c.Bus.Publish(e, payload)
	}
}

// ------------------------------------------------------------------
// Main entry point
// ------------------------------------------------------------------

// SubmitIntent is the main entry point strategies use to interact with
// the OMS. Safe for concurrent use across symbols; intents on the same
// symbol are serialized.
func (c *Core) SubmitIntent(ctx context.Context, in *intent.Intent) *intent.Result {
	if cached, ok := c.idem.Get(in.IdempotencyKey); ok {
		log.Printf("oms: duplicate intent %s", in.IdempotencyKey)
		return cached
	}

	if err := in.Validate(); err != nil {
		return c.finalize(in, intent.StatusRejected, fmt.Sprintf("validation failed: %v", err), "", nil, nil)
	}

	unlock := c.Store.LockSymbol(in.Symbol)
	defer unlock()

	return c.processIntent(ctx, in)
}

func (c *Core) processIntent(ctx context.Context, in *intent.Intent) *intent.Result {
	if in.Kind == intent.KindCancelOrders {
		return c.handleCancelOrders(ctx, in)
	}
	if in.Kind == intent.KindModifyRisk {
		return c.handleModifyRisk(in)
	}

	// Exits/reductions/flattens register as pending while they are
	// processed; arbitrateEntry defers an ENTER while an EXIT or FLATTEN
	// is pending. SubmitIntent holds the symbol lock for the whole call,
	// so an ENTER on the same symbol submitted through it waits for the
	// lock and runs after the exit has been deregistered.
	tracksPending := in.Kind == intent.KindExit || in.Kind == intent.KindFlatten || in.Kind == intent.KindReduce
	if tracksPending {
		c.Arb.AddPending(in)
		defer c.Arb.RemovePending(in)
	}

	riskResult := c.Risk.Check(in)
	switch riskResult.Decision {
	case risk.DecisionReject:
		c.releaseLockIfEntry(in)
		var cooldownUntil *time.Time
		if riskResult.CooldownSec != nil {
			until := time.Now().Add(time.Duration(*riskResult.CooldownSec * float64(time.Second)))
			cooldownUntil = &until
		}
		c.publish(events.EventRiskDecision, events.RiskDecisionPayload{IntentID: in.IntentID, StrategyID: in.StrategyID, Symbol: in.Symbol, Decision: string(riskResult.Decision), Reason: riskResult.Reason})
		return c.finalize(in, intent.StatusRejected, riskResult.Reason, "", nil, cooldownUntil)
	case risk.DecisionDefer:
		c.releaseLockIfEntry(in)
		c.publish(events.EventRiskDecision, events.RiskDecisionPayload{IntentID: in.IntentID, StrategyID: in.StrategyID, Symbol: in.Symbol, Decision: string(riskResult.Decision), Reason: riskResult.Reason})
		return &intent.Result{IntentID: in.IntentID, Status: intent.StatusDeferred, Message: riskResult.Reason}
	case risk.DecisionModify:
		c.publish(events.EventRiskDecision, events.RiskDecisionPayload{IntentID: in.IntentID, StrategyID: in.StrategyID, Symbol: in.Symbol, Decision: string(riskResult.Decision), Reason: riskResult.Reason})
	}

	finalQty := 0
	if riskResult.ModifiedQty != nil {
		finalQty = *riskResult.ModifiedQty
	} else if in.DesiredQty != nil {
		finalQty = *in.DesiredQty
	} else if in.TargetQty != nil {
		finalQty = *in.TargetQty
	}

	arbDecision := c.Arb.Arbitrate(in)
	switch arbDecision.Result {
	case arbitration.ResultDefer:
		return &intent.Result{IntentID: in.IntentID, Status: intent.StatusDeferred, Message: arbDecision.Reason}
	case arbitration.ResultCancel:
		c.releaseLockIfEntry(in)
		return c.finalize(in, intent.StatusRejected, arbDecision.Reason, "", nil, nil)
	}

	result := c.planAndExecute(ctx, in, finalQty, riskResult.ModifiedQty != nil)
	if result.Status == intent.StatusRejected {
		c.releaseLockIfEntry(in)
	}
	return result
}

// ------------------------------------------------------------------
// CANCEL_ORDERS handler
// ------------------------------------------------------------------

func (c *Core) handleCancelOrders(ctx context.Context, in *intent.Intent) *intent.Result {
	pos := c.Store.GetPosition(in.Symbol)
	cancelled := 0

	res := c.Broker.GetOrders(ctx)
	brokerByID := make(map[string]broker.Order)
	if res.OK {
		for _, bo := range res.Data {
			brokerByID[bo.OrderID] = bo
		}
	} else {
		log.Printf("oms: broker orders unavailable during cancel: %s", res.ErrorMessage)
	}

	for _, wo := range c.Store.GetWorkingOrders(in.Symbol) {
		if wo.StrategyID != in.StrategyID {
			continue
		}
		if bo, ok := brokerByID[wo.OrderID]; ok {
			if delta := bo.FilledQty - wo.FilledQty; delta > 0 {
				c.ApplyFill(wo, delta)
				wo.FilledQty = bo.FilledQty
			}
		}
		if err := c.Broker.CancelOrder(ctx, wo.OrderID, wo.Symbol, wo.Qty-wo.FilledQty, wo.Branch); err == nil {
			c.Store.RemoveWorkingOrder(wo.Symbol, wo.OrderID)
			cancelled++
		}
	}
	_ = pos

	return c.finalize(in, intent.StatusExecuted, fmt.Sprintf("Cancelled %d order(s)", cancelled), "", nil, nil)
}

// ------------------------------------------------------------------
// MODIFY_RISK handler
// ------------------------------------------------------------------

func (c *Core) handleModifyRisk(in *intent.Intent) *intent.Result {
	pos := c.Store.GetPosition(in.Symbol)
	alloc := pos.GetAllocation(in.StrategyID)
	if alloc == nil {
		return c.finalize(in, intent.StatusRejected, "No allocation to modify", "", nil, nil)
	}

	rp := in.RiskPayload
	if rp.StopPx != nil {
		alloc.SoftStopPx = rp.StopPx
	}
	if rp.HardStopPx != nil {
		pos.HardStopPx = rp.HardStopPx
	}
	if in.Constraints.ExpiryTs != nil {
		t := time.Unix(int64(*in.Constraints.ExpiryTs), 0)
		alloc.TimeStop = &t
	}

	c.Persist.SyncAllocation(in.Symbol, alloc)

	return c.finalize(in, intent.StatusExecuted, "Risk overlays updated", "", nil, nil)
}

// ------------------------------------------------------------------
// Plan + Execute (ENTER, EXIT, REDUCE, FLATTEN, SET_TARGET)
// ------------------------------------------------------------------

func (c *Core) planAndExecute(ctx context.Context, in *intent.Intent, finalQty int, wasModified bool) *intent.Result {
	currentPrice := c.currentPrice(in.Symbol)

	var plan planner.Plan
	switch in.Kind {
	case intent.KindEnter:
		plan = c.Planner.CreatePlan(in.Symbol, "BUY", finalQty, in, currentPrice)

	case intent.KindExit, intent.KindFlatten:
		pos := c.Store.GetPosition(in.Symbol)
		alloc := pos.GetAllocation(in.StrategyID)
		allocQty := 0
		if alloc != nil {
			allocQty = alloc.Qty
		}
		if allocQty <= 0 {
			pending := pos.WorkingQty(in.StrategyID, "BUY")
			if pending > 0 {
				return c.handleCancelOrders(ctx, in)
			}
			return c.finalize(in, intent.StatusRejected, "No allocation to exit", "", nil, nil)
		}
		exitQty := allocQty
		if in.DesiredQty != nil && *in.DesiredQty < allocQty {
			exitQty = *in.DesiredQty
		}
		plan = c.Planner.CreateExitPlan(in.Symbol, exitQty, in.StrategyID, in.IntentID)

	case intent.KindReduce:
		plan = c.Planner.CreateExitPlan(in.Symbol, absInt(finalQty), in.StrategyID, in.IntentID)

	case intent.KindSetTarget:
		pos := c.Store.GetPosition(in.Symbol)
		alloc := pos.GetAllocation(in.StrategyID)
		currentAlloc := 0
		if alloc != nil {
			currentAlloc = alloc.Qty
		}
		target := 0
		if in.TargetQty != nil {
			target = *in.TargetQty
		}
		delta := target - currentAlloc
		if delta == 0 {
			return c.finalize(in, intent.StatusExecuted, "Already at target", "", nil, nil)
		}
		if delta > 0 {
			plan = c.Planner.CreatePlan(in.Symbol, "BUY", delta, in, currentPrice)
		} else {
			plan = c.Planner.CreateExitPlan(in.Symbol, absInt(delta), in.StrategyID, in.IntentID)
		}

	default:
		return c.finalize(in, intent.StatusRejected, fmt.Sprintf("unsupported intent type: %s", in.Kind), "", nil, nil)
	}

	execResult := c.Broker.SubmitOrder(ctx, plan.Symbol, plan.Side, plan.Qty, string(plan.OrderType), plan.LimitPrice, plan.StopPrice, 3)
	if !execResult.Success {
		return c.finalize(in, intent.StatusRejected, execResult.Message, "", nil, nil)
	}

	wo := &state.WorkingOrder{
		OrderID:     execResult.OrderID,
		Symbol:      plan.Symbol,
		Side:        plan.Side,
		Qty:         plan.Qty,
		LimitPrice:  plan.LimitPrice,
		OrderType:   string(plan.OrderType),
		Status:      state.OrderWorking,
		StrategyID:  in.StrategyID,
		SubmitTime:  time.Now(),
		CancelAfter: plan.CancelAfter,
	}
	c.Store.AddWorkingOrder(wo)

	if plan.Side == "BUY" {
		reservePrice := currentPrice
		if plan.LimitPrice != nil {
			reservePrice = *plan.LimitPrice
		}
		c.Risk.ReserveSector(plan.Symbol, plan.Qty, reservePrice)
	}

	c.Persist.RecordOrder(wo, in.IntentID)
	c.Persist.RecordOrderEvent(wo.OrderID, "ORDER_SUBMITTED", fmt.Sprintf("strategy_id=%s symbol=%s status_after=WORKING", in.StrategyID, plan.Symbol))
	c.publish(events.EventOrderUpdate, events.OrderUpdatePayload{OrderID: wo.OrderID, Symbol: wo.Symbol, StrategyID: wo.StrategyID, Status: string(wo.Status), FilledQty: 0, Qty: wo.Qty})

	var modifiedQty *int
	if wasModified {
		modifiedQty = &finalQty
	}
	return c.finalize(in, intent.StatusExecuted, "", execResult.OrderID, modifiedQty, nil)
}

// ------------------------------------------------------------------
// Fill handling (implements reconciliation.FillApplier)
// ------------------------------------------------------------------

// ApplyFill applies a detected fill to the strategy's allocation.
// real_qty itself is updated from the broker position sync in the
// reconciliation cycle, never here, to avoid double-crediting a fill
// both on detection and on the next snapshot.
func (c *Core) ApplyFill(wo *state.WorkingOrder, fillQty int) {
	qtyDelta := fillQty
	if wo.Side == "SELL" {
		qtyDelta = -fillQty
	}

	fillPrice := 0.0
	if wo.LimitPrice != nil {
		fillPrice = *wo.LimitPrice
	}

	var realizedPnl *float64
	if wo.Side == "SELL" {
		pos := c.Store.GetPosition(wo.Symbol)
		if alloc := pos.GetAllocation(wo.StrategyID); alloc != nil && alloc.CostBasis > 0 {
			pnl := (fillPrice - alloc.CostBasis) * float64(fillQty)
			c.Store.RecordRealizedPnl(pnl)
			realizedPnl = &pnl
		}
	}

	c.Store.UpdateAllocation(wo.Symbol, wo.StrategyID, qtyDelta, fillPrice)

	if wo.Side == "BUY" {
		c.Risk.OnSectorFill(wo.Symbol, fillQty, fillPrice)
	} else {
		c.Risk.OnSectorClose(wo.Symbol, fillQty, fillPrice)
	}

	log.Printf("oms: fill applied %s %s %d for %s", wo.Symbol, wo.Side, fillQty, wo.StrategyID)

	execID := fmt.Sprintf("%s:%d", wo.OrderID, wo.FilledQty+fillQty)
	c.Persist.RecordFill(execID, wo.OrderID, wo.Symbol, wo.Side, fillQty, fillPrice, wo.StrategyID, realizedPnl)

	pos := c.Store.GetPosition(wo.Symbol)
	if alloc := pos.GetAllocation(wo.StrategyID); alloc != nil {
		c.Persist.SyncAllocation(wo.Symbol, alloc)
	}

	if wo.Side == "BUY" {
		tradeID := uuid.NewString()
		c.Persist.OpenTrade(tradeID, wo.StrategyID, wo.Symbol, wo.OrderID, "", intent.ConfidenceYellow, fillQty, fillPrice)
	} else {
		ctx := context.Background()
		if tradeID := c.Persist.FindOpenTrade(ctx, wo.StrategyID, wo.Symbol); tradeID != "" {
			pnl := 0.0
			if realizedPnl != nil {
				pnl = *realizedPnl
			}
			c.Persist.CloseTrade(tradeID, fillPrice, pnl, 0, 0)
		}
	}

	c.publish(events.EventFill, events.FillPayload{OrderID: wo.OrderID, Symbol: wo.Symbol, Side: wo.Side, StrategyID: wo.StrategyID, Qty: fillQty, Price: fillPrice, RealizedPnl: realizedPnl})
}

// ------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------

func (c *Core) releaseLockIfEntry(in *intent.Intent) {
	if in.Kind == intent.KindEnter {
		c.Store.ReleaseEntryLock(in.Symbol, in.StrategyID)
	}
}

// currentPrice resolves a live price for symbol from the shared cache,
// falling back to the position's last-known average price when the
// cache has nothing (e.g. a symbol with no open position yet).
func (c *Core) currentPrice(symbol string) float64 {
	if px, ok := c.Prices.Get(symbol); ok && px > 0 {
		return px
	}
	return c.Store.GetPosition(symbol).AvgPrice
}

func (c *Core) finalize(in *intent.Intent, status intent.Status, message, orderID string, modifiedQty *int, cooldownUntil *time.Time) *intent.Result {
	result := &intent.Result{
		IntentID:      in.IntentID,
		Status:        status,
		Message:       message,
		ModifiedQty:   modifiedQty,
		OrderID:       orderID,
		CooldownUntil: cooldownUntil,
	}

	// Only cache EXECUTED results — REJECTED/DEFERRED must be retryable.
	if status == intent.StatusExecuted {
		c.idem.Put(in.IdempotencyKey, result)
	}

	c.Persist.RecordIntent(in, result)
	c.publish(events.EventIntentResult, events.IntentResultPayload{
		IntentID: in.IntentID, StrategyID: in.StrategyID, Symbol: in.Symbol,
		Kind: string(in.Kind), Status: string(status), Message: message, OrderID: orderID,
	})

	return result
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ------------------------------------------------------------------
// Flatten-all / EOD / queries
// ------------------------------------------------------------------

// FlattenAll emergency-flattens every open position via the normal
// intent pipeline, including any unallocated drift.
func (c *Core) FlattenAll(ctx context.Context) {
	c.Risk.TriggerFlatten()
	c.Persist.SetFlattenInProgress(true)

	for _, pos := range c.Store.AllPositions() {
		if pos.RealQty <= 0 {
			continue
		}
		for strategyID, alloc := range pos.Allocations {
			if alloc.Qty <= 0 {
				continue
			}
			qty := alloc.Qty
			in := intent.New(intent.KindExit, strategyID, pos.Symbol)
			in.DesiredQty = &qty
			in.Urgency = intent.UrgencyHigh
			in.RiskPayload.RationaleCode = "emergency_flatten"
			c.SubmitIntent(ctx, in)
		}
		if unallocated := pos.RealQty - pos.TotalAllocated(); unallocated > 0 {
			in := intent.New(intent.KindExit, unknownStrategy, pos.Symbol)
			in.DesiredQty = &unallocated
			in.Urgency = intent.UrgencyHigh
			in.RiskPayload.RationaleCode = "emergency_flatten"
			c.SubmitIntent(ctx, in)
		}
	}
}

// GetPosition returns the in-memory position snapshot for symbol.
func (c *Core) GetPosition(symbol string) *state.SymbolPosition {
	return c.Store.GetPosition(symbol)
}

// GetAllocation returns strategyID's allocated qty on symbol.
func (c *Core) GetAllocation(symbol, strategyID string) int {
	alloc := c.Store.GetPosition(symbol).GetAllocation(strategyID)
	if alloc == nil {
		return 0
	}
	return alloc.Qty
}

// EodCleanup cancels every working order and resets daily state. Unlike
// the steady-state reconciliation cycle, it re-queries the broker after
// each cancel to catch a fill that landed between the initial snapshot
// and the cancel request.
func (c *Core) EodCleanup(ctx context.Context) {
	res := c.Broker.GetOrders(ctx)
	brokerByID := make(map[string]broker.Order)
	if res.OK {
		for _, bo := range res.Data {
			brokerByID[bo.OrderID] = bo
		}
	} else {
		log.Printf("oms: EOD broker orders unavailable (%s), proceeding with cancel", res.ErrorMessage)
	}

	for _, pos := range c.Store.AllPositions() {
		unlock := c.Store.LockSymbol(pos.Symbol)
		for _, wo := range c.Store.GetWorkingOrders(pos.Symbol) {
			if bo, ok := brokerByID[wo.OrderID]; ok {
				if delta := bo.FilledQty - wo.FilledQty; delta > 0 {
					c.ApplyFill(wo, delta)
					wo.FilledQty = bo.FilledQty
				}
			}

			if err := c.Broker.CancelOrder(ctx, wo.OrderID, wo.Symbol, wo.Qty-wo.FilledQty, wo.Branch); err != nil {
				log.Printf("oms: EOD cancel failed for %s: %v", wo.OrderID, err)
			}

			if postRes := c.Broker.GetOrders(ctx); postRes.OK {
				for _, bo := range postRes.Data {
					if bo.OrderID != wo.OrderID {
						continue
					}
					if late := bo.FilledQty - wo.FilledQty; late > 0 {
						log.Printf("oms: EOD late fill detected for %s: +%d", wo.OrderID, late)
						c.ApplyFill(wo, late)
						wo.FilledQty = bo.FilledQty
					}
					break
				}
			}

			c.Store.RemoveWorkingOrder(wo.Symbol, wo.OrderID)
			c.Store.ReleaseEntryLock(wo.Symbol, wo.StrategyID)
		}
		unlock()
	}

	c.Store.DailyRealizedPnl = 0
	c.Store.DailyTotalPnl = 0
	c.Store.DailyPnlPct = 0
	c.Risk.ClearDailyHalts()
	log.Println("oms: EOD cleanup complete")
}

// ------------------------------------------------------------------
// Lifecycle
// ------------------------------------------------------------------

// Start loads any previously persisted state into the in-memory store
// and launches the reconciliation loop.
func (c *Core) Start(ctx context.Context) error {
	if err := c.loadPersistedState(ctx); err != nil {
		return err
	}
	c.recon.Start(ctx)
	log.Println("oms: started")
	return nil
}

func (c *Core) loadPersistedState(ctx context.Context) error {
	positions, err := c.Persist.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		c.Store.UpdatePosition(p.Symbol, state.PositionUpdate{RealQty: &p.RealQty, AvgPrice: &p.AvgPrice, Frozen: &p.Frozen})
	}

	allocs, err := c.Persist.LoadAllocations(ctx)
	if err != nil {
		return fmt.Errorf("load allocations: %w", err)
	}
	for symbol, strategyAllocs := range allocs {
		pos := c.Store.GetPosition(symbol)
		for _, a := range strategyAllocs {
			pos.Allocations[a.StrategyID] = a
		}
	}

	orders, err := c.Persist.LoadWorkingOrders(ctx)
	if err != nil {
		return fmt.Errorf("load working orders: %w", err)
	}
	for _, wo := range orders {
		c.Store.AddWorkingOrder(wo)
	}

	flags, err := c.Persist.LoadOMSState(ctx)
	if err != nil {
		return fmt.Errorf("load oms state: %w", err)
	}
	if flags.SafeMode {
		c.Risk.SetSafeMode(true)
	}
	if flags.HaltNewEntries {
		c.Risk.TriggerFlatten()
	}

	log.Println("oms: persisted state loaded")
	return nil
}

// Shutdown stops the reconciliation loop and releases persistence resources.
func (c *Core) Shutdown() {
	c.recon.Stop()
	c.Persist.Close()
	log.Println("oms: shutdown complete")
}
