// Package reconciliation runs the background loop that is the OMS's
// single source of truth reconciliation against the broker: order
// fills/cancels, position drift, account scalars, and daily risk
// snapshots. Ported from oms/oms_core.py's start_reconciliation_loop/
// _reconcile/_sync_working_orders/_enforce_order_timeouts/
// _check_allocation_drift; the ticker/ownership idiom follows the
// teacher's internal/reconciliation/service.go, generalized here to the
// full multi-step cycle the original performs.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/broker"
	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
	"github.com/sehyungp92/k-stock-trader-oms/internal/persistence"
	"github.com/sehyungp92/k-stock-trader-oms/internal/risk"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
)

// driftTolerance is the maximum absolute share drift treated as noise
// rather than a discrepancy requiring freeze-and-assign repair.
const driftTolerance = 0

const maxFailuresBeforeSafeMode = 5

// FillApplier applies a detected fill to allocations/PnL/trades. The
// OMS core (internal/oms.Core) implements this; reconciliation only
// depends on the interface to avoid an import cycle.
type FillApplier interface {
	ApplyFill(wo *state.WorkingOrder, fillQty int)
}

// Service runs the adaptive-interval reconciliation loop.
type Service struct {
	store    *state.Store
	risk     *risk.Gateway
	broker   *broker.Adapter
	persist  *persistence.Store
	fills    FillApplier
	bus      *events.Bus
	baseWait time.Duration

	mu                  sync.Mutex
	done                chan struct{}
	wg                  sync.WaitGroup
	consecutiveFailures int
	running             bool
}

// New wires a reconciliation Service. baseInterval is the active-cycle
// wait when working orders exist (default 5s if zero). bus may be nil,
// in which case cycle/drift events are simply not published.
func New(store *state.Store, riskGateway *risk.Gateway, brokerAdapter *broker.Adapter, persist *persistence.Store, fills FillApplier, bus *events.Bus, baseInterval time.Duration) *Service {
	if baseInterval <= 0 {
		baseInterval = 5 * time.Second
	}
	return &Service{
		store:    store,
		risk:     riskGateway,
		broker:   brokerAdapter,
		persist:  persist,
		fills:    fills,
		bus:      bus,
		baseWait: baseInterval,
	}
}

func (s *Service) publish(e events.Event, payload any) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}

// Start launches the background loop. Safe to call once; a second call
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	cycleCount := 0
	rateLimitCooldown := 0

	for {
		cycleStart := time.Now()
		if err := s.reconcile(ctx, cycleCount); err != nil {
			s.consecutiveFailures++
			log.Printf("reconciliation: cycle error (%dx): %v", s.consecutiveFailures, err)
			if s.consecutiveFailures >= maxFailuresBeforeSafeMode {
				log.Printf("reconciliation: failed %dx consecutively — entering safe mode", s.consecutiveFailures)
				s.risk.SetSafeMode(true)
				s.publish(events.EventSafeMode, events.SafeModePayload{Enabled: true, Reason: "reconciliation failures"})
			}
		} else {
			s.consecutiveFailures = 0
		}

		cycleCount++
		cycleDuration := time.Since(cycleStart)

		var wait time.Duration
		switch {
		case rateLimitCooldown > 0:
			wait = 20 * time.Second
			rateLimitCooldown--
		case cycleDuration > 10*time.Second:
			wait = 20 * time.Second
			rateLimitCooldown = 2
		case !s.store.AnyWorkingOrders():
			wait = 15 * time.Second
		default:
			wait = s.baseWait
		}

		select {
		case <-time.After(wait):
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func tradeDate() string {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("2006-01-02")
}

// reconcile runs one full cycle: orders -> timeouts -> positions ->
// drift -> sector exposure -> buyable cash -> daily PnL -> daily risk
// snapshot -> heartbeat.
func (s *Service) reconcile(ctx context.Context, cycleCount int) error {
	brokerByID := s.syncWorkingOrders(ctx)
	s.enforceOrderTimeouts(ctx, brokerByID)

	snap, err := s.broker.GetBalanceSnapshot(ctx)
	positionsOK := err == nil
	if !positionsOK {
		log.Printf("reconciliation: skipping position sync, broker query failed: %v", err)
	} else {
		s.store.Equity = snap.Equity
		for _, bp := range snap.Positions {
			unlock := s.store.LockSymbol(bp.Symbol)
			pos := s.store.GetPosition(bp.Symbol)
			if pos.RealQty != bp.Qty {
				log.Printf("reconciliation: %s real_qty %d -> %d", bp.Symbol, pos.RealQty, bp.Qty)
				oldQty := pos.RealQty
				realQty, avgPrice := bp.Qty, bp.AvgPrice
				s.store.UpdatePosition(bp.Symbol, state.PositionUpdate{RealQty: &realQty, AvgPrice: &avgPrice})
				s.persist.SyncPosition(pos)
				s.persist.LogRecon("POSITION_SYNC", bp.Symbol, "",
					fmt.Sprintf("real_qty=%d", oldQty), fmt.Sprintf("real_qty=%d", bp.Qty), "UPDATED", "")
			}
			unlock()
		}
	}

	if positionsOK {
		s.checkAllocationDrift()

		workingSymbols := make(map[string]bool)
		var sectorPositions []risk.PositionSnapshot
		for _, bp := range snap.Positions {
			if bp.Qty > 0 {
				sectorPositions = append(sectorPositions, risk.PositionSnapshot{Symbol: bp.Symbol, RealQty: bp.Qty, Price: bp.AvgPrice})
				workingSymbols[bp.Symbol] = true
			}
		}
		s.risk.ReconcileSectorExposure(sectorPositions, workingSymbols)
	}

	if cycleCount%6 == 0 {
		if cash, err := s.broker.GetBuyableCash(ctx); err == nil {
			s.store.BuyableCash = float64(cash)
		}
	}

	prices := make(map[string]float64)
	if positionsOK {
		for _, bp := range snap.Positions {
			prices[bp.Symbol] = bp.CurrentPrice
		}
	}
	s.store.UpdateDailyPnl(prices, s.store.Equity)

	s.recordDailyRisk(prices)

	driftCount := 0
	for _, p := range s.store.AllPositions() {
		if p.Frozen {
			driftCount++
		}
	}
	reconStatus := "OK"
	if driftCount > 0 {
		reconStatus = "WARN"
	}
	s.persist.Heartbeat(s.store.Equity, s.store.BuyableCash, s.store.DailyTotalPnl, s.store.DailyPnlPct,
		s.risk.SafeMode(), s.risk.HaltNewEntries(), true, reconStatus, driftCount)

	s.publish(events.EventReconciliationCycle, events.ReconciliationCyclePayload{CycleCount: cycleCount, DriftCount: driftCount, Status: reconStatus})

	if brokerByID == nil && !positionsOK {
		return fmt.Errorf("broker unreachable: orders and balance snapshot both failed")
	}
	return nil
}

func (s *Service) recordDailyRisk(prices map[string]float64) {
	today := tradeDate()
	positions := s.store.AllPositions()

	grossExposure := 0.0
	for _, p := range positions {
		price := p.AvgPrice
		if live, ok := prices[p.Symbol]; ok {
			price = live
		}
		grossExposure += float64(p.RealQty) * price
	}
	cfg := s.risk.Config()
	s.persist.UpdateDailyRiskPortfolio(today, s.store.Equity, s.store.BuyableCash, s.store.DailyRealizedPnl, 0,
		grossExposure, len(positions), s.risk.HaltNewEntries(), s.risk.SafeMode(), cfg.CurrentRegime)

	strategyCounts := make(map[string]int)
	for _, p := range positions {
		for strategyID, a := range p.Allocations {
			if a.Qty > 0 {
				strategyCounts[strategyID]++
			}
		}
	}
	for strategyID, count := range strategyCounts {
		s.persist.UpdateDailyRiskStrategy(today, strategyID, 0, 0, count, 0, 0, s.risk.IsPaused(strategyID))
	}
}

// syncWorkingOrders polls broker orders once and reconciles each
// tracked working order against it: fills (full or partial), vanished
// orders treated as filled/cancelled. Returns the broker orders keyed
// by ID for reuse by enforceOrderTimeouts, or nil if the query failed.
func (s *Service) syncWorkingOrders(ctx context.Context) map[string]broker.Order {
	res := s.broker.GetOrders(ctx)
	if !res.OK {
		log.Printf("reconciliation: skipping order sync, broker query failed: %s", res.ErrorMessage)
		return nil
	}
	brokerByID := make(map[string]broker.Order, len(res.Data))
	for _, bo := range res.Data {
		brokerByID[bo.OrderID] = bo
	}

	for _, pos := range s.store.AllPositions() {
		unlock := s.store.LockSymbol(pos.Symbol)
		for _, wo := range s.store.GetWorkingOrders(pos.Symbol) {
			bo, ok := brokerByID[wo.OrderID]
			prevStatus := wo.Status

			if ok {
				if bo.Branch != "" && wo.Branch == "" {
					wo.Branch = bo.Branch
				}
				fillDelta := bo.FilledQty - wo.FilledQty
				if fillDelta > 0 {
					s.fills.ApplyFill(wo, fillDelta)
					if wo.FilledQty < wo.Qty {
						s.persist.RecordOrderEvent(wo.OrderID, "PARTIAL_FILL",
							fmt.Sprintf("fill_qty=%d total_filled=%d order_qty=%d status_before=%s", fillDelta, wo.FilledQty, wo.Qty, prevStatus))
					}
				}
				wo.FilledQty = bo.FilledQty
				if wo.FilledQty >= wo.Qty {
					wo.Status = state.OrderFilled
					s.store.ReleaseEntryLock(wo.Symbol, wo.StrategyID)
					s.persist.RecordOrderEvent(wo.OrderID, "FILL", fmt.Sprintf("filled_qty=%d order_qty=%d status_before=%s", wo.FilledQty, wo.Qty, prevStatus))
					s.persist.UpdateOrderStatus(wo.OrderID, state.OrderFilled, wo.FilledQty)
				} else {
					wo.Status = state.OrderWorking
				}
			} else {
				finalStatus := state.OrderCancelled
				if wo.FilledQty >= wo.Qty {
					finalStatus = state.OrderFilled
				}
				wo.Status = finalStatus
				s.store.RemoveWorkingOrder(wo.Symbol, wo.OrderID)
				s.store.ReleaseEntryLock(wo.Symbol, wo.StrategyID)
				if finalStatus == state.OrderCancelled && wo.Side == "BUY" {
					if remaining := wo.Qty - wo.FilledQty; remaining > 0 {
						price := 0.0
						if wo.LimitPrice != nil {
							price = *wo.LimitPrice
						}
						s.risk.UnreserveSector(wo.Symbol, remaining, price)
					}
				}
				eventType := "CANCELLED"
				if finalStatus == state.OrderFilled {
					eventType = "FILL"
				}
				s.persist.RecordOrderEvent(wo.OrderID, eventType, fmt.Sprintf("filled_qty=%d order_qty=%d status_before=%s", wo.FilledQty, wo.Qty, prevStatus))
				s.persist.UpdateOrderStatus(wo.OrderID, finalStatus, wo.FilledQty)
				if finalStatus == state.OrderCancelled && wo.FilledQty > 0 {
					log.Printf("reconciliation: partial cancel %s filled %d/%d", wo.Symbol, wo.FilledQty, wo.Qty)
				}
			}
		}
		unlock()
	}

	return brokerByID
}

// enforceOrderTimeouts cancels any working order that has exceeded its
// cancel-after duration, reusing brokerByID rather than issuing a
// second broker query.
func (s *Service) enforceOrderTimeouts(ctx context.Context, brokerByID map[string]broker.Order) {
	now := time.Now()
	for _, pos := range s.store.AllPositions() {
		unlock := s.store.LockSymbol(pos.Symbol)
		for _, wo := range s.store.GetWorkingOrders(pos.Symbol) {
			if wo.CancelAfter <= 0 || now.Sub(wo.SubmitTime) <= wo.CancelAfter {
				continue
			}
			log.Printf("reconciliation: timeout cancel %s %s after %s", wo.Symbol, wo.OrderID, wo.CancelAfter)

			if bo, ok := brokerByID[wo.OrderID]; ok {
				if delta := bo.FilledQty - wo.FilledQty; delta > 0 {
					s.fills.ApplyFill(wo, delta)
					wo.FilledQty = bo.FilledQty
				}
			}

			if err := s.broker.CancelOrder(ctx, wo.OrderID, wo.Symbol, wo.Qty-wo.FilledQty, wo.Branch); err == nil {
				s.store.RemoveWorkingOrder(wo.Symbol, wo.OrderID)
				s.store.ReleaseEntryLock(wo.Symbol, wo.StrategyID)
				if wo.Side == "BUY" {
					if remaining := wo.Qty - wo.FilledQty; remaining > 0 {
						price := 0.0
						if wo.LimitPrice != nil {
							price = *wo.LimitPrice
						}
						s.risk.UnreserveSector(wo.Symbol, remaining, price)
					}
				}
				s.persist.RecordOrderEvent(wo.OrderID, "TIMEOUT_CANCEL",
					fmt.Sprintf("timeout_sec=%d filled_qty=%d order_qty=%d", int(wo.CancelAfter.Seconds()), wo.FilledQty, wo.Qty))
				s.persist.UpdateOrderStatus(wo.OrderID, state.OrderCancelled, wo.FilledQty)
			}
		}
		unlock()
	}
}

// checkAllocationDrift repairs or logs real_qty vs. allocated-qty
// mismatches: positive drift (broker shows more shares than tracked) is
// deterministically assigned to state.UnknownStrategy and the symbol
// frozen for new entries; negative drift is logged only, never
// auto-corrected, since it would mean fabricating shares.
func (s *Service) checkAllocationDrift() {
	for _, pos := range s.store.AllPositions() {
		unlock := s.store.LockSymbol(pos.Symbol)
		drift := pos.AllocationDrift()

		if abs(drift) <= driftTolerance {
			if pos.Frozen {
				if unknown := pos.GetAllocation(state.UnknownStrategy); unknown == nil || unknown.Qty == 0 {
					pos.Frozen = false
					log.Printf("reconciliation: unfroze %s, drift resolved", pos.Symbol)
					s.persist.LogRecon("ALLOCATION_DRIFT", pos.Symbol, "", "", "", "UNFROZEN", "drift resolved, symbol unfrozen")
					s.publish(events.EventDriftDetected, events.DriftPayload{Symbol: pos.Symbol, Drift: 0, Action: "UNFROZEN"})
				}
			}
			unlock()
			continue
		}

		if pos.HasWorkingOrders() {
			unlock()
			continue
		}

		before := pos.TotalAllocated()
		log.Printf("reconciliation: ALLOCATION DRIFT %s real=%d allocated=%d drift=%d", pos.Symbol, pos.RealQty, before, drift)

		if drift > 0 {
			unknown := pos.GetAllocation(state.UnknownStrategy)
			if unknown == nil {
				unknown = &state.StrategyAllocation{StrategyID: state.UnknownStrategy}
				pos.Allocations[state.UnknownStrategy] = unknown
			}
			unknown.Qty += drift
		} else {
			log.Printf("reconciliation: NEGATIVE DRIFT %s broker has %d shares but allocations sum to %d — manual review required, not auto-correcting", pos.Symbol, pos.RealQty, before)
		}
		pos.Frozen = true

		s.persist.LogRecon("ALLOCATION_DRIFT", pos.Symbol, "",
			fmt.Sprintf("total_allocated=%d", before), fmt.Sprintf("total_allocated=%d drift=%d", pos.TotalAllocated(), drift),
			"ASSIGNED_UNKNOWN", fmt.Sprintf("drift of %d assigned to %s, symbol frozen", drift, state.UnknownStrategy))
		s.publish(events.EventDriftDetected, events.DriftPayload{Symbol: pos.Symbol, Drift: drift, Action: "FROZEN"})
		unlock()
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
