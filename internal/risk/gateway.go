// Package risk implements the OMS's pre-trade Risk Gateway: an ordered
// chain of checks (global blocks -> daily circuit breaker -> exposure ->
// sector -> strategy budget -> microstructure) that an Intent must pass
// before the Arbitration Engine sees it. Ported from oms/risk.py.
package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
)

// Decision is the verdict a risk check (or the full chain) reaches.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionModify  Decision = "MODIFY"
	DecisionReject  Decision = "REJECT"
	DecisionDefer   Decision = "DEFER"
)

// Result is the outcome of one check or the full Check() chain.
type Result struct {
	Decision    Decision
	Reason      string
	ModifiedQty *int
	CooldownSec *float64
}

func approve() Result { return Result{Decision: DecisionApprove} }

// PriceGetter resolves a live price for a symbol, or returns (0, false)
// when unavailable.
type PriceGetter func(symbol string) (float64, bool)

// Gateway is the ordered risk-check chain plus its mutable control
// flags (safe mode, halt-new-entries, flatten-in-progress, paused set).
type Gateway struct {
	mu sync.RWMutex

	store  *state.Store
	config Config
	price  PriceGetter
	sector *SectorExposure

	safeMode          bool
	haltNewEntries    bool
	flattenInProgress bool
	paused            map[string]bool
}

// New builds a Gateway over store, wiring a sector-exposure tracker per
// the original's SectorExposureConfig(mode="pct", unknown_sector_policy="allow").
func New(store *state.Store, config Config, price PriceGetter, sectorMap map[string]string) *Gateway {
	return &Gateway{
		store:  store,
		config: config,
		price:  price,
		sector: NewSectorExposure(sectorMap, SectorConfig{
			MaxSectorPct:        config.MaxSectorPct,
			UnknownSectorPolicy: "allow",
		}),
		paused: make(map[string]bool),
	}
}

func (g *Gateway) getPrice(symbol string, fallback *float64) *float64 {
	if g.price != nil {
		if px, ok := g.price(symbol); ok && px > 0 {
			return &px
		}
	}
	return fallback
}

// Check runs the full ordered chain against in, mutating in.DesiredQty
// in place whenever a MODIFY narrows the size so downstream checks
// (and the caller) see the adjusted quantity. The smallest MODIFY
// across exposure and strategy-budget checks wins.
func (g *Gateway) Check(in *intent.Intent) Result {
	if r := g.checkGlobalBlocks(in); r.Decision != DecisionApprove {
		return r
	}
	if r := g.checkDailyLimits(in); r.Decision != DecisionApprove {
		return r
	}

	var modifiedQty *int

	if in.Kind == intent.KindEnter {
		r := g.checkExposureLimits(in)
		switch r.Decision {
		case DecisionModify:
			modifiedQty = r.ModifiedQty
			in.DesiredQty = modifiedQty
		case DecisionApprove:
		default:
			return r
		}
	}

	if in.Kind == intent.KindEnter {
		if r := g.checkSectorLimits(in); r.Decision != DecisionApprove {
			return r
		}
	}

	if in.Kind == intent.KindEnter {
		r := g.checkStrategyBudget(in)
		switch r.Decision {
		case DecisionModify:
			if modifiedQty == nil || *r.ModifiedQty < *modifiedQty {
				modifiedQty = r.ModifiedQty
				in.DesiredQty = modifiedQty
			}
		case DecisionApprove:
		default:
			return r
		}
	}

	if r := g.checkMicrostructure(in); r.Decision != DecisionApprove {
		return r
	}

	if modifiedQty != nil {
		return Result{Decision: DecisionModify, Reason: fmt.Sprintf("Qty scaled to %d", *modifiedQty), ModifiedQty: modifiedQty}
	}
	return approve()
}

func (g *Gateway) checkGlobalBlocks(in *intent.Intent) Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.safeMode {
		return Result{Decision: DecisionDefer, Reason: "OMS in safe mode"}
	}
	if g.flattenInProgress && in.Kind == intent.KindEnter {
		return Result{Decision: DecisionReject, Reason: "Flatten in progress"}
	}
	if g.haltNewEntries && in.Kind == intent.KindEnter {
		return Result{Decision: DecisionReject, Reason: "New entries halted (daily loss)"}
	}
	if in.Kind == intent.KindEnter && g.paused[in.StrategyID] {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Strategy %s is paused", in.StrategyID)}
	}
	if in.Kind == intent.KindEnter {
		pos := g.store.GetPosition(in.Symbol)
		if pos.Frozen {
			return Result{Decision: DecisionReject, Reason: "Symbol frozen: allocation drift unresolved"}
		}
	}
	return approve()
}

func (g *Gateway) checkDailyLimits(in *intent.Intent) Result {
	pnlPct := g.store.DailyPnlPct

	g.mu.RLock()
	haltPct := g.config.DailyLossHaltPct
	warnPct := g.config.DailyLossWarnPct
	g.mu.RUnlock()

	if pnlPct <= -haltPct && in.Kind == intent.KindEnter {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Daily loss %.1f%% exceeds halt limit", pnlPct*100)}
	}
	if pnlPct <= -warnPct {
		if in.Kind == intent.KindEnter {
			g.mu.Lock()
			g.haltNewEntries = true
			g.mu.Unlock()
			return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Daily loss %.1f%% exceeds warn limit", pnlPct*100)}
		}
	}
	return approve()
}

func qtyOf(in *intent.Intent) int {
	if in.DesiredQty != nil {
		return *in.DesiredQty
	}
	if in.TargetQty != nil {
		return *in.TargetQty
	}
	return 0
}

func (g *Gateway) checkExposureLimits(in *intent.Intent) Result {
	g.mu.RLock()
	cfg := g.config
	g.mu.RUnlock()

	equity := g.store.Equity
	if equity < 1.0 {
		equity = 1.0
	}
	positions := g.store.AllPositions()

	activeCount := 0
	for _, p := range positions {
		if p.RealQty > 0 || p.WorkingQty("", "BUY") > 0 {
			activeCount++
		}
	}
	if activeCount >= cfg.MaxPositionsCount {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Max positions (%d) reached", cfg.MaxPositionsCount)}
	}

	gross := 0.0
	for _, p := range positions {
		px := p.AvgPrice
		if px == 0 {
			if got := g.getPrice(p.Symbol, nil); got != nil {
				px = *got
			}
		}
		gross += float64(p.RealQty) * px
		gross += float64(p.WorkingQty("", "BUY")) * px
	}

	entryPx := g.getPrice(in.Symbol, in.RiskPayload.EntryPx)
	if entryPx == nil || *entryPx <= 0 {
		return Result{Decision: DecisionDefer, Reason: "Price unavailable for risk check"}
	}
	qty := qtyOf(in)
	newNotional := *entryPx * float64(qty)

	totalExposurePct := (gross + newNotional) / equity
	if totalExposurePct > cfg.MaxGrossExposurePct {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Gross exposure would exceed %.0f%%", cfg.MaxGrossExposurePct*100)}
	}

	regimeCap, ok := cfg.RegimeExposureCaps[cfg.CurrentRegime]
	if !ok {
		regimeCap = 1.0
	}
	if totalExposurePct > regimeCap {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Regime %s cap %.0f%% exceeded", cfg.CurrentRegime, regimeCap*100)}
	}

	existingPos := g.store.GetPosition(in.Symbol)
	existingPx := existingPos.AvgPrice
	if existingPx == 0 {
		existingPx = *entryPx
	}
	existingNotional := float64(existingPos.RealQty) * existingPx
	totalPositionNotional := existingNotional + newNotional
	positionPct := totalPositionNotional / equity
	if positionPct > cfg.MaxPositionPct {
		maxTotal := equity * cfg.MaxPositionPct
		maxNew := maxTotal - existingNotional
		denom := *entryPx
		if denom < 1 {
			denom = 1
		}
		maxQty := int(maxNew / denom)
		if maxQty <= 0 {
			return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Position too large (%.1f%%)", positionPct*100)}
		}
		return Result{Decision: DecisionModify, Reason: fmt.Sprintf("Scaled from %d to %d for position limit", qty, maxQty), ModifiedQty: &maxQty}
	}

	return approve()
}

func (g *Gateway) checkSectorLimits(in *intent.Intent) Result {
	equity := g.store.Equity
	if equity < 1.0 {
		equity = 1.0
	}
	entryPx := g.getPrice(in.Symbol, in.RiskPayload.EntryPx)
	qty := qtyOf(in)
	if entryPx == nil || *entryPx <= 0 || qty <= 0 {
		return approve()
	}
	if !g.sector.CanEnter(in.Symbol, qty, *entryPx, equity) {
		sector := g.sector.GetSector(in.Symbol)
		pct := g.sector.SectorPct(sector, equity)
		g.mu.RLock()
		maxPct := g.config.MaxSectorPct
		g.mu.RUnlock()
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("Sector %s exposure %.1f%% would exceed %.0f%%", sector, pct*100, maxPct*100)}
	}
	return approve()
}

func (g *Gateway) checkStrategyBudget(in *intent.Intent) Result {
	g.mu.RLock()
	budget, ok := g.config.StrategyBudgets[in.StrategyID]
	g.mu.RUnlock()
	if !ok {
		return approve()
	}

	positions := g.store.AllPositions()
	strategyPositions := 0
	for _, p := range positions {
		alloc := p.GetAllocation(in.StrategyID)
		if (alloc != nil && alloc.Qty > 0) || p.WorkingQty(in.StrategyID, "BUY") > 0 {
			strategyPositions++
		}
	}
	if strategyPositions >= budget.MaxPositions {
		return Result{Decision: DecisionReject, Reason: fmt.Sprintf("%s max positions (%d) reached", in.StrategyID, budget.MaxPositions)}
	}

	stopPx := in.RiskPayload.StopPx
	entryPx := in.RiskPayload.EntryPx
	if budget.MaxRiskPct > 0 && stopPx != nil && entryPx != nil {
		qty := qtyOf(in)
		riskPerShare := *entryPx - *stopPx
		if riskPerShare < 0 {
			riskPerShare = 0
		}
		tradeRisk := float64(qty) * riskPerShare
		equity := g.store.Equity
		if equity < 1.0 {
			equity = 1.0
		}
		maxRiskKrw := budget.MaxRiskPct * equity
		if tradeRisk > maxRiskKrw {
			denom := riskPerShare
			if denom < 1.0 {
				denom = 1.0
			}
			scaledQty := int(maxRiskKrw / denom)
			if scaledQty <= 0 {
				return Result{Decision: DecisionReject, Reason: fmt.Sprintf("%s risk budget exceeded", in.StrategyID)}
			}
			return Result{Decision: DecisionModify, Reason: fmt.Sprintf("Scaled from %d to %d for risk budget", qty, scaledQty), ModifiedQty: &scaledQty}
		}
	}

	return approve()
}

func (g *Gateway) checkMicrostructure(in *intent.Intent) Result {
	pos := g.store.GetPosition(in.Symbol)
	now := time.Now()
	if !pos.ViCooldownUntil.IsZero() && now.Before(pos.ViCooldownUntil) {
		remaining := pos.ViCooldownUntil.Sub(now).Seconds()
		return Result{Decision: DecisionDefer, Reason: fmt.Sprintf("VI cooldown (%.0fs remaining)", remaining)}
	}
	return approve()
}

// SetRegime updates the market regime used for the regime exposure cap.
func (g *Gateway) SetRegime(regime string) {
	g.mu.Lock()
	g.config.CurrentRegime = regime
	cap, ok := g.config.RegimeExposureCaps[regime]
	g.mu.Unlock()
	if !ok {
		cap = 1.0
	}
	log.Printf("regime set to %s: max_exposure=%.0f%%", regime, cap*100)
}

// SetSafeMode enables/disables the system-wide safe-mode DEFER block.
func (g *Gateway) SetSafeMode(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.safeMode = enabled
}

// SafeMode reports the current safe-mode flag.
func (g *Gateway) SafeMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.safeMode
}

// TriggerFlatten sets flatten-in-progress and halts new entries.
func (g *Gateway) TriggerFlatten() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flattenInProgress = true
	g.haltNewEntries = true
}

// ClearDailyHalts resets halt-new-entries and flatten-in-progress at EOD,
// matching eod_cleanup's daily flag reset.
func (g *Gateway) ClearDailyHalts() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.haltNewEntries = false
	g.flattenInProgress = false
}

// SetVICooldown marks symbol cooled-down for duration (default from config).
func (g *Gateway) SetVICooldown(symbol string, duration time.Duration) {
	g.mu.RLock()
	if duration <= 0 {
		duration = time.Duration(g.config.VICooldownSec * float64(time.Second))
	}
	g.mu.RUnlock()
	until := time.Now().Add(duration)
	g.store.UpdatePosition(symbol, state.PositionUpdate{ViCooldownUntil: &until})
}

// PauseStrategy/ResumeStrategy toggle the paused set checked by
// checkGlobalBlocks.
func (g *Gateway) PauseStrategy(strategyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused[strategyID] = true
}

func (g *Gateway) ResumeStrategy(strategyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.paused, strategyID)
}

func (g *Gateway) IsPaused(strategyID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused[strategyID]
}

func (g *Gateway) FlattenInProgress() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.flattenInProgress
}

func (g *Gateway) HaltNewEntries() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.haltNewEntries
}

// Sector exposure lifecycle passthroughs, mutated only by the risk
// gateway (reserve/unreserve) and the reconciliation loop (fills),
// per the spec's concurrency invariant.

func (g *Gateway) ReserveSector(symbol string, qty int, price float64)   { g.sector.Reserve(symbol, qty, price) }
func (g *Gateway) UnreserveSector(symbol string, qty int, price float64) { g.sector.Unreserve(symbol, qty, price) }
func (g *Gateway) OnSectorFill(symbol string, qty int, price float64)    { g.sector.OnFill(symbol, qty, price) }
func (g *Gateway) OnSectorClose(symbol string, qty int, price float64)   { g.sector.OnClose(symbol, qty, price) }

func (g *Gateway) ReconcileSectorExposure(positions []PositionSnapshot, workingSymbols map[string]bool) {
	g.sector.Reconcile(positions, workingSymbols)
}

func (g *Gateway) UpdateSectorMap(m map[string]string) { g.sector.UpdateSectorMap(m) }

// Config returns a copy of the current risk configuration.
func (g *Gateway) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// SetConfig replaces the risk configuration wholesale (admin override).
func (g *Gateway) SetConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config = cfg
}
