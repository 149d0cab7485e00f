// Package state holds the OMS's in-memory view of positions,
// per-strategy allocations, working orders, entry locks, and account
// scalars. It is the sole shared mutable resource in the system; every
// access is guarded by a single RWMutex, matching the teacher's
// guarded-manager idiom (internal/state.Manager in the original repo).
package state

import (
	"math"
	"sync"
	"time"
)

// OrderStatus is the lifecycle status of a WorkingOrder.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderSubmitting OrderStatus = "SUBMITTING"
	OrderWorking    OrderStatus = "WORKING"
	OrderPartial    OrderStatus = "PARTIAL"
	OrderFilled     OrderStatus = "FILLED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRejected   OrderStatus = "REJECTED"
	OrderExpired    OrderStatus = "EXPIRED"
	OrderFailed     OrderStatus = "FAILED"
)

// UnknownStrategy is the allocation bucket positive drift is attributed
// to when real_qty exceeds the sum of tracked allocations.
const UnknownStrategy = "_UNKNOWN_"

// WorkingOrder is a live or recently-terminal order the OMS submitted.
type WorkingOrder struct {
	OrderID     string
	Symbol      string
	Side        string // BUY | SELL
	Qty         int
	FilledQty   int
	LimitPrice  *float64
	OrderType   string
	Status      OrderStatus
	StrategyID  string
	SubmitTime  time.Time
	CancelAfter time.Duration
	Branch      string
}

// RemainingQty returns the unfilled portion of the order.
func (o *WorkingOrder) RemainingQty() int { return o.Qty - o.FilledQty }

// StrategyAllocation tracks one strategy's claim on a symbol position.
type StrategyAllocation struct {
	StrategyID  string
	Qty         int
	CostBasis   float64
	EntryTs     *time.Time
	SoftStopPx  *float64
	TimeStop    *time.Time
}

// SymbolPosition is the OMS's full view of one symbol.
type SymbolPosition struct {
	Symbol           string
	RealQty          int
	AvgPrice         float64
	Allocations      map[string]*StrategyAllocation
	HardStopPx       *float64
	EntryLockOwner   string
	EntryLockUntil   time.Time
	CooldownUntil    time.Time
	ViCooldownUntil  time.Time
	WorkingOrders    []*WorkingOrder
	Frozen           bool
}

func newPosition(symbol string) *SymbolPosition {
	return &SymbolPosition{
		Symbol:      symbol,
		Allocations: make(map[string]*StrategyAllocation),
	}
}

// HasWorkingOrders reports whether any non-terminal order remains open.
func (p *SymbolPosition) HasWorkingOrders() bool {
	for _, o := range p.WorkingOrders {
		if isOpenStatus(o.Status) {
			return true
		}
	}
	return false
}

func isOpenStatus(s OrderStatus) bool {
	switch s {
	case OrderPending, OrderSubmitting, OrderWorking, OrderPartial:
		return true
	default:
		return false
	}
}

// WorkingQty sums remaining qty across working orders, optionally
// filtered by strategy and/or side. Pass "" to skip a filter.
func (p *SymbolPosition) WorkingQty(strategyID, side string) int {
	total := 0
	for _, o := range p.WorkingOrders {
		if !isOpenStatus(o.Status) {
			continue
		}
		if strategyID != "" && o.StrategyID != strategyID {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		total += o.RemainingQty()
	}
	return total
}

// TotalAllocated sums qty across all strategy allocations.
func (p *SymbolPosition) TotalAllocated() int {
	total := 0
	for _, a := range p.Allocations {
		total += a.Qty
	}
	return total
}

// AllocationDrift returns real_qty minus the sum of tracked allocations.
func (p *SymbolPosition) AllocationDrift() int {
	return p.RealQty - p.TotalAllocated()
}

// GetAllocation returns the allocation for a strategy, or nil.
func (p *SymbolPosition) GetAllocation(strategyID string) *StrategyAllocation {
	return p.Allocations[strategyID]
}

// IsEntryLocked reports whether a different strategy currently holds the
// entry lock (i.e. whether the caller's own entry must wait/defer).
func (p *SymbolPosition) IsEntryLocked(now time.Time) bool {
	return p.EntryLockOwner != "" && now.Before(p.EntryLockUntil)
}

// CanStrategyEnter reports whether strategyID is unblocked by the entry
// lock (either unlocked, expired, or already owned by strategyID).
func (p *SymbolPosition) CanStrategyEnter(strategyID string, now time.Time) bool {
	if !p.IsEntryLocked(now) {
		return true
	}
	return p.EntryLockOwner == strategyID
}

// Store is the guarded in-memory state manager.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*SymbolPosition

	// Account scalars.
	Equity           float64
	BuyableCash      float64
	DailyRealizedPnl float64
	DailyTotalPnl    float64
	DailyPnlPct      float64

	locksMu     sync.Mutex
	symbolLocks map[string]*sync.Mutex
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{
		positions:   make(map[string]*SymbolPosition),
		symbolLocks: make(map[string]*sync.Mutex),
	}
}

// LockSymbol acquires the per-symbol lock and returns a function that
// releases it. It guards compound read-modify-write sequences (e.g. a
// reconciliation step touching filled qty, status, and allocations
// together) that span more than one Store call and must not interleave
// with another goroutine's sequence on the same symbol — equivalent to
// the original's defaultdict[str, asyncio.Lock].
func (s *Store) LockSymbol(symbol string) func() {
	s.locksMu.Lock()
	l, ok := s.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.symbolLocks[symbol] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetPosition returns the position for symbol, lazily creating it.
// Never fails: unknown symbols are simply empty positions.
func (s *Store) GetPosition(symbol string) *SymbolPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(symbol)
}

func (s *Store) getOrCreateLocked(symbol string) *SymbolPosition {
	p, ok := s.positions[symbol]
	if !ok {
		p = newPosition(symbol)
		s.positions[symbol] = p
	}
	return p
}

// AllPositions returns a snapshot slice of all tracked positions.
func (s *Store) AllPositions() []*SymbolPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SymbolPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// PositionUpdate carries the subset of SymbolPosition fields a caller
// wants to overwrite; nil fields are left untouched.
type PositionUpdate struct {
	RealQty         *int
	AvgPrice        *float64
	HardStopPx      **float64
	CooldownUntil   *time.Time
	ViCooldownUntil *time.Time
	Frozen          *bool
}

// UpdatePosition applies a partial update, creating the symbol if needed.
func (s *Store) UpdatePosition(symbol string, upd PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(symbol)
	if upd.RealQty != nil {
		p.RealQty = *upd.RealQty
	}
	if upd.AvgPrice != nil {
		p.AvgPrice = *upd.AvgPrice
	}
	if upd.HardStopPx != nil {
		p.HardStopPx = *upd.HardStopPx
	}
	if upd.CooldownUntil != nil {
		p.CooldownUntil = *upd.CooldownUntil
	}
	if upd.ViCooldownUntil != nil {
		p.ViCooldownUntil = *upd.ViCooldownUntil
	}
	if upd.Frozen != nil {
		p.Frozen = *upd.Frozen
	}
}

// UpdateAllocation applies a signed qty delta to strategyID's allocation
// on symbol, maintaining a weighted-average cost basis on buys (positive
// delta) and clearing entry_ts once qty drops to zero or below.
func (s *Store) UpdateAllocation(symbol, strategyID string, qtyDelta int, fillPrice float64) *StrategyAllocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(symbol)
	a, ok := p.Allocations[strategyID]
	if !ok {
		a = &StrategyAllocation{StrategyID: strategyID}
		p.Allocations[strategyID] = a
	}

	if qtyDelta > 0 {
		// Weighted-average cost basis: (q_old*p_old + q_new*p_fill) / (q_old+q_new)
		oldQty := a.Qty
		newQty := oldQty + qtyDelta
		if newQty != 0 {
			a.CostBasis = (float64(oldQty)*a.CostBasis + float64(qtyDelta)*fillPrice) / float64(newQty)
		}
		a.Qty = newQty
		if a.EntryTs == nil {
			now := time.Now()
			a.EntryTs = &now
		}
	} else {
		a.Qty += qtyDelta
	}

	if a.Qty <= 0 {
		a.Qty = 0
		a.CostBasis = 0
		a.EntryTs = nil
		a.SoftStopPx = nil
		a.TimeStop = nil
	}
	return a
}

// SetEntryLock performs a test-and-set: it succeeds only if the symbol is
// unlocked or the existing lock has expired, returning false otherwise.
func (s *Store) SetEntryLock(symbol, strategyID string, duration time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(symbol)
	now := time.Now()
	if p.EntryLockOwner != "" && p.EntryLockOwner != strategyID && now.Before(p.EntryLockUntil) {
		return false
	}
	p.EntryLockOwner = strategyID
	p.EntryLockUntil = now.Add(duration)
	return true
}

// ReleaseEntryLock releases the lock only if strategyID is the owner.
func (s *Store) ReleaseEntryLock(symbol, strategyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok || p.EntryLockOwner != strategyID {
		return
	}
	p.EntryLockOwner = ""
	p.EntryLockUntil = time.Time{}
}

// AddWorkingOrder appends a new working order to the symbol's book.
func (s *Store) AddWorkingOrder(o *WorkingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(o.Symbol)
	p.WorkingOrders = append(p.WorkingOrders, o)
}

// RemoveWorkingOrder drops an order from the symbol's book by order ID.
func (s *Store) RemoveWorkingOrder(symbol, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return
	}
	kept := p.WorkingOrders[:0]
	for _, o := range p.WorkingOrders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	p.WorkingOrders = kept
}

// AnyWorkingOrders reports whether any tracked symbol currently has a
// non-terminal order, used by the reconciliation loop to decide between
// its active and idle poll intervals.
func (s *Store) AnyWorkingOrders() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.HasWorkingOrders() {
			return true
		}
	}
	return false
}

// GetWorkingOrders returns a snapshot of working orders for symbol.
func (s *Store) GetWorkingOrders(symbol string) []*WorkingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil
	}
	out := make([]*WorkingOrder, len(p.WorkingOrders))
	copy(out, p.WorkingOrders)
	return out
}

// GetAllocationsForStrategy returns every symbol allocation held by a
// strategy, across all tracked symbols.
func (s *Store) GetAllocationsForStrategy(strategyID string) map[string]*StrategyAllocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*StrategyAllocation)
	for symbol, p := range s.positions {
		if a, ok := p.Allocations[strategyID]; ok && a.Qty > 0 {
			out[symbol] = a
		}
	}
	return out
}

// RecordRealizedPnl adds to the day's realized PnL total.
func (s *Store) RecordRealizedPnl(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DailyRealizedPnl += amount
}

// UpdateDailyPnl recomputes total/pct PnL from realized PnL plus
// unrealized PnL across all positions using the given current prices:
// total = realized + sum((price - avg_price) * real_qty).
func (s *Store) UpdateDailyPnl(prices map[string]float64, startEquity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unrealized := 0.0
	for symbol, p := range s.positions {
		if p.RealQty == 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		unrealized += (price - p.AvgPrice) * float64(p.RealQty)
	}
	s.DailyTotalPnl = s.DailyRealizedPnl + unrealized
	if startEquity > 0 {
		s.DailyPnlPct = s.DailyTotalPnl / startEquity
	} else if !math.IsNaN(s.DailyPnlPct) {
		s.DailyPnlPct = 0
	}
}
