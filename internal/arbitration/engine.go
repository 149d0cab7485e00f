// Package arbitration resolves conflicting strategy intents on the
// same symbol: entry-lock leasing, exit priority, and pending-intent
// tracking. Ported from oms/arbitration.py.
package arbitration

import (
	"fmt"
	"sync"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
)

// Result is the arbitration verdict for an intent.
type Result string

const (
	ResultProceed Result = "PROCEED"
	ResultDefer   Result = "DEFER"
	ResultMerge   Result = "MERGE"
	ResultCancel  Result = "CANCEL"
)

// Decision carries the verdict plus an explanation and, for DEFER, the
// time at which the caller should retry.
type Decision struct {
	Result     Result
	Reason     string
	DeferUntil time.Time
}

// LockDurations are the strategy-specific entry-lock lease lengths,
// ported verbatim from ArbitrationEngine.LOCK_DURATIONS.
var LockDurations = map[string]time.Duration{
	"KMP":      90 * time.Second,
	"KPR":      180 * time.Second,
	"PCIM":     300 * time.Second,
	"NULRIMOK": 60 * time.Second,
}

const defaultLockDuration = 120 * time.Second

// Engine arbitrates intents against the shared position state.
type Engine struct {
	store *state.Store

	mu      sync.Mutex
	pending map[string][]*intent.Intent // symbol -> pending intents
}

// New builds an Engine over store.
func New(store *state.Store) *Engine {
	return &Engine{store: store, pending: make(map[string][]*intent.Intent)}
}

func lockDuration(strategyID string) time.Duration {
	if d, ok := LockDurations[strategyID]; ok {
		return d
	}
	return defaultLockDuration
}

// Arbitrate decides what to do with a risk-approved intent.
func (e *Engine) Arbitrate(in *intent.Intent) Decision {
	switch in.Kind {
	case intent.KindExit, intent.KindFlatten, intent.KindReduce:
		return Decision{Result: ResultProceed}
	case intent.KindEnter:
		return e.arbitrateEntry(in)
	default:
		return Decision{Result: ResultProceed}
	}
}

func (e *Engine) arbitrateEntry(in *intent.Intent) Decision {
	pos := e.store.GetPosition(in.Symbol)
	if alloc := pos.GetAllocation(in.StrategyID); alloc != nil && alloc.Qty > 0 {
		return Decision{Result: ResultCancel, Reason: fmt.Sprintf("%s already holds %s", in.StrategyID, in.Symbol)}
	}

	now := time.Now()
	if pos.IsEntryLocked(now) && pos.EntryLockOwner != in.StrategyID {
		return Decision{Result: ResultDefer, Reason: "Symbol locked by another strategy", DeferUntil: pos.EntryLockUntil}
	}

	if !e.store.SetEntryLock(in.Symbol, in.StrategyID, lockDuration(in.StrategyID)) {
		return Decision{Result: ResultDefer, Reason: "Failed to acquire entry lock"}
	}

	if e.hasPendingExit(in.Symbol) {
		e.store.ReleaseEntryLock(in.Symbol, in.StrategyID)
		return Decision{Result: ResultDefer, Reason: "Exit intent pending for symbol"}
	}

	return Decision{Result: ResultProceed}
}

func (e *Engine) hasPendingExit(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range e.pending[symbol] {
		if in.Kind == intent.KindExit || in.Kind == intent.KindFlatten {
			return true
		}
	}
	return false
}

// AddPending registers in as in-flight for its symbol, used by
// arbitrateEntry to detect a competing pending exit.
func (e *Engine) AddPending(in *intent.Intent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[in.Symbol] = append(e.pending[in.Symbol], in)
}

// RemovePending deregisters an intent once it finishes processing.
func (e *Engine) RemovePending(in *intent.Intent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.pending[in.Symbol]
	kept := list[:0]
	for _, p := range list {
		if p.IntentID != in.IntentID {
			kept = append(kept, p)
		}
	}
	e.pending[in.Symbol] = kept
}
