package state

import (
	"testing"
	"time"
)

// Weighted-average cost basis must hold across successive buys: a 10@100
// position that buys 10 more @120 should average to 110, never drift.
func TestUpdateAllocationWeightedAverageCostBasis(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	a := s.UpdateAllocation("005930", "KMP", 10, 120)

	if a.Qty != 20 {
		t.Fatalf("Qty=%d, expected 20", a.Qty)
	}
	if a.CostBasis != 110 {
		t.Fatalf("CostBasis=%v, expected 110", a.CostBasis)
	}
}

// A sell that fully closes an allocation must clear cost basis and entry
// time rather than leaving stale state for the next entry to inherit.
func TestUpdateAllocationClearsOnFullExit(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	a := s.UpdateAllocation("005930", "KMP", -10, 105)

	if a.Qty != 0 {
		t.Fatalf("Qty=%d, expected 0", a.Qty)
	}
	if a.CostBasis != 0 {
		t.Fatalf("CostBasis=%v, expected 0", a.CostBasis)
	}
	if a.EntryTs != nil {
		t.Fatal("expected EntryTs cleared after full exit")
	}
}

// Overselling (negative delta exceeding qty) must clamp at zero rather
// than go negative — allocations never represent a short strategy claim.
func TestUpdateAllocationClampsAtZeroOnOversell(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	a := s.UpdateAllocation("005930", "KMP", -15, 100)

	if a.Qty != 0 {
		t.Fatalf("Qty=%d, expected 0 (clamped)", a.Qty)
	}
}

func TestSetEntryLockExclusivity(t *testing.T) {
	s := NewStore()
	if !s.SetEntryLock("005930", "KMP", time.Minute) {
		t.Fatal("expected first lock acquisition to succeed")
	}
	if s.SetEntryLock("005930", "KPR", time.Minute) {
		t.Fatal("expected second strategy's lock acquisition to fail while KMP holds it")
	}
	// The owner re-acquiring (e.g. extending) must still succeed.
	if !s.SetEntryLock("005930", "KMP", time.Minute) {
		t.Fatal("expected owner to be able to re-acquire its own lock")
	}
}

func TestSetEntryLockSucceedsAfterExpiry(t *testing.T) {
	s := NewStore()
	if !s.SetEntryLock("005930", "KMP", -time.Second) {
		t.Fatal("expected lock acquisition to succeed")
	}
	if !s.SetEntryLock("005930", "KPR", time.Minute) {
		t.Fatal("expected a different strategy to acquire an already-expired lock")
	}
}

func TestReleaseEntryLockOnlyByOwner(t *testing.T) {
	s := NewStore()
	s.SetEntryLock("005930", "KMP", time.Minute)
	s.ReleaseEntryLock("005930", "KPR")
	if !s.GetPosition("005930").IsEntryLocked(time.Now()) {
		t.Fatal("expected non-owner release to be a no-op")
	}

	s.ReleaseEntryLock("005930", "KMP")
	if s.GetPosition("005930").IsEntryLocked(time.Now()) {
		t.Fatal("expected owner release to clear the lock")
	}
}

// Allocation drift is defined as real_qty minus the sum of tracked
// allocations; positive drift (broker shows more than the OMS tracks)
// is the condition reconciliation assigns to the _UNKNOWN_ bucket.
func TestAllocationDrift(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	realQty := 15
	s.UpdatePosition("005930", PositionUpdate{RealQty: &realQty})

	p := s.GetPosition("005930")
	if drift := p.AllocationDrift(); drift != 5 {
		t.Fatalf("AllocationDrift()=%d, expected 5", drift)
	}
}

func TestWorkingQtyFiltersBySideAndStrategy(t *testing.T) {
	s := NewStore()
	s.AddWorkingOrder(&WorkingOrder{OrderID: "1", Symbol: "005930", Side: "BUY", Qty: 10, StrategyID: "KMP", Status: OrderWorking})
	s.AddWorkingOrder(&WorkingOrder{OrderID: "2", Symbol: "005930", Side: "SELL", Qty: 4, StrategyID: "KMP", Status: OrderWorking})
	s.AddWorkingOrder(&WorkingOrder{OrderID: "3", Symbol: "005930", Side: "BUY", Qty: 6, StrategyID: "KPR", Status: OrderFilled})

	p := s.GetPosition("005930")
	if got := p.WorkingQty("KMP", "BUY"); got != 10 {
		t.Fatalf("WorkingQty(KMP,BUY)=%d, expected 10", got)
	}
	if got := p.WorkingQty("KMP", ""); got != 14 {
		t.Fatalf("WorkingQty(KMP,\"\")=%d, expected 14", got)
	}
	if got := p.WorkingQty("KPR", "BUY"); got != 0 {
		t.Fatalf("WorkingQty(KPR,BUY)=%d, expected 0 (order is FILLED, not open)", got)
	}
}

func TestRemoveWorkingOrder(t *testing.T) {
	s := NewStore()
	s.AddWorkingOrder(&WorkingOrder{OrderID: "1", Symbol: "005930", Status: OrderWorking})
	s.AddWorkingOrder(&WorkingOrder{OrderID: "2", Symbol: "005930", Status: OrderWorking})
	s.RemoveWorkingOrder("005930", "1")

	orders := s.GetWorkingOrders("005930")
	if len(orders) != 1 || orders[0].OrderID != "2" {
		t.Fatalf("expected only order 2 to remain, got %+v", orders)
	}
}

func TestUpdateDailyPnlCombinesRealizedAndUnrealized(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	realQty, avgPx := 10, 100.0
	s.UpdatePosition("005930", PositionUpdate{RealQty: &realQty, AvgPrice: &avgPx})
	s.RecordRealizedPnl(500)

	s.UpdateDailyPnl(map[string]float64{"005930": 110}, 1_000_000)

	wantUnrealized := (110.0 - 100.0) * 10
	wantTotal := 500 + wantUnrealized
	if s.DailyTotalPnl != wantTotal {
		t.Fatalf("DailyTotalPnl=%v, expected %v", s.DailyTotalPnl, wantTotal)
	}
	wantPct := wantTotal / 1_000_000
	if s.DailyPnlPct != wantPct {
		t.Fatalf("DailyPnlPct=%v, expected %v", s.DailyPnlPct, wantPct)
	}
}

func TestGetAllocationsForStrategyExcludesZeroQty(t *testing.T) {
	s := NewStore()
	s.UpdateAllocation("005930", "KMP", 10, 100)
	s.UpdateAllocation("000660", "KMP", 10, 100)
	s.UpdateAllocation("000660", "KMP", -10, 100)

	out := s.GetAllocationsForStrategy("KMP")
	if len(out) != 1 {
		t.Fatalf("expected 1 allocation (fully-exited symbol excluded), got %d", len(out))
	}
	if _, ok := out["005930"]; !ok {
		t.Fatal("expected 005930 allocation present")
	}
}
