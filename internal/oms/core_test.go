package oms

import (
	"context"
	"fmt"
	"testing"

	"github.com/sehyungp92/k-stock-trader-oms/internal/broker"
	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/persistence"
	"github.com/sehyungp92/k-stock-trader-oms/internal/risk"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/cache"
)

// stubClient is a minimal, always-succeeding RawClient for exercising
// Core's pipeline without a real broker connection.
type stubClient struct {
	seq int
}

func (s *stubClient) nextID() string {
	s.seq++
	return fmt.Sprintf("STUB-ORDER-%d", s.seq)
}

func (s *stubClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty int) (string, error) {
	return s.nextID(), nil
}
func (s *stubClient) PlaceLimitOrder(ctx context.Context, symbol, side string, qty int, limitPrice float64) (string, error) {
	return s.nextID(), nil
}
func (s *stubClient) CancelOrder(ctx context.Context, orderID, symbol string, qty int, branch string) error {
	return nil
}
func (s *stubClient) GetOrders(ctx context.Context) ([]broker.Order, error) { return nil, nil }
func (s *stubClient) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (s *stubClient) GetBalanceSnapshot(ctx context.Context) (broker.BalanceSnapshot, error) {
	return broker.BalanceSnapshot{Equity: 100_000_000}, nil
}
func (s *stubClient) GetBuyableCash(ctx context.Context) (int64, error) { return 100_000_000, nil }

func newTestCore() *Core {
	priceCache := cache.NewShardedPriceCache()
	priceCache.Set("005930", 50_000)
	brokerAdapter := broker.New(&stubClient{})
	c := New(brokerAdapter, risk.DefaultConfig(), nil, priceCache, persistence.New(nil), nil, nil)
	c.Store.Equity = 100_000_000
	return c
}

func enterIntent(strategyID, symbol string, qty int) *intent.Intent {
	in := intent.New(intent.KindEnter, strategyID, symbol)
	in.DesiredQty = &qty
	entryPx := 50_000.0
	stopPx := 48_000.0
	in.RiskPayload.EntryPx = &entryPx
	in.RiskPayload.StopPx = &stopPx
	return in
}

// An approved ENTER must place a working order and reserve the entry
// lock; a subsequent fill must credit the strategy's allocation at the
// fill price, never at submit time.
func TestSubmitIntentEnterPlacesOrderAndReservesLock(t *testing.T) {
	c := newTestCore()
	res := c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 10))

	if res.Status != intent.StatusExecuted {
		t.Fatalf("Status=%v, Message=%q, expected EXECUTED", res.Status, res.Message)
	}
	if res.OrderID == "" {
		t.Fatal("expected a populated OrderID")
	}
	if c.Store.GetPosition("005930").EntryLockOwner != "KMP" {
		t.Fatal("expected KMP to hold the entry lock after a placed ENTER")
	}
	if alloc := c.GetAllocation("005930", "KMP"); alloc != 0 {
		t.Fatalf("GetAllocation=%d, expected 0 before any fill is applied", alloc)
	}
}

func TestApplyFillCreditsAllocationAtFillPrice(t *testing.T) {
	c := newTestCore()
	res := c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 10))

	wo := c.Store.GetWorkingOrders("005930")[0]
	limitPx := 49_000.0
	wo.LimitPrice = &limitPx
	c.ApplyFill(wo, 10)

	alloc := c.Store.GetPosition("005930").GetAllocation("KMP")
	if alloc == nil || alloc.Qty != 10 {
		t.Fatalf("alloc=%+v, expected qty 10 after fill", alloc)
	}
	if alloc.CostBasis != 49_000 {
		t.Fatalf("CostBasis=%v, expected 49000 (the fill price)", alloc.CostBasis)
	}
	_ = res
}

// A second strategy's ENTER on a symbol already locked by the first
// must defer, not execute — the entry-lock exclusivity invariant.
func TestSubmitIntentSecondEntryDefersWhileLocked(t *testing.T) {
	c := newTestCore()
	c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 10))

	res := c.SubmitIntent(context.Background(), enterIntent("KPR", "005930", 5))
	if res.Status != intent.StatusDeferred {
		t.Fatalf("Status=%v, expected DEFERRED", res.Status)
	}
}

// Resubmitting an intent with the same idempotency key after it already
// executed must return the cached result rather than place a second order.
func TestSubmitIntentIsIdempotentOnRetry(t *testing.T) {
	c := newTestCore()
	first := enterIntent("KMP", "005930", 10)
	first.SignalHash = "sig-1"
	first.RederiveIdempotencyKey()

	res1 := c.SubmitIntent(context.Background(), first)

	retry := enterIntent("KMP", "005930", 10)
	retry.SignalHash = "sig-1"
	retry.RederiveIdempotencyKey()
	res2 := c.SubmitIntent(context.Background(), retry)

	if res2.OrderID != res1.OrderID {
		t.Fatalf("expected the retried intent to return the cached OrderID %q, got %q", res1.OrderID, res2.OrderID)
	}
}

func TestSubmitIntentExitWithNoAllocationIsRejected(t *testing.T) {
	c := newTestCore()
	in := intent.New(intent.KindExit, "KMP", "005930")
	res := c.SubmitIntent(context.Background(), in)
	if res.Status != intent.StatusRejected {
		t.Fatalf("Status=%v, expected REJECTED", res.Status)
	}
}

// A risk REJECT must leave the symbol's entry lock free (risk runs
// before arbitration takes the lock, and the reject path releases any
// lock the ENTER holds), so a later legitimate entry isn't blocked by a
// failed one.
func TestSubmitIntentReleasesLockOnExposureRejection(t *testing.T) {
	c := newTestCore()
	c.Store.Equity = 100 // force the exposure check to reject outright
	res := c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 1000))
	if res.Status != intent.StatusRejected {
		t.Fatalf("Status=%v, expected REJECTED", res.Status)
	}
	if c.Store.GetPosition("005930").EntryLockOwner != "" {
		t.Fatal("expected the entry lock to be released after rejection")
	}
}

func TestHandleModifyRiskUpdatesSoftStop(t *testing.T) {
	c := newTestCore()
	c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 10))
	wo := c.Store.GetWorkingOrders("005930")[0]
	limitPx := 49_000.0
	wo.LimitPrice = &limitPx
	c.ApplyFill(wo, 10)

	in := intent.New(intent.KindModifyRisk, "KMP", "005930")
	newStop := 47_500.0
	in.RiskPayload.StopPx = &newStop
	res := c.SubmitIntent(context.Background(), in)

	if res.Status != intent.StatusExecuted {
		t.Fatalf("Status=%v, expected EXECUTED", res.Status)
	}
	alloc := c.Store.GetPosition("005930").GetAllocation("KMP")
	if alloc.SoftStopPx == nil || *alloc.SoftStopPx != newStop {
		t.Fatalf("SoftStopPx=%v, expected %v", alloc.SoftStopPx, newStop)
	}
}

func TestFlattenAllExitsEveryAllocation(t *testing.T) {
	c := newTestCore()
	c.SubmitIntent(context.Background(), enterIntent("KMP", "005930", 10))
	wo := c.Store.GetWorkingOrders("005930")[0]
	limitPx := 49_000.0
	wo.LimitPrice = &limitPx
	c.ApplyFill(wo, 10)
	realQty := 10
	c.Store.UpdatePosition("005930", state.PositionUpdate{RealQty: &realQty})

	c.FlattenAll(context.Background())

	if !c.Risk.FlattenInProgress() {
		t.Fatal("expected FlattenInProgress to be set")
	}
	if got := c.Store.GetPosition("005930").WorkingQty("KMP", "SELL"); got != 10 {
		t.Fatalf("WorkingQty(KMP, SELL)=%d, expected a 10-share exit order for KMP's allocation", got)
	}
}
