package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/broker"
	"github.com/sehyungp92/k-stock-trader-oms/internal/persistence"
	"github.com/sehyungp92/k-stock-trader-oms/internal/risk"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
)

// fakeRaw is a scriptable broker.RawClient for driving one reconcile
// cycle's worth of order/position state without a real connection.
type fakeRaw struct {
	orders       []broker.Order
	positions    []broker.Position
	equity       float64
	ordersErr    error
	balanceErr   error
	buyableErr   error
}

func (f *fakeRaw) PlaceMarketOrder(ctx context.Context, symbol, side string, qty int) (string, error) {
	return "BRK-1", nil
}
func (f *fakeRaw) PlaceLimitOrder(ctx context.Context, symbol, side string, qty int, limitPrice float64) (string, error) {
	return "BRK-1", nil
}
func (f *fakeRaw) CancelOrder(ctx context.Context, orderID, symbol string, qty int, branch string) error {
	return nil
}
func (f *fakeRaw) GetOrders(ctx context.Context) ([]broker.Order, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders, nil
}
func (f *fakeRaw) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, nil
}
func (f *fakeRaw) GetBalanceSnapshot(ctx context.Context) (broker.BalanceSnapshot, error) {
	if f.balanceErr != nil {
		return broker.BalanceSnapshot{}, f.balanceErr
	}
	return broker.BalanceSnapshot{Positions: f.positions, Equity: f.equity}, nil
}
func (f *fakeRaw) GetBuyableCash(ctx context.Context) (int64, error) {
	if f.buyableErr != nil {
		return 0, f.buyableErr
	}
	return 1_000_000, nil
}

// stubFillApplier records every fill it's handed instead of touching
// allocations, since internal/oms.Core can't be imported here.
type stubFillApplier struct {
	calls []int
}

func (s *stubFillApplier) ApplyFill(wo *state.WorkingOrder, fillQty int) {
	s.calls = append(s.calls, fillQty)
	wo.FilledQty += fillQty
}

func newTestService(raw broker.RawClient) (*Service, *state.Store, *risk.Gateway, *stubFillApplier) {
	store := state.NewStore()
	gateway := risk.New(store, risk.DefaultConfig(), func(string) (float64, bool) { return 0, false }, nil)
	fills := &stubFillApplier{}
	adapter := broker.New(raw)
	persist := persistence.New(nil)
	svc := New(store, gateway, adapter, persist, fills, nil, time.Second)
	return svc, store, gateway, fills
}

func TestReconcileDetectsFillAndReleasesEntryLock(t *testing.T) {
	raw := &fakeRaw{
		orders:    []broker.Order{{OrderID: "o1", Symbol: "005930", Side: "BUY", Qty: 10, FilledQty: 10}},
		positions: []broker.Position{{Symbol: "005930", Qty: 10, AvgPrice: 70_000, CurrentPrice: 70_500}},
		equity:    1_000_000,
	}
	svc, store, _, fills := newTestService(raw)

	store.AddWorkingOrder(&state.WorkingOrder{OrderID: "o1", Symbol: "005930", Side: "BUY", Qty: 10, StrategyID: "KMP", Status: state.OrderWorking})
	store.SetEntryLock("005930", "KMP", time.Minute)

	if err := svc.reconcile(context.Background(), 0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(fills.calls) != 1 || fills.calls[0] != 10 {
		t.Fatalf("fills=%v, expected a single fill of 10", fills.calls)
	}
	pos := store.GetPosition("005930")
	if pos.EntryLockOwner != "" {
		t.Fatalf("EntryLockOwner=%q, expected the lock released on fill", pos.EntryLockOwner)
	}
	if wos := store.GetWorkingOrders("005930"); len(wos) != 1 || wos[0].Status != state.OrderFilled {
		t.Fatalf("working orders=%+v, expected the order marked FILLED and retained", wos)
	}
}

func TestReconcileTreatsVanishedOrderAsCancelled(t *testing.T) {
	raw := &fakeRaw{
		orders:    nil, // the order the store tracks no longer appears broker-side
		positions: []broker.Position{{Symbol: "005930", Qty: 0}},
		equity:    1_000_000,
	}
	svc, store, _, _ := newTestService(raw)
	store.AddWorkingOrder(&state.WorkingOrder{OrderID: "o1", Symbol: "005930", Side: "BUY", Qty: 10, StrategyID: "KMP", Status: state.OrderWorking})
	store.SetEntryLock("005930", "KMP", time.Minute)

	if err := svc.reconcile(context.Background(), 0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if wos := store.GetWorkingOrders("005930"); len(wos) != 0 {
		t.Fatalf("working orders=%+v, expected the vanished order removed", wos)
	}
	if pos := store.GetPosition("005930"); pos.EntryLockOwner != "" {
		t.Fatalf("EntryLockOwner=%q, expected released once the order vanished", pos.EntryLockOwner)
	}
}

func TestCheckAllocationDriftAssignsPositiveDriftToUnknownAndFreezes(t *testing.T) {
	svc, store, _, _ := newTestService(&fakeRaw{})
	store.UpdatePosition("005930", state.PositionUpdate{RealQty: intPtr(10)})
	store.UpdateAllocation("005930", "KMP", 4, 70_000)

	svc.checkAllocationDrift()

	pos := store.GetPosition("005930")
	if !pos.Frozen {
		t.Fatal("expected the symbol frozen after unresolved drift")
	}
	unknown := pos.GetAllocation(state.UnknownStrategy)
	if unknown == nil || unknown.Qty != 6 {
		t.Fatalf("unknown allocation=%+v, expected qty=6 (10 real - 4 allocated)", unknown)
	}
}

func TestCheckAllocationDriftUnfreezesOnceResolved(t *testing.T) {
	svc, store, _, _ := newTestService(&fakeRaw{})
	store.UpdatePosition("005930", state.PositionUpdate{RealQty: intPtr(10), Frozen: boolPtr(true)})
	store.UpdateAllocation("005930", "KMP", 10, 70_000)

	svc.checkAllocationDrift()

	if pos := store.GetPosition("005930"); pos.Frozen {
		t.Fatal("expected the symbol unfrozen once allocations match real_qty")
	}
}

func TestCheckAllocationDriftSkipsSymbolsWithWorkingOrders(t *testing.T) {
	svc, store, _, _ := newTestService(&fakeRaw{})
	store.UpdatePosition("005930", state.PositionUpdate{RealQty: intPtr(10)})
	store.AddWorkingOrder(&state.WorkingOrder{OrderID: "o1", Symbol: "005930", Side: "BUY", Qty: 5, StrategyID: "KMP", Status: state.OrderWorking})

	svc.checkAllocationDrift()

	if pos := store.GetPosition("005930"); pos.Frozen {
		t.Fatal("expected drift check to skip a symbol with an open working order")
	}
}

func TestLoopEntersSafeModeAfterConsecutiveFailures(t *testing.T) {
	raw := &fakeRaw{ordersErr: errors.New("connection reset"), balanceErr: errors.New("connection reset")}
	svc, _, gateway, _ := newTestService(raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gateway.SafeMode() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected safe mode after repeated reconciliation failures")
}

func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
