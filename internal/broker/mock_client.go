package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/pkg/cache"
)

// MockClient is a synthetic RawClient for local development and the
// dry-run mode: it fills orders against a live price cache instead of
// a real broker connection. Grounded on the teacher's
// internal/market.MockFeed idiom (a synthetic generator wired behind
// the same interface a real feed/client would satisfy), adapted here
// to implement RawClient's request/response shape instead of a price
// ticker.
type MockClient struct {
	prices *cache.ShardedPriceCache

	mu        sync.Mutex
	orders    map[string]*Order
	positions map[string]*Position
	cash      int64
	equity    float64
	seq       int
}

// NewMockClient builds a MockClient seeded with startEquity buyable
// cash and reading last-price ticks from prices (may be nil, in which
// case fills use a fixed synthetic price).
func NewMockClient(prices *cache.ShardedPriceCache, startEquity float64) *MockClient {
	return &MockClient{
		prices:    prices,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		cash:      int64(startEquity),
		equity:    startEquity,
	}
}

func (m *MockClient) nextID() string {
	m.seq++
	return fmt.Sprintf("MOCK-%06d", m.seq)
}

func (m *MockClient) priceFor(symbol string) float64 {
	if m.prices != nil {
		if px, ok := m.prices.Get(symbol); ok && px > 0 {
			return px
		}
	}
	return 50000.0
}

// PlaceMarketOrder fills immediately at the last known price (or a
// default synthetic price when none is cached).
func (m *MockClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	px := m.priceFor(symbol)
	m.applyFillLocked(symbol, side, qty, px)
	m.orders[id] = &Order{OrderID: id, Symbol: symbol, Side: side, Qty: qty, FilledQty: qty, LimitPrice: px, SubmitTime: time.Now()}
	return id, nil
}

// PlaceLimitOrder rests as WORKING most of the time, occasionally
// filling immediately to exercise the reconciliation loop's fill path
// without every test needing to wait out a cancel-after timeout.
func (m *MockClient) PlaceLimitOrder(ctx context.Context, symbol, side string, qty int, limitPrice float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	filled := 0
	if rand.Intn(4) == 0 {
		filled = qty
		m.applyFillLocked(symbol, side, qty, limitPrice)
	}
	m.orders[id] = &Order{OrderID: id, Symbol: symbol, Side: side, Qty: qty, FilledQty: filled, LimitPrice: limitPrice, SubmitTime: time.Now()}
	return id, nil
}

func (m *MockClient) applyFillLocked(symbol, side string, qty int, px float64) {
	pos, ok := m.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		m.positions[symbol] = pos
	}
	if side == "BUY" {
		totalCost := pos.AvgPrice*float64(pos.Qty) + px*float64(qty)
		pos.Qty += qty
		if pos.Qty > 0 {
			pos.AvgPrice = totalCost / float64(pos.Qty)
		}
		m.cash -= int64(px * float64(qty))
	} else {
		pos.Qty -= qty
		m.cash += int64(px * float64(qty))
	}
	pos.CurrentPrice = px
}

// CancelOrder marks an order cancelled if it still has an unfilled
// remainder; filled orders cannot be cancelled.
func (m *MockClient) CancelOrder(ctx context.Context, orderID, symbol string, qty int, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.Qty = o.FilledQty
	return nil
}

// GetOrders returns every order this client has seen that still has an
// unfilled remainder; fully filled or cancelled orders are left out.
func (m *MockClient) GetOrders(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.FilledQty < o.Qty {
			out = append(out, *o)
		}
	}
	return out, nil
}

// GetPositions returns the synthetic book's current holdings.
func (m *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Qty != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

// GetBalanceSnapshot bundles positions and a synthetic equity figure
// (cash + mark-to-market of every open position) in one call.
func (m *MockClient) GetBalanceSnapshot(ctx context.Context) (BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	equity := float64(m.cash)
	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Qty == 0 {
			continue
		}
		px := m.priceFor(p.Symbol)
		p.CurrentPrice = px
		equity += px * float64(p.Qty)
		positions = append(positions, *p)
	}
	return BalanceSnapshot{Positions: positions, Equity: equity}, nil
}

// GetBuyableCash returns the synthetic cash balance.
func (m *MockClient) GetBuyableCash(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash, nil
}
