// Package broker adapts a single equities broker's raw API into the
// normalized surface the OMS core depends on: submit/cancel/query with
// transient-error retry, client-side dedup, and a BrokerQueryResult
// contract that never conflates "empty" with "failed". Ported from
// oms/adapter.py; retry/backoff bookkeeping and rate limiting follow
// the teacher's gateway.Manager circuit-breaker idiom and
// pkg/exchanges/common.RateLimiter.
package broker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RawClient is the minimal surface a concrete broker SDK must expose.
// It intentionally mirrors KISExecutionAdapter's thin wrapper over the
// underlying KIS API calls rather than any one vendor's client shape.
type RawClient interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty int) (orderID string, err error)
	PlaceLimitOrder(ctx context.Context, symbol, side string, qty int, limitPrice float64) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID, symbol string, qty int, branch string) error
	GetOrders(ctx context.Context) ([]Order, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetBalanceSnapshot(ctx context.Context) (BalanceSnapshot, error)
	GetBuyableCash(ctx context.Context) (int64, error)
}

// Adapter is the normalized broker adapter used by the rest of the OMS.
type Adapter struct {
	client  RawClient
	limiter *rate.Limiter

	mu                  sync.Mutex
	consecutiveFailures int
}

// New wraps client with retry/backoff and a conservative default
// request-rate limiter (5 req/s, burst 10) matching the teacher's
// per-connection RateLimiter defaults.
func New(client RawClient) *Adapter {
	return &Adapter{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate") || strings.Contains(msg, "timeout") || strings.Contains(msg, "temporary")
}

// SubmitOrder submits an order, making up to maxRetries attempts in all
// (so at most maxRetries-1 retries) on a transient error, with
// exponential backoff (2^attempt seconds, attempt counted from 0). Before
// any retry beyond the first attempt, it re-queries working orders to
// detect a likely duplicate from a prior timed-out attempt and, if
// found, short-circuits by returning that order's ID rather than
// risking a double submission — the original's client-side dedup is
// never broker-side.
func (a *Adapter) SubmitOrder(ctx context.Context, symbol, side string, qty int, orderType string, limitPrice, stopPrice *float64, maxRetries int) SubmitResult {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	clientRef := fmt.Sprintf("OMS-%s", uuid.NewString()[:12])

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if dup, ok := a.findDuplicate(ctx, symbol, side, qty); ok {
				log.Printf("broker: dedup matched likely-duplicate order %s for %s (client_ref=%s)", dup, symbol, clientRef)
				return SubmitResult{Success: true, OrderID: dup}
			}
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return SubmitResult{Success: false, Error: ErrorUnknown, Message: err.Error()}
		}

		orderID, err := a.dispatch(ctx, symbol, side, qty, orderType, limitPrice, stopPrice)
		if err == nil {
			a.recordSuccess()
			return SubmitResult{Success: true, OrderID: orderID}
		}

		lastErr = err
		a.recordFailure()
		if !isTransient(err) || attempt == maxRetries-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Printf("broker: transient error on submit (%s), retrying in %s (attempt %d/%d)", err, backoff, attempt+1, maxRetries)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return SubmitResult{Success: false, Error: ErrorUnknown, Message: ctx.Err().Error()}
		}
	}

	if isTransient(lastErr) {
		return SubmitResult{Success: false, Error: ErrorTemp, Message: lastErr.Error()}
	}
	return SubmitResult{Success: false, Error: ErrorRejectedInvalid, Message: errString(lastErr)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (a *Adapter) dispatch(ctx context.Context, symbol, side string, qty int, orderType string, limitPrice, stopPrice *float64) (string, error) {
	switch orderType {
	case "MARKET":
		return a.client.PlaceMarketOrder(ctx, symbol, side, qty)
	case "LIMIT", "MARKETABLE_LIMIT":
		lp := 0.0
		if limitPrice != nil {
			lp = *limitPrice
		}
		return a.client.PlaceLimitOrder(ctx, symbol, side, qty, lp)
	case "STOP_LIMIT":
		// Native stop-limit isn't supported by every venue; simulate as a
		// plain limit at the given limit (or, failing that, stop) price.
		lp := 0.0
		switch {
		case limitPrice != nil:
			lp = *limitPrice
		case stopPrice != nil:
			lp = *stopPrice
		}
		log.Printf("broker: simulating STOP_LIMIT as LIMIT@%.2f for %s (no native support)", lp, symbol)
		return a.client.PlaceLimitOrder(ctx, symbol, side, qty, lp)
	default:
		return "", fmt.Errorf("unsupported order type %q", orderType)
	}
}

func (a *Adapter) findDuplicate(ctx context.Context, symbol, side string, qty int) (string, bool) {
	res := a.GetOrders(ctx)
	if !res.OK {
		return "", false
	}
	for _, o := range res.Data {
		if o.Symbol == symbol && o.Side == side && o.Qty == qty {
			return o.OrderID, true
		}
	}
	return "", false
}

// CancelOrder looks up the order's branch if not supplied, then cancels.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string, qty int, branch string) error {
	if branch == "" {
		if res := a.GetOrders(ctx); res.OK {
			for _, o := range res.Data {
				if o.OrderID == orderID {
					branch = o.Branch
					break
				}
			}
		}
	}
	return a.client.CancelOrder(ctx, orderID, symbol, qty, branch)
}

// GetOrders returns every working order in a single call.
func (a *Adapter) GetOrders(ctx context.Context) QueryResult[Order] {
	orders, err := a.client.GetOrders(ctx)
	if err != nil {
		a.recordFailure()
		return QueryResult[Order]{OK: false, ErrorMessage: err.Error()}
	}
	a.recordSuccess()
	return QueryResult[Order]{OK: true, Data: orders}
}

// GetPositions returns every held position.
func (a *Adapter) GetPositions(ctx context.Context) QueryResult[Position] {
	positions, err := a.client.GetPositions(ctx)
	if err != nil {
		a.recordFailure()
		return QueryResult[Position]{OK: false, ErrorMessage: err.Error()}
	}
	a.recordSuccess()
	return QueryResult[Position]{OK: true, Data: positions}
}

// GetBalanceSnapshot returns positions and equity from a single broker
// round trip, eliminating a duplicate call the reconciliation loop
// would otherwise need to make separately for each.
func (a *Adapter) GetBalanceSnapshot(ctx context.Context) (BalanceSnapshot, error) {
	snap, err := a.client.GetBalanceSnapshot(ctx)
	if err != nil {
		a.recordFailure()
		return BalanceSnapshot{}, err
	}
	a.recordSuccess()
	return snap, nil
}

// GetBuyableCash returns available cash, or an error if the query
// failed — callers must not treat a failed call as zero cash.
func (a *Adapter) GetBuyableCash(ctx context.Context) (int64, error) {
	cash, err := a.client.GetBuyableCash(ctx)
	if err != nil {
		a.recordFailure()
		return 0, err
	}
	a.recordSuccess()
	return cash, nil
}

func (a *Adapter) recordFailure() {
	a.mu.Lock()
	a.consecutiveFailures++
	a.mu.Unlock()
}

func (a *Adapter) recordSuccess() {
	a.mu.Lock()
	a.consecutiveFailures = 0
	a.mu.Unlock()
}

// ConsecutiveFailures reports the current run of failed broker calls,
// surfaced on /health.
func (a *Adapter) ConsecutiveFailures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures
}
