// Package planner converts a risk-approved, arbitration-cleared intent
// into an executable OrderPlan. Ported from oms/planner.py.
package planner

import (
	"time"

	"github.com/google/uuid"

	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
)

// OrderType is the execution style an OrderPlan requests.
type OrderType string

const (
	TypeMarket         OrderType = "MARKET"
	TypeLimit          OrderType = "LIMIT"
	TypeStopLimit      OrderType = "STOP_LIMIT"
	TypeMarketableLimit OrderType = "MARKETABLE_LIMIT"
)

// Plan is an executable order plan handed to the Broker Adapter.
type Plan struct {
	PlanID      string
	Symbol      string
	Side        string // BUY | SELL
	Qty         int
	OrderType   OrderType
	LimitPrice  *float64
	StopPrice   *float64
	CancelAfter time.Duration
	IntentIDs   []string
	StrategyID  string
	MaxChaseBps float64
	CreatedAt   time.Time
}

// Planner builds Plans from approved intents.
type Planner struct{}

// New returns a stateless OrderPlanner.
func New() *Planner { return &Planner{} }

func ptr(f float64) *float64 { return &f }

// CreatePlan builds the entry-side plan: stop-limit for breakout-style
// entries with a stop_price, marketable-limit for HIGH urgency, plain
// limit otherwise.
func (p *Planner) CreatePlan(symbol, side string, qty int, in *intent.Intent, currentPrice float64) Plan {
	plan := Plan{
		PlanID:      uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		IntentIDs:   []string{in.IntentID},
		StrategyID:  in.StrategyID,
		MaxChaseBps: 30.0,
		CreatedAt:   time.Now(),
	}

	switch {
	case in.Constraints.StopPrice != nil && side == "BUY":
		plan.OrderType = TypeStopLimit
		plan.StopPrice = in.Constraints.StopPrice
		if in.Constraints.LimitPrice != nil {
			plan.LimitPrice = in.Constraints.LimitPrice
		} else {
			plan.LimitPrice = ptr(*in.Constraints.StopPrice * 1.003)
		}
		plan.CancelAfter = 30 * time.Second

	case in.Urgency == intent.UrgencyHigh:
		plan.OrderType = TypeMarketableLimit
		if side == "BUY" {
			plan.LimitPrice = ptr(currentPrice * 1.002)
		} else {
			plan.LimitPrice = ptr(currentPrice * 0.998)
		}
		plan.CancelAfter = 10 * time.Second

	default:
		plan.OrderType = TypeLimit
		if in.Constraints.LimitPrice != nil {
			plan.LimitPrice = in.Constraints.LimitPrice
		} else {
			plan.LimitPrice = ptr(currentPrice)
		}
		plan.CancelAfter = 120 * time.Second
	}

	return plan
}

// CreateExitPlan always produces a market SELL with a short cancel-after.
func (p *Planner) CreateExitPlan(symbol string, qty int, strategyID, intentID string) Plan {
	return Plan{
		PlanID:      uuid.NewString(),
		Symbol:      symbol,
		Side:        "SELL",
		Qty:         qty,
		OrderType:   TypeMarket,
		IntentIDs:   []string{intentID},
		StrategyID:  strategyID,
		CancelAfter: 5 * time.Second,
		CreatedAt:   time.Now(),
	}
}
