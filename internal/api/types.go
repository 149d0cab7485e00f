package api

import "github.com/sehyungp92/k-stock-trader-oms/internal/intent"

// submitIntentRequest is the wire shape of POST /intents: every Intent
// field a strategy supplies, minus the server-minted identity fields
// (intent_id, idempotency_key, timestamp).
type submitIntentRequest struct {
	Kind        string  `json:"kind" binding:"required"`
	StrategyID  string  `json:"strategy_id" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	DesiredQty  *int    `json:"desired_qty"`
	TargetQty   *int    `json:"target_qty"`
	Urgency     string  `json:"urgency"`
	TimeHorizon string  `json:"time_horizon"`
	SignalHash  string  `json:"signal_hash"`

	MaxSlippageBps *float64 `json:"max_slippage_bps"`
	MaxSpreadBps   *float64 `json:"max_spread_bps"`
	LimitPrice     *float64 `json:"limit_price"`
	StopPrice      *float64 `json:"stop_price"`
	ExpiryTs       *float64 `json:"expiry_ts"`

	EntryPx       *float64 `json:"entry_px"`
	StopPx        *float64 `json:"stop_px"`
	HardStopPx    *float64 `json:"hard_stop_px"`
	RationaleCode string   `json:"rationale_code"`
	Confidence    string   `json:"confidence"`
}

// toIntent builds a domain Intent from the wire request, applying the
// same defaults intent.New applies (uppercased strategy id, NORMAL
// urgency, INTRADAY horizon, YELLOW confidence) before overlaying the
// caller's values.
func (r *submitIntentRequest) toIntent() *intent.Intent {
	in := intent.New(intent.Kind(r.Kind), r.StrategyID, r.Symbol)
	in.DesiredQty = r.DesiredQty
	in.TargetQty = r.TargetQty
	if r.Urgency != "" {
		in.Urgency = intent.Urgency(r.Urgency)
	}
	if r.TimeHorizon != "" {
		in.TimeHorizon = intent.TimeHorizon(r.TimeHorizon)
	}
	in.SignalHash = r.SignalHash
	in.Constraints = intent.Constraints{
		MaxSlippageBps: r.MaxSlippageBps,
		MaxSpreadBps:   r.MaxSpreadBps,
		LimitPrice:     r.LimitPrice,
		StopPrice:      r.StopPrice,
		ExpiryTs:       r.ExpiryTs,
	}
	in.RiskPayload = intent.RiskPayload{
		EntryPx:       r.EntryPx,
		StopPx:        r.StopPx,
		HardStopPx:    r.HardStopPx,
		RationaleCode: r.RationaleCode,
	}
	if r.Confidence != "" {
		in.RiskPayload.Confidence = intent.Confidence(r.Confidence)
	}
	// Re-derive the idempotency key now that the caller's fields (which
	// intent.New couldn't have seen yet) are in place.
	in.RederiveIdempotencyKey()
	return in
}

// intentResultResponse mirrors intent.Result for JSON.
type intentResultResponse struct {
	IntentID      string  `json:"intent_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message,omitempty"`
	ModifiedQty   *int    `json:"modified_qty,omitempty"`
	OrderID       string  `json:"order_id,omitempty"`
	CooldownUntil *string `json:"cooldown_until,omitempty"`
}

type allocationResponse struct {
	StrategyID string   `json:"strategy_id"`
	Qty        int      `json:"qty"`
	CostBasis  float64  `json:"cost_basis"`
	SoftStopPx *float64 `json:"soft_stop_px,omitempty"`
}

type workingOrderResponse struct {
	OrderID    string `json:"order_id"`
	Side       string `json:"side"`
	Qty        int    `json:"qty"`
	FilledQty  int    `json:"filled_qty"`
	OrderType  string `json:"order_type"`
	Status     string `json:"status"`
	StrategyID string `json:"strategy_id"`
}

type positionResponse struct {
	Symbol          string                        `json:"symbol"`
	RealQty         int                           `json:"real_qty"`
	AvgPrice        float64                        `json:"avg_price"`
	Allocations     map[string]allocationResponse `json:"allocations"`
	EntryLockOwner  string                        `json:"entry_lock_owner,omitempty"`
	Frozen          bool                          `json:"frozen"`
	WorkingOrders   []workingOrderResponse        `json:"working_orders"`
}

type accountResponse struct {
	Equity         float64 `json:"equity"`
	BuyableCash    float64 `json:"buyable_cash"`
	DailyRealizedPnl float64 `json:"daily_realized_pnl"`
	DailyTotalPnl  float64 `json:"daily_total_pnl"`
	DailyPnlPct    float64 `json:"daily_pnl_pct"`
	SafeMode       bool    `json:"safe_mode"`
	HaltNewEntries bool    `json:"halt_new_entries"`
}

type healthResponse struct {
	Status             string `json:"status"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	PositionCount      int    `json:"position_count"`
	BrokerFailures     int    `json:"broker_consecutive_failures"`
	SafeMode           bool   `json:"safe_mode"`
}
