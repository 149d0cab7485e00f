package events

// Event enumerates high-level topics published onto the bus.
type Event string

const (
	EventIntentResult        Event = "intent.result"
	EventOrderUpdate         Event = "order.update"
	EventFill                Event = "order.fill"
	EventRiskDecision        Event = "risk.decision"
	EventReconciliationCycle Event = "reconciliation.cycle"
	EventDriftDetected       Event = "reconciliation.drift"
	EventSafeMode            Event = "oms.safe_mode"
)

// IntentResultPayload is published whenever submit_intent finalizes.
type IntentResultPayload struct {
	IntentID   string
	StrategyID string
	Symbol     string
	Kind       string
	Status     string
	Message    string
	OrderID    string
}

// OrderUpdatePayload is published on any working-order status change.
type OrderUpdatePayload struct {
	OrderID    string
	Symbol     string
	StrategyID string
	Status     string
	FilledQty  int
	Qty        int
}

// FillPayload is published on every applied fill.
type FillPayload struct {
	OrderID    string
	Symbol     string
	Side       string
	StrategyID string
	Qty        int
	Price      float64
	RealizedPnl *float64
}

// RiskDecisionPayload is published for REJECT/DEFER/MODIFY verdicts,
// surfacing risk activity on the dashboard without replaying every
// APPROVE.
type RiskDecisionPayload struct {
	IntentID   string
	StrategyID string
	Symbol     string
	Decision   string
	Reason     string
}

// ReconciliationCyclePayload summarizes one completed reconciliation cycle.
type ReconciliationCyclePayload struct {
	CycleCount int
	DriftCount int
	Status     string
}

// DriftPayload is published whenever checkAllocationDrift freezes or
// unfreezes a symbol.
type DriftPayload struct {
	Symbol string
	Drift  int
	Action string
}

// SafeModePayload is published whenever safe mode is toggled.
type SafeModePayload struct {
	Enabled bool
	Reason  string
}
