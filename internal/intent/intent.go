// Package intent defines the Intent/IntentResult contract strategies use
// to interact with the OMS. An Intent is the only interface strategies
// have into order execution; the OMS owns everything downstream of it.
package intent

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the operations an Intent can request.
type Kind string

const (
	KindEnter        Kind = "ENTER"
	KindReduce       Kind = "REDUCE"
	KindExit         Kind = "EXIT"
	KindSetTarget    Kind = "SET_TARGET"
	KindCancelOrders Kind = "CANCEL_ORDERS"
	KindModifyRisk   Kind = "MODIFY_RISK"
	KindFlatten      Kind = "FLATTEN"
)

// Urgency affects order planning: HIGH crosses the spread, LOW/NORMAL rest.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
)

// TimeHorizon distinguishes same-day from multi-day holding intent.
type TimeHorizon string

const (
	HorizonIntraday TimeHorizon = "INTRADAY"
	HorizonSwing    TimeHorizon = "SWING"
)

// Status is the lifecycle status an IntentResult carries.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusApproved Status = "APPROVED"
	StatusModified Status = "MODIFIED"
	StatusRejected Status = "REJECTED"
	StatusDeferred Status = "DEFERRED"
	StatusExecuted Status = "EXECUTED"
	StatusCanceled Status = "CANCELLED"
)

// Confidence reflects how strongly a strategy backs a signal.
type Confidence string

const (
	ConfidenceGreen  Confidence = "GREEN"
	ConfidenceYellow Confidence = "YELLOW"
)

// Constraints bound how an order derived from this intent may execute.
type Constraints struct {
	MaxSlippageBps *float64
	MaxSpreadBps   *float64
	LimitPrice     *float64
	StopPrice      *float64
	ExpiryTs       *float64 // unix epoch seconds
}

// RiskPayload carries the strategy's own risk framing for the position.
type RiskPayload struct {
	EntryPx       *float64
	StopPx        *float64
	HardStopPx    *float64
	RationaleCode string
	Confidence    Confidence
}

// Intent is emitted by a strategy and processed exactly once by the OMS.
// Optional fields are set after New; when one the idempotency key
// depends on changes, RederiveIdempotencyKey recomputes the key.
type Intent struct {
	IntentID       string
	Kind           Kind
	StrategyID     string
	Symbol         string
	DesiredQty     *int
	TargetQty      *int
	Urgency        Urgency
	TimeHorizon    TimeHorizon
	Constraints    Constraints
	RiskPayload    RiskPayload
	SignalHash     string
	IdempotencyKey string
	Timestamp      time.Time
}

// nowFn is overridable in tests.
var nowFn = time.Now

// tradeDateFn returns the current KST trade-date string (YYYYMMDD).
var tradeDateFn = func() string {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.UTC
	}
	return nowFn().In(loc).Format("20060102")
}

// New constructs an Intent, normalizing the strategy ID and deriving a
// deterministic idempotency key when one isn't supplied.
func New(kind Kind, strategyID, symbol string) *Intent {
	in := &Intent{
		IntentID:    uuid.NewString(),
		Kind:        kind,
		StrategyID:  strings.ToUpper(strings.TrimSpace(strategyID)),
		Symbol:      symbol,
		Urgency:     UrgencyNormal,
		TimeHorizon: HorizonIntraday,
		RiskPayload: RiskPayload{Confidence: ConfidenceYellow},
		Timestamp:   nowFn(),
	}
	in.deriveIdempotencyKey()
	return in
}

// RederiveIdempotencyKey recomputes IdempotencyKey from the intent's
// current fields. Callers that build an Intent via New and then
// overlay additional fields (signal hash, rationale code, quantities)
// that the key derivation depends on must call this afterward —
// ingress DTOs are the only caller today.
func (in *Intent) RederiveIdempotencyKey() {
	in.IdempotencyKey = ""
	in.deriveIdempotencyKey()
}

func (in *Intent) deriveIdempotencyKey() {
	if in.IdempotencyKey != "" {
		return
	}
	tradeDate := tradeDateFn()
	qtyPart := 0
	if in.DesiredQty != nil {
		qtyPart = *in.DesiredQty
	} else if in.TargetQty != nil {
		qtyPart = *in.TargetQty
	}

	var suffix string
	switch in.Kind {
	case KindEnter:
		switch {
		case in.SignalHash != "":
			suffix = in.SignalHash
		case in.RiskPayload.RationaleCode != "":
			suffix = in.RiskPayload.RationaleCode
		default:
			suffix = "default"
		}
	case KindExit, KindReduce, KindFlatten:
		if in.RiskPayload.RationaleCode != "" {
			suffix = in.RiskPayload.RationaleCode
		} else {
			suffix = "manual"
		}
	default:
		// Operational intents (CANCEL_ORDERS, MODIFY_RISK, SET_TARGET) are
		// never deduplicated: each call is unique.
		if len(in.IntentID) >= 8 {
			suffix = in.IntentID[:8]
		} else {
			suffix = in.IntentID
		}
	}

	in.IdempotencyKey = strings.Join([]string{
		in.StrategyID, in.Symbol, string(in.Kind), tradeDate, suffix, itoa(qtyPart),
	}, ":")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

var (
	ErrSymbolRequired     = errors.New("symbol required")
	ErrStrategyRequired   = errors.New("strategy_id required")
	ErrQtyRequired        = errors.New("desired_qty or target_qty required")
	ErrIntentExpired      = errors.New("intent expired")
)

// Validate checks required fields and expiry. It mirrors the original's
// validate(): required fields first, quantity presence for ENTER/REDUCE,
// then expiry enforcement.
func (in *Intent) Validate() error {
	if in.Symbol == "" {
		return ErrSymbolRequired
	}
	if in.StrategyID == "" {
		return ErrStrategyRequired
	}
	if in.Kind == KindEnter || in.Kind == KindReduce {
		if in.DesiredQty == nil && in.TargetQty == nil {
			return ErrQtyRequired
		}
	}
	if in.Constraints.ExpiryTs != nil {
		nowEpoch := float64(nowFn().Unix())
		if nowEpoch > *in.Constraints.ExpiryTs {
			return ErrIntentExpired
		}
	}
	return nil
}

// Result is returned by the OMS after processing an Intent.
type Result struct {
	IntentID      string
	Status        Status
	Message       string
	ModifiedQty   *int
	OrderID       string
	CooldownUntil *time.Time
}
