package broker

import "time"

// ErrorKind classifies a broker call failure for the OMS's error
// handling design (spec.md §7): NONE means success.
type ErrorKind string

const (
	ErrorNone           ErrorKind = "NONE"
	ErrorRateLimit      ErrorKind = "RATE_LIMIT"
	ErrorTemp           ErrorKind = "TEMP_ERROR"
	ErrorRejectedInvalid ErrorKind = "REJECTED_INVALID"
	ErrorRejectedRisk   ErrorKind = "REJECTED_RISK"
	ErrorUnknown        ErrorKind = "UNKNOWN"
)

// Order is the broker's normalized view of a working order, as parsed
// from a get_orders-equivalent call.
type Order struct {
	OrderID    string
	Symbol     string
	Side       string
	Qty        int
	FilledQty  int
	LimitPrice float64
	Branch     string
	SubmitTime time.Time
}

// Position is the broker's normalized view of a held position.
type Position struct {
	Symbol       string
	Qty          int
	AvgPrice     float64
	CurrentPrice float64
}

// Fill is a single execution event for an order.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      string
	Qty       int
	Price     float64
	Timestamp time.Time
}

// QueryResult wraps a broker query with an explicit ok flag: an
// empty-but-ok=false result must never be read as "nothing exists" —
// it means the query itself failed and the caller should skip the
// cycle rather than act on an empty list.
type QueryResult[T any] struct {
	OK           bool
	Data         []T
	ErrorMessage string
}

// SubmitResult is the outcome of SubmitOrder.
type SubmitResult struct {
	Success bool
	OrderID string
	Error   ErrorKind
	Message string
}

// BalanceSnapshot bundles positions and equity from a single broker
// call, matching get_balance_snapshot's point of the original: one
// round trip serves both the reconciliation loop's position sync and
// its equity read.
type BalanceSnapshot struct {
	Positions []Position
	Equity    float64
}
