package intent

import (
	"testing"
	"time"
)

func TestNewNormalizesStrategyIDAndSetsDefaults(t *testing.T) {
	in := New(KindEnter, " kmp ", "005930")
	if in.StrategyID != "KMP" {
		t.Fatalf("StrategyID=%q, expected KMP", in.StrategyID)
	}
	if in.Urgency != UrgencyNormal {
		t.Fatalf("Urgency=%q, expected NORMAL", in.Urgency)
	}
	if in.TimeHorizon != HorizonIntraday {
		t.Fatalf("TimeHorizon=%q, expected INTRADAY", in.TimeHorizon)
	}
	if in.RiskPayload.Confidence != ConfidenceYellow {
		t.Fatalf("Confidence=%q, expected YELLOW", in.RiskPayload.Confidence)
	}
	if in.IdempotencyKey == "" {
		t.Fatal("expected a derived idempotency key")
	}
}

// Two ENTER intents for the same strategy/symbol/trade-date/signal and
// the same quantity must collapse onto the same idempotency key; the
// quantity is part of the key, so a different qty yields a different key.
func TestIdempotencyKeyStableAcrossRetriesSameSignal(t *testing.T) {
	qty1, qty2 := 10, 10
	a := New(KindEnter, "KMP", "005930")
	a.SignalHash = "sig-abc"
	a.DesiredQty = &qty1
	a.RederiveIdempotencyKey()

	b := New(KindEnter, "KMP", "005930")
	b.SignalHash = "sig-abc"
	b.DesiredQty = &qty2
	b.RederiveIdempotencyKey()

	if a.IdempotencyKey != b.IdempotencyKey {
		t.Fatalf("expected identical idempotency keys for retries of the same signal, got %q vs %q", a.IdempotencyKey, b.IdempotencyKey)
	}
}

func TestIdempotencyKeyDiffersAcrossSignals(t *testing.T) {
	a := New(KindEnter, "KMP", "005930")
	a.SignalHash = "sig-abc"
	a.RederiveIdempotencyKey()

	b := New(KindEnter, "KMP", "005930")
	b.SignalHash = "sig-def"
	b.RederiveIdempotencyKey()

	if a.IdempotencyKey == b.IdempotencyKey {
		t.Fatal("expected distinct idempotency keys for distinct signals")
	}
}

// Operational intents (CANCEL_ORDERS etc.) are never deduplicated: every
// call gets a unique key derived from its own IntentID.
func TestIdempotencyKeyUniquePerOperationalIntent(t *testing.T) {
	a := New(KindCancelOrders, "KMP", "005930")
	b := New(KindCancelOrders, "KMP", "005930")
	if a.IdempotencyKey == b.IdempotencyKey {
		t.Fatal("expected operational intents to never share an idempotency key")
	}
}

func TestRederiveIdempotencyKeyPicksUpOverlaidFields(t *testing.T) {
	in := New(KindEnter, "KMP", "005930")
	before := in.IdempotencyKey

	in.RiskPayload.RationaleCode = "BREAKOUT"
	in.RederiveIdempotencyKey()

	if in.IdempotencyKey == before {
		t.Fatal("expected RederiveIdempotencyKey to reflect the overlaid rationale code")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Intent
		wantErr error
	}{
		{
			name: "missing symbol",
			build: func() *Intent {
				in := New(KindEnter, "KMP", "")
				qty := 10
				in.DesiredQty = &qty
				return in
			},
			wantErr: ErrSymbolRequired,
		},
		{
			name: "missing strategy",
			build: func() *Intent {
				in := New(KindEnter, "", "005930")
				qty := 10
				in.DesiredQty = &qty
				return in
			},
			wantErr: ErrStrategyRequired,
		},
		{
			name: "enter without qty",
			build: func() *Intent {
				return New(KindEnter, "KMP", "005930")
			},
			wantErr: ErrQtyRequired,
		},
		{
			name: "exit without qty is fine",
			build: func() *Intent {
				return New(KindExit, "KMP", "005930")
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.build().Validate(); err != tt.wantErr {
				t.Fatalf("Validate()=%v, expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateExpiredIntent(t *testing.T) {
	in := New(KindExit, "KMP", "005930")
	past := float64(time.Now().Add(-time.Minute).Unix())
	in.Constraints.ExpiryTs = &past

	if err := in.Validate(); err != ErrIntentExpired {
		t.Fatalf("Validate()=%v, expected ErrIntentExpired", err)
	}
}
