package risk

import "testing"

func TestCanEnterAllowsUnknownSectorByDefault(t *testing.T) {
	s := NewSectorExposure(nil, SectorConfig{MaxSectorPct: 0.10, UnknownSectorPolicy: "allow"})
	if !s.CanEnter("999999", 100, 1_000, 1_000_000) {
		t.Fatal("expected an unmapped symbol to pass under the allow policy regardless of notional")
	}
}

func TestCanEnterBlocksUnknownSectorUnderBlockPolicy(t *testing.T) {
	s := NewSectorExposure(nil, SectorConfig{MaxSectorPct: 0.10, UnknownSectorPolicy: "block"})
	if s.CanEnter("999999", 100, 1_000, 1_000_000) {
		t.Fatal("expected an unmapped symbol to be blocked under the block policy")
	}
}

func TestCanEnterCapsAtMaxSectorPct(t *testing.T) {
	sectors := map[string]string{"005930": "semiconductors", "000660": "semiconductors"}
	s := NewSectorExposure(sectors, SectorConfig{MaxSectorPct: 0.10, UnknownSectorPolicy: "allow"})
	equity := 1_000_000.0

	// 9% of equity already reserved in the sector.
	s.Reserve("005930", 90, 1_000)

	if !s.CanEnter("000660", 9, 1_000, equity) {
		t.Fatal("expected 9+90=99 (9.9%) to stay within the 10% cap")
	}
	if s.CanEnter("000660", 20, 1_000, equity) {
		t.Fatal("expected 20+90=110 (11%) to breach the 10% cap")
	}
}

func TestReserveThenOnFillMovesNotionalWithoutDoubleCounting(t *testing.T) {
	sectors := map[string]string{"005930": "semiconductors"}
	s := NewSectorExposure(sectors, SectorConfig{MaxSectorPct: 1.0, UnknownSectorPolicy: "allow"})

	s.Reserve("005930", 10, 70_000)
	if pct := s.SectorPct("semiconductors", 1_000_000); pct <= 0 {
		t.Fatalf("SectorPct=%v, expected nonzero after a reservation", pct)
	}

	s.OnFill("005930", 10, 70_000)
	pctAfterFill := s.SectorPct("semiconductors", 1_000_000)
	expected := 10 * 70_000.0 / 1_000_000
	if diff := pctAfterFill - expected; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("SectorPct after fill=%v, expected %v (reserved moved to open, not doubled)", pctAfterFill, expected)
	}
}

func TestUnreserveNeverGoesNegative(t *testing.T) {
	s := NewSectorExposure(nil, SectorConfig{MaxSectorPct: 1.0, UnknownSectorPolicy: "allow"})
	s.Reserve("005930", 5, 1_000)
	s.Unreserve("005930", 50, 1_000) // unreserve more than was ever reserved
	if pct := s.SectorPct(unknownSector, 1_000_000); pct < 0 {
		t.Fatalf("SectorPct=%v, expected clamped at 0", pct)
	}
}

func TestOnCloseNeverGoesNegative(t *testing.T) {
	s := NewSectorExposure(nil, SectorConfig{MaxSectorPct: 1.0, UnknownSectorPolicy: "allow"})
	s.OnFill("005930", 5, 1_000)
	s.OnClose("005930", 50, 1_000) // close more than was ever opened
	if pct := s.SectorPct(unknownSector, 1_000_000); pct < 0 {
		t.Fatalf("SectorPct=%v, expected clamped at 0", pct)
	}
}

func TestReconcileRebuildsOpenNotionalFromBrokerTruth(t *testing.T) {
	sectors := map[string]string{"005930": "semiconductors"}
	s := NewSectorExposure(sectors, SectorConfig{MaxSectorPct: 1.0, UnknownSectorPolicy: "allow"})

	// Drift accumulated in-process before reconciliation.
	s.OnFill("005930", 999, 1_000)

	s.Reconcile([]PositionSnapshot{{Symbol: "005930", RealQty: 10, Price: 70_000}}, map[string]bool{"005930": true})

	expected := 10 * 70_000.0 / 1_000_000
	if pct := s.SectorPct("semiconductors", 1_000_000); pct-expected > 1e-9 || pct-expected < -1e-9 {
		t.Fatalf("SectorPct after reconcile=%v, expected %v (broker truth, not the drifted value)", pct, expected)
	}
}

func TestReconcileClearsReservationForSymbolsNoLongerWorking(t *testing.T) {
	sectors := map[string]string{"005930": "semiconductors"}
	s := NewSectorExposure(sectors, SectorConfig{MaxSectorPct: 1.0, UnknownSectorPolicy: "allow"})
	s.Reserve("005930", 10, 1_000)

	s.Reconcile(nil, map[string]bool{}) // nothing is working anymore

	if pct := s.SectorPct("semiconductors", 1_000_000); pct != 0 {
		t.Fatalf("SectorPct=%v, expected the stale reservation cleared to 0", pct)
	}
}

func TestUpdateSectorMapReplacesLookup(t *testing.T) {
	s := NewSectorExposure(map[string]string{"005930": "semiconductors"}, SectorConfig{MaxSectorPct: 1.0})
	if got := s.GetSector("005930"); got != "semiconductors" {
		t.Fatalf("GetSector=%q, expected semiconductors", got)
	}

	s.UpdateSectorMap(map[string]string{"005930": "tech"})
	if got := s.GetSector("005930"); got != "tech" {
		t.Fatalf("GetSector=%q, expected tech after UpdateSectorMap", got)
	}
}
