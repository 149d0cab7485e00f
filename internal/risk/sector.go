package risk

import "sync"

// SectorConfig tunes how sector exposure is capped. Rebuilt from
// oms/risk.py's usage contract (kis_core.SectorExposureConfig isn't in
// the retrieval pack — kis_core/ only ships indicators.py, itself out
// of scope) rather than ported from a source file.
type SectorConfig struct {
	MaxSectorPct        float64
	UnknownSectorPolicy string // "allow" | "block"
}

const unknownSector = "UNKNOWN"

type sectorCounters struct {
	reservedNotional float64
	openNotional     float64
}

// SectorExposure tracks two parallel per-sector notional counters —
// reserved (orders in flight) and open (filled positions) — so the
// risk gateway can cap by either before a fill lands.
type SectorExposure struct {
	mu          sync.Mutex
	symToSector map[string]string
	config      SectorConfig
	counters    map[string]*sectorCounters
}

// NewSectorExposure builds a tracker from a symbol->sector map.
func NewSectorExposure(symToSector map[string]string, cfg SectorConfig) *SectorExposure {
	if symToSector == nil {
		symToSector = make(map[string]string)
	}
	return &SectorExposure{
		symToSector: symToSector,
		config:      cfg,
		counters:    make(map[string]*sectorCounters),
	}
}

// GetSector resolves a symbol to its sector, or UNKNOWN.
func (s *SectorExposure) GetSector(symbol string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec, ok := s.symToSector[symbol]; ok && sec != "" {
		return sec
	}
	return unknownSector
}

func (s *SectorExposure) counterLocked(sector string) *sectorCounters {
	c, ok := s.counters[sector]
	if !ok {
		c = &sectorCounters{}
		s.counters[sector] = c
	}
	return c
}

// SectorPct returns the sector's combined reserved+open notional as a
// fraction of equity.
func (s *SectorExposure) SectorPct(sector string, equity float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if equity <= 0 {
		return 0
	}
	c := s.counterLocked(sector)
	return (c.reservedNotional + c.openNotional) / equity
}

// CanEnter checks whether entering qty@price on symbol would keep the
// symbol's sector within MaxSectorPct of equity. Unknown sectors pass
// when UnknownSectorPolicy is "allow" (the default).
func (s *SectorExposure) CanEnter(symbol string, qty int, price, equity float64) bool {
	sector := s.GetSector(symbol)
	if sector == unknownSector && s.config.UnknownSectorPolicy == "allow" {
		return true
	}
	if equity <= 0 {
		return false
	}
	s.mu.Lock()
	c := s.counterLocked(sector)
	projected := (c.reservedNotional + c.openNotional + float64(qty)*price) / equity
	s.mu.Unlock()
	return projected <= s.config.MaxSectorPct
}

// Reserve books a pending order's notional against its sector ahead of
// submission.
func (s *SectorExposure) Reserve(symbol string, qty int, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterLocked(s.symToSectorLocked(symbol)).reservedNotional += float64(qty) * price
}

// Unreserve releases a reservation on order failure or cancellation.
func (s *SectorExposure) Unreserve(symbol string, qty int, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterLocked(s.symToSectorLocked(symbol))
	c.reservedNotional -= float64(qty) * price
	if c.reservedNotional < 0 {
		c.reservedNotional = 0
	}
}

// OnFill moves notional from reserved to open when an order fills.
func (s *SectorExposure) OnFill(symbol string, qty int, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterLocked(s.symToSectorLocked(symbol))
	notional := float64(qty) * price
	c.reservedNotional -= notional
	if c.reservedNotional < 0 {
		c.reservedNotional = 0
	}
	c.openNotional += notional
}

// OnClose removes notional from the open counter on a position close.
func (s *SectorExposure) OnClose(symbol string, qty int, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterLocked(s.symToSectorLocked(symbol))
	c.openNotional -= float64(qty) * price
	if c.openNotional < 0 {
		c.openNotional = 0
	}
}

// PositionSnapshot is the minimal shape Reconcile needs per symbol.
type PositionSnapshot struct {
	Symbol  string
	RealQty int
	Price   float64
}

// Reconcile rebuilds the open counters from the OMS's own truth
// (broker-confirmed positions), discarding accumulated drift, and
// clears reserved notional for any symbol no longer in workingSymbols.
func (s *SectorExposure) Reconcile(positions []PositionSnapshot, workingSymbols map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		c.openNotional = 0
	}
	for _, p := range positions {
		if p.RealQty == 0 {
			continue
		}
		c := s.counterLocked(s.symToSectorLocked(p.Symbol))
		c.openNotional += float64(p.RealQty) * p.Price
	}
	if workingSymbols != nil {
		for sector, c := range s.counters {
			stillWorking := false
			for sym, sec := range s.symToSector {
				if sec == sector && workingSymbols[sym] {
					stillWorking = true
					break
				}
			}
			if !stillWorking {
				c.reservedNotional = 0
			}
		}
	}
}

// UpdateSectorMap replaces the symbol->sector lookup table wholesale.
func (s *SectorExposure) UpdateSectorMap(m map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symToSector = m
}

func (s *SectorExposure) symToSectorLocked(symbol string) string {
	if sec, ok := s.symToSector[symbol]; ok && sec != "" {
		return sec
	}
	return unknownSector
}
