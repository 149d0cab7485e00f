package risk

// StrategyBudget caps a strategy's position count and per-trade risk.
type StrategyBudget struct {
	MaxPositions         int
	MaxRiskPct           float64
	CapitalAllocationPct float64
}

// Config holds tunable risk limits, loaded from pkg/config's YAML layer.
// It lives in memory only: nothing reads or writes pkg/db's risk_config
// table, so changes made at runtime do not survive a restart.
type Config struct {
	DailyLossWarnPct float64
	DailyLossHaltPct float64

	MaxGrossExposurePct float64
	MaxNetExposurePct   float64
	MaxPositionPct      float64
	MaxPositionsCount   int
	MaxSectorPct        float64

	StrategyBudgets map[string]StrategyBudget

	MaxSpreadBps   float64
	VICooldownSec  float64

	RegimeExposureCaps map[string]float64
	CurrentRegime      string
}

// DefaultConfig mirrors RiskConfig.__post_init__'s defaults in the
// original, including the per-strategy budget table for the four
// strategies this OMS was built to serve.
func DefaultConfig() Config {
	return Config{
		DailyLossWarnPct:    0.02,
		DailyLossHaltPct:    0.03,
		MaxGrossExposurePct: 0.80,
		MaxNetExposurePct:   0.60,
		MaxPositionPct:      0.15,
		MaxPositionsCount:   10,
		MaxSectorPct:        0.30,
		MaxSpreadBps:        50.0,
		VICooldownSec:       600.0,
		CurrentRegime:       "NORMAL",
		RegimeExposureCaps: map[string]float64{
			"CRISIS": 0.20,
			"WEAK":   0.50,
			"NORMAL": 0.80,
			"STRONG": 1.00,
		},
		StrategyBudgets: map[string]StrategyBudget{
			"KMP":      {MaxPositions: 4, MaxRiskPct: 0.015, CapitalAllocationPct: 1.0},
			"KPR":      {MaxPositions: 3, MaxRiskPct: 0.015, CapitalAllocationPct: 1.0},
			"NULRIMOK": {MaxPositions: 5, MaxRiskPct: 0.08, CapitalAllocationPct: 1.0},
			"PCIM":     {MaxPositions: 8, MaxRiskPct: 0.10, CapitalAllocationPct: 1.0},
		},
	}
}
