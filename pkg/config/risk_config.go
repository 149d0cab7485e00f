package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sehyungp92/k-stock-trader-oms/internal/risk"
)

// riskYAML mirrors the YAML shape load_oms_config/build_risk_config
// expects: a top-level "risk" section, a "regime_exposure_caps" map,
// and a "strategy_budgets" map.
type riskYAML struct {
	Risk struct {
		DailyLossWarnPct    *float64 `yaml:"daily_loss_warn_pct"`
		DailyLossHaltPct    *float64 `yaml:"daily_loss_halt_pct"`
		MaxGrossExposurePct *float64 `yaml:"max_gross_exposure_pct"`
		MaxNetExposurePct   *float64 `yaml:"max_net_exposure_pct"`
		MaxPositionPct      *float64 `yaml:"max_position_pct"`
		MaxPositionsCount   *int     `yaml:"max_positions_count"`
		MaxSectorPct        *float64 `yaml:"max_sector_pct"`
		MaxSpreadBps        *float64 `yaml:"max_spread_bps"`
		VICooldownSec       *float64 `yaml:"vi_cooldown_sec"`
	} `yaml:"risk"`
	RegimeExposureCaps map[string]float64 `yaml:"regime_exposure_caps"`
	StrategyBudgets    map[string]struct {
		MaxPositions         int     `yaml:"max_positions"`
		MaxRiskPct           float64 `yaml:"max_risk_pct"`
		CapitalAllocationPct float64 `yaml:"capital_allocation_pct"`
	} `yaml:"strategy_budgets"`
}

// LoadRiskConfig searches path (falling back to DefaultConfig()'s values
// for anything unset), matching build_risk_config's get-with-default
// semantics. A missing or unreadable file is not an error: the OMS
// starts with defaults, logging nothing louder than the caller wants.
func LoadRiskConfig(path string) risk.Config {
	cfg := risk.DefaultConfig()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	var raw riskYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	if v := raw.Risk.DailyLossWarnPct; v != nil {
		cfg.DailyLossWarnPct = *v
	}
	if v := raw.Risk.DailyLossHaltPct; v != nil {
		cfg.DailyLossHaltPct = *v
	}
	if v := raw.Risk.MaxGrossExposurePct; v != nil {
		cfg.MaxGrossExposurePct = *v
	}
	if v := raw.Risk.MaxNetExposurePct; v != nil {
		cfg.MaxNetExposurePct = *v
	}
	if v := raw.Risk.MaxPositionPct; v != nil {
		cfg.MaxPositionPct = *v
	}
	if v := raw.Risk.MaxPositionsCount; v != nil {
		cfg.MaxPositionsCount = *v
	}
	if v := raw.Risk.MaxSectorPct; v != nil {
		cfg.MaxSectorPct = *v
	}
	if v := raw.Risk.MaxSpreadBps; v != nil {
		cfg.MaxSpreadBps = *v
	}
	if v := raw.Risk.VICooldownSec; v != nil {
		cfg.VICooldownSec = *v
	}
	if len(raw.RegimeExposureCaps) > 0 {
		cfg.RegimeExposureCaps = raw.RegimeExposureCaps
	}
	if len(raw.StrategyBudgets) > 0 {
		budgets := make(map[string]risk.StrategyBudget, len(raw.StrategyBudgets))
		for id, b := range raw.StrategyBudgets {
			budgets[id] = risk.StrategyBudget{
				MaxPositions:         b.MaxPositions,
				MaxRiskPct:           b.MaxRiskPct,
				CapitalAllocationPct: b.CapitalAllocationPct,
			}
		}
		cfg.StrategyBudgets = budgets
	}
	return cfg
}

// sectorYAML is a flat symbol -> sector map, e.g. {"005930": "semiconductors"}.
type sectorYAML map[string]string

// LoadSectorMap reads a symbol->sector overlay. A missing file yields a
// nil map (every symbol falls back to the unknown-sector policy).
func LoadSectorMap(path string) map[string]string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw sectorYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}
