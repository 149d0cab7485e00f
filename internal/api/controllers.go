package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sehyungp92/k-stock-trader-oms/internal/intent"
	"github.com/sehyungp92/k-stock-trader-oms/internal/state"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

func toResultResponse(res *intent.Result) intentResultResponse {
	out := intentResultResponse{
		IntentID:    res.IntentID,
		Status:      string(res.Status),
		Message:     res.Message,
		ModifiedQty: res.ModifiedQty,
		OrderID:     res.OrderID,
	}
	if res.CooldownUntil != nil {
		s := res.CooldownUntil.Format(time.RFC3339)
		out.CooldownUntil = &s
	}
	return out
}

// submitIntent handles POST /intents — the sole strategy-facing write
// endpoint. The body is deserialized into a domain Intent and run
// through the full pipeline; the response is always a 200 with an
// IntentResult body, since REJECTED/DEFERRED are valid outcomes, not
// HTTP errors.
func (s *Server) submitIntent(c *gin.Context) {
	var req submitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	in := req.toIntent()
	res := s.Core.SubmitIntent(c.Request.Context(), in)
	c.JSON(http.StatusOK, toResultResponse(res))
}

func toPositionResponse(p *state.SymbolPosition) positionResponse {
	allocs := make(map[string]allocationResponse, len(p.Allocations))
	for id, a := range p.Allocations {
		if a.Qty <= 0 {
			continue
		}
		allocs[id] = allocationResponse{StrategyID: a.StrategyID, Qty: a.Qty, CostBasis: a.CostBasis, SoftStopPx: a.SoftStopPx}
	}
	orders := make([]workingOrderResponse, 0, len(p.WorkingOrders))
	for _, wo := range p.WorkingOrders {
		orders = append(orders, workingOrderResponse{
			OrderID: wo.OrderID, Side: wo.Side, Qty: wo.Qty, FilledQty: wo.FilledQty,
			OrderType: wo.OrderType, Status: string(wo.Status), StrategyID: wo.StrategyID,
		})
	}
	return positionResponse{
		Symbol: p.Symbol, RealQty: p.RealQty, AvgPrice: p.AvgPrice,
		Allocations: allocs, EntryLockOwner: p.EntryLockOwner, Frozen: p.Frozen,
		WorkingOrders: orders,
	}
}

// listPositions handles GET /positions.
func (s *Server) listPositions(c *gin.Context) {
	out := make(map[string]positionResponse)
	for _, p := range s.Core.Store.AllPositions() {
		out[p.Symbol] = toPositionResponse(p)
	}
	c.JSON(http.StatusOK, out)
}

// getPosition handles GET /positions/:symbol.
func (s *Server) getPosition(c *gin.Context) {
	symbol := c.Param("symbol")
	p := s.Core.GetPosition(symbol)
	c.JSON(http.StatusOK, toPositionResponse(p))
}

// getAllocationsForStrategy handles GET /allocations/:strategy.
func (s *Server) getAllocationsForStrategy(c *gin.Context) {
	strategyID := c.Param("strategy")
	out := make(map[string]allocationResponse)
	for symbol, a := range s.Core.Store.GetAllocationsForStrategy(strategyID) {
		out[symbol] = allocationResponse{StrategyID: a.StrategyID, Qty: a.Qty, CostBasis: a.CostBasis, SoftStopPx: a.SoftStopPx}
	}
	c.JSON(http.StatusOK, out)
}

// getAccountState handles GET /state/account?strategy=…. When a
// strategy filter is supplied, equity is scaled by that strategy's
// configured capital-allocation fraction (spec.md §6).
func (s *Server) getAccountState(c *gin.Context) {
	store := s.Core.Store
	equity := store.Equity
	if strategyID := c.Query("strategy"); strategyID != "" {
		if budget, ok := s.Core.Risk.Config().StrategyBudgets[strategyID]; ok && budget.CapitalAllocationPct > 0 {
			equity *= budget.CapitalAllocationPct
		}
	}
	c.JSON(http.StatusOK, accountResponse{
		Equity:           equity,
		BuyableCash:      store.BuyableCash,
		DailyRealizedPnl: store.DailyRealizedPnl,
		DailyTotalPnl:    store.DailyTotalPnl,
		DailyPnlPct:      store.DailyPnlPct,
		SafeMode:         s.Core.Risk.SafeMode(),
		HaltNewEntries:   s.Core.Risk.HaltNewEntries(),
	})
}

type heartbeatRequest struct {
	Mode           string `json:"mode"`
	PositionsCount int    `json:"positions_count"`
	LastError      string `json:"last_error"`
}

// heartbeat handles POST /strategies/:strategy/heartbeat.
func (s *Server) heartbeat(c *gin.Context) {
	strategyID := c.Param("strategy")
	var req heartbeatRequest
	_ = c.ShouldBindJSON(&req)
	s.Core.Persist.UpdateStrategyState(strategyID, req.Mode, req.PositionsCount, req.LastError)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type regimeRequest struct {
	Regime string `json:"regime" binding:"required,oneof=CRISIS WEAK NORMAL STRONG"`
}

// setRegime handles POST /risk/regime.
func (s *Server) setRegime(c *gin.Context) {
	var req regimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	s.Core.Risk.SetRegime(req.Regime)
	c.JSON(http.StatusOK, gin.H{"ok": true, "regime": req.Regime})
}

type viCooldownRequest struct {
	Symbol     string `json:"symbol" binding:"required"`
	DurationMs int64  `json:"duration_ms"`
}

// setVICooldown handles POST /risk/vi-cooldown.
func (s *Server) setVICooldown(c *gin.Context) {
	var req viCooldownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	s.Core.Risk.SetVICooldown(req.Symbol, time.Duration(req.DurationMs)*time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// setSafeMode handles POST /risk/safe-mode?enabled=….
func (s *Server) setSafeMode(c *gin.Context) {
	enabled, _ := strconv.ParseBool(c.Query("enabled"))
	s.Core.Risk.SetSafeMode(enabled)
	c.JSON(http.StatusOK, gin.H{"ok": true, "safe_mode": enabled})
}

// flattenAll handles POST /admin/flatten-all.
func (s *Server) flattenAll(c *gin.Context) {
	s.Core.FlattenAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// eodCleanup handles POST /admin/eod-cleanup.
func (s *Server) eodCleanup(c *gin.Context) {
	s.Core.EodCleanup(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// pauseStrategy handles POST /admin/pause-strategy/:strategy.
func (s *Server) pauseStrategy(c *gin.Context) {
	s.Core.Risk.PauseStrategy(c.Param("strategy"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// resumeStrategy handles POST /admin/resume-strategy/:strategy.
func (s *Server) resumeStrategy(c *gin.Context) {
	s.Core.Risk.ResumeStrategy(c.Param("strategy"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type resolveDriftRequest struct {
	Symbol         string `json:"symbol" binding:"required"`
	Action         string `json:"action" binding:"required,oneof=reassign acknowledge"`
	TargetStrategy string `json:"target_strategy"`
}

// resolveDrift handles POST /admin/resolve-drift: the only supported
// recovery path for a frozen symbol (spec.md §9 — drift repair is
// conservative and requires an operator decision).
func (s *Server) resolveDrift(c *gin.Context) {
	var req resolveDriftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Action == "reassign" && req.TargetStrategy == "" {
		respondError(c, http.StatusBadRequest, "INVALID_BODY", "target_strategy required for reassign")
		return
	}

	unlock := s.Core.Store.LockSymbol(req.Symbol)
	defer unlock()
	pos := s.Core.Store.GetPosition(req.Symbol)

	unknown := pos.GetAllocation(state.UnknownStrategy)
	switch req.Action {
	case "reassign":
		qty := 0
		if unknown != nil {
			qty = unknown.Qty
		}
		if qty > 0 {
			s.Core.Store.UpdateAllocation(req.Symbol, state.UnknownStrategy, -qty, 0)
			s.Core.Store.UpdateAllocation(req.Symbol, req.TargetStrategy, qty, pos.AvgPrice)
		}
		pos.Frozen = false
		s.Core.Persist.LogRecon("DRIFT_RESOLVE", req.Symbol, req.TargetStrategy, fmt.Sprintf("%d", qty), "0", "reassign", "operator resolved drift")
	case "acknowledge":
		pos.Frozen = false
		s.Core.Persist.LogRecon("DRIFT_RESOLVE", req.Symbol, "", "", "", "acknowledge", "operator acknowledged drift")
	}
	s.Core.Persist.SyncPosition(pos)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
