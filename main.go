// Command k-stock-trader-oms boots the order management system: it
// wires the sqlite-backed persistence layer, the broker adapter (a
// synthetic dry-run client when DRY_RUN is set, which it is by
// default), the risk gateway, and the intent pipeline, then serves the
// HTTP ingress described in SPEC_FULL.md section 6.
//
// Exit codes follow SPEC_FULL.md section 6: 0 clean shutdown, 2
// startup failure (config invalid, DB unreachable, or license check
// failed), 3 unrecoverable reconciliation loss (the gateway entered
// safe mode and stayed there).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sehyungp92/k-stock-trader-oms/internal/api"
	"github.com/sehyungp92/k-stock-trader-oms/internal/broker"
	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
	"github.com/sehyungp92/k-stock-trader-oms/internal/oms"
	"github.com/sehyungp92/k-stock-trader-oms/internal/persistence"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/cache"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/config"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/db"
	"github.com/sehyungp92/k-stock-trader-oms/pkg/license"
)

// startEquity seeds the mock broker/account when no persisted state
// exists yet. A real broker integration would read this from the
// account's actual cash balance instead (spec.md section 1 keeps the
// real broker wire protocol out of scope).
const startEquity = 100_000_000.0

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config load failed: %v", err)
		os.Exit(2)
	}

	if !cfg.DryRun && cfg.LicenseToken != "" {
		mgr := license.NewManager(cfg.JWTSecret)
		if err := mgr.Validate(cfg.LicenseToken); err != nil {
			log.Printf("license validation failed: %v", err)
			os.Exit(2)
		}
	}

	dbPath := cfg.DBPath
	if cfg.DryRun {
		dbPath = cfg.DryRunDBPath
	}
	database, err := db.New(dbPath)
	if err != nil {
		log.Printf("db open failed: %v", err)
		os.Exit(2)
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Printf("db migrate failed: %v", err)
		os.Exit(2)
	}

	bus := events.NewBus()
	priceCache := cache.NewShardedPriceCache()
	persist := persistence.New(database)

	riskConfig := config.LoadRiskConfig(cfg.RiskConfigPath)
	sectorMap := config.LoadSectorMap(cfg.SectorMapPath)

	var rawClient broker.RawClient
	if cfg.DryRun {
		log.Println("oms: DRY_RUN enabled, using synthetic broker client")
		rawClient = broker.NewMockClient(priceCache, startEquity)
	} else {
		// No real broker wire client ships in this module (spec.md
		// section 1, Non-goals) — a live deployment must supply one
		// satisfying broker.RawClient before disabling dry-run.
		log.Println("oms: DRY_RUN disabled but no live broker client is wired; exiting")
		os.Exit(2)
	}
	brokerAdapter := broker.New(rawClient)

	core := oms.New(brokerAdapter, riskConfig, sectorMap, priceCache, persist, nil, bus)
	core.Store.Equity = startEquity
	core.Store.BuyableCash = startEquity

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		log.Printf("oms start failed: %v", err)
		os.Exit(2)
	}

	server := api.NewServer(core, bus, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()

	go watchSafeMode(ctx, core)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("oms: shutting down")
	cancel()
	core.Shutdown()
	if err := database.Close(); err != nil {
		log.Printf("db close: %v", err)
	}
}

// watchSafeMode polls for a reconciliation loop that has tripped safe
// mode and never recovered. Reconciliation flips safe mode after five
// consecutive broker-query failures (internal/reconciliation); if it is
// still set minutes later the broker connection is presumed lost for
// good, and the process exits non-zero so a supervisor can restart or
// page an operator rather than keep serving stale positions.
func watchSafeMode(ctx context.Context, core *oms.Core) {
	const (
		pollInterval  = 30 * time.Second
		graceDuration = 5 * time.Minute
	)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var safeModeSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !core.Risk.SafeMode() {
				safeModeSince = time.Time{}
				continue
			}
			if safeModeSince.IsZero() {
				safeModeSince = time.Now()
				continue
			}
			if time.Since(safeModeSince) >= graceDuration {
				log.Printf("oms: safe mode held for %s, reconciliation loss presumed unrecoverable", graceDuration)
				os.Exit(3)
			}
		}
	}
}
