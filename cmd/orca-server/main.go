package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orca/internal/audit"
	"orca/internal/broker"
	"orca/internal/config"
	"orca/internal/domain"
	"orca/internal/engine"
	"orca/internal/httpapi"
	"orca/internal/marketfeed"
	"orca/internal/store"
	"orca/internal/util"
)

func main() {
	cfgPath := "config/orca.yaml"
	if p := os.Getenv("ORCA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The mock broker trades against seeded demo data.
	if cfg.Broker.Provider == "mock" {
		if err := s.SeedDemo(ctx, domain.RiskRules{
			Name:            cfg.Risk.Name,
			MinCredit:       cfg.Risk.MinCredit,
			MaxLossPerTrade: cfg.Risk.MaxLossPerTrade,
			MinOpenInterest: cfg.Risk.MinOpenInterest,
			DeltaCapAbs:     cfg.Risk.DeltaCapAbs,
			LeverageCap:     cfg.Risk.LeverageCap,
		}); err != nil {
			log.Fatalf("failed to seed demo data: %v", err)
		}
	}

	provider, err := broker.New(broker.Options{
		Provider:  cfg.Broker.Provider,
		Env:       domain.BrokerEnv(cfg.Broker.Env),
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
		DataURL:   cfg.Alpaca.DataURL,
	}, s, logger)
	if err != nil {
		log.Fatalf("failed to build broker provider: %v", err)
	}

	recorder := audit.NewRecorder(s, logger)
	eng := engine.NewEngine(s, provider, recorder, engine.SimplifiedPricing{}, engine.WallClock{},
		time.Duration(cfg.Trading.FillDelayMs)*time.Millisecond, logger)

	hub := marketfeed.NewHub(logger)
	eng.SetNotifier(hub)
	go hub.Run(ctx)

	if cfg.Broker.Provider == "mock" && len(cfg.Feed.Bases) > 0 {
		feed := marketfeed.NewFeed(s, hub, cfg.Feed.Bases,
			time.Duration(cfg.Feed.IntervalMs)*time.Millisecond, logger)
		go feed.Run(ctx)
	}

	api := httpapi.NewServer(eng, provider, s, hub, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("orca-server listening", "addr", addr, "broker", provider.Name(), "env", cfg.Broker.Env)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
