package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lv-posengine/internal/accounts"
	"lv-posengine/internal/auth"
	"lv-posengine/internal/config"
	"lv-posengine/internal/db"
	"lv-posengine/internal/httpserver"
	"lv-posengine/internal/ledger"
	"lv-posengine/internal/marktomarket"
	"lv-posengine/internal/positions"
	"lv-posengine/internal/stream"
	"lv-posengine/internal/symbols"
	"lv-posengine/internal/ticks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	catalog := symbols.NewCatalog()
	tickBus := stream.NewTickBus()
	hub := stream.NewHub(cfg.WSQueueSize)
	cache := ticks.NewPriceCache()

	ledgerSvc := ledger.NewService(pool)
	accountsSvc := accounts.NewService(pool)
	store := positions.NewStore()
	positionsSvc := positions.NewService(store, catalog, ledgerSvc, ledgerSvc, cache, hub)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	loop := marktomarket.NewLoop(tickBus, store, catalog, accountsSvc, ledgerSvc, hub, marktomarket.Config{
		PositionPushEvery: cfg.PositionPush,
		CapitalPushEvery:  cfg.CapitalPush,
		AlertCooldown:     cfg.AlertCooldown,
	})
	go loop.Run(ctx)

	feedSymbols := cfg.Symbols
	if len(feedSymbols) == 0 {
		feedSymbols = catalog.Symbols()
	}
	supervisor := ticks.NewSupervisor(ticks.FeedConfig{
		URL:        cfg.FeedWSURL,
		APIKey:     cfg.FeedAPIKey,
		ZeroSpread: cfg.ZeroSpread,
	}, tickBus, hub, cache)
	supervisor.Start(ctx, feedSymbols)
	defer supervisor.Stop()

	handler := httpserver.NewHandler(positionsSvc, accountsSvc, ledgerSvc, cache)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Handler:       handler,
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		UserWS:        httpserver.NewUserWSHandler(hub, authSvc, positionsSvc, accountsSvc, cfg.WebSocketOrigin),
		QuoteWS:       httpserver.NewQuoteWSHandler(hub, catalog, cache, cfg.WebSocketOrigin),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Printf("engine listening on %s", cfg.HTTPAddr)
	log.Printf("feeding %d symbols from %s", len(feedSymbols), cfg.FeedWSURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
