package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"marketquotes/internal/api"
	"marketquotes/internal/app"
	"marketquotes/internal/cache"
	"marketquotes/internal/config"
	"marketquotes/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	svcs := app.Build(cfg, lg)
	h := api.New(lg, svcs.Commodity, svcs.Market,
		api.WithCommodityCache(cache.New[api.CommodityPayload](cfg.Commodity.CacheTTL)),
		api.WithMarketCache(cache.New[api.MarketPayload](cfg.Market.CacheTTL)),
		api.WithStream(cfg.Stream.Enabled),
		api.WithCheckOrigin(checkOrigin(cfg.Server.AllowedOrigins)),
	)
	router := mux.NewRouter()
	h.Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newHandler(router, lg, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(h.Close)

	go func() {
		lg.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("shutdown", zap.Error(err))
	}
}
