// tidemarkd is the ingestion daemon: it serves the historical API and keeps
// the configured live streams running until signalled.
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

	"tidemark/internal/config"
	"tidemark/internal/httpapi"
	"tidemark/internal/ingest"
	"tidemark/internal/provider"
	"tidemark/internal/reconcile"
	"tidemark/internal/store"
	"tidemark/internal/stream"
	"tidemark/internal/util"
)

func main() {
	cfgPath := "config/tidemark.yaml"
	if p := os.Getenv("TIDEMARK_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	recordStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer recordStore.Close()

	pullers := []provider.HistoricalProvider{
		provider.NewAlpacaHistorical(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL,
			cfg.Alpaca.Feed,
			cfg.Alpaca.RateLimitPerMin,
		),
	}
	if cfg.Yahoo.Enabled {
		pullers = append(pullers, provider.NewYahooHistorical(cfg.Yahoo.BaseURL))
	}
	engine := reconcile.NewEngine(recordStore, pullers)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var coordinator *ingest.Coordinator
	if len(cfg.Stream.Symbols) > 0 {
		sv := stream.NewSupervisor(
			provider.NewAlpacaStream(cfg.Alpaca.StreamURL, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret),
			recordStore,
			cfg.Stream.Symbols,
			stream.Options{
				QueueSize:     cfg.Stream.QueueSize,
				MaxReconnects: cfg.Stream.MaxReconnects,
			},
		)
		coordinator = ingest.NewCoordinator([]ingest.StreamRunner{sv}, 15*time.Second)
		if err := coordinator.Start(ctx); err != nil {
			log.Fatalf("failed to start streams: %v", err)
		}
		defer coordinator.Stop()
	}

	api := httpapi.NewServer(engine, recordStore, coordinator, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	go func() {
		logger.Info("http listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
}
