// backfill reconciles stored history for a symbol list over a date range
// and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tidemark/internal/config"
	"tidemark/internal/provider"
	"tidemark/internal/reconcile"
	"tidemark/internal/store"
	"tidemark/internal/util"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/tidemark.yaml", "config file path")
		symbols = flag.String("symbols", "", "comma-separated symbols (required)")
		start   = flag.String("start", "", "range start, YYYY-MM-DD (required)")
		end     = flag.String("end", "", "range end, YYYY-MM-DD (required)")
		refresh = flag.Bool("refresh", false, "re-pull the whole range, ignoring coverage")
	)
	flag.Parse()

	if p := os.Getenv("TIDEMARK_CONFIG"); p != "" {
		*cfgPath = p
	}
	if *symbols == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatalf("bad -end: %v", err)
	}

	var syms []string
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms = append(syms, s)
		}
	}

	cfg, err := config.Load(*cfgPath)
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

	res, err := engine.Reconcile(ctx, syms, startDate, endDate, *refresh)
	if err != nil {
		log.Fatalf("reconcile failed: %v", err)
	}

	failures := 0
	for _, sym := range syms {
		sr := res.Symbols[sym]
		switch {
		case sr.Err != nil:
			failures++
			fmt.Printf("%-8s FAILED  %v\n", sym, sr.Err)
		case sr.PersistErr != nil:
			failures++
			fmt.Printf("%-8s PARTIAL %d bars (%d fetched, persist failed)\n", sym, len(sr.Bars), sr.Fetched)
		default:
			fmt.Printf("%-8s OK      %d bars (%d fetched)\n", sym, len(sr.Bars), sr.Fetched)
		}
	}
	if failures > 0 {
		os.Exit(1)
	}
}
