package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tidemark/internal/domain"
	"tidemark/internal/util"
)

var _ HistoricalProvider = (*AlpacaHistorical)(nil)

// AlpacaHistorical pulls daily bars from the Alpaca market-data API.
type AlpacaHistorical struct {
	client  *marketdata.Client
	feed    marketdata.Feed
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaHistorical creates an AlpacaHistorical with the given credentials.
// dataURL overrides the API base URL when non-empty; rateLimitPerMin bounds
// outbound request rate.
func NewAlpacaHistorical(apiKey, apiSecret, dataURL, feed string, rateLimitPerMin int) *AlpacaHistorical {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}

	return &AlpacaHistorical{
		client:  marketdata.NewClient(opts),
		feed:    marketdata.Feed(feed),
		limiter: util.NewRateLimiter(rateLimitPerMin),
		log:     slog.Default().With("provider", "alpaca-hist"),
	}
}

// Name returns the provider identifier.
func (p *AlpacaHistorical) Name() string { return "alpaca-hist" }

// PullRange fetches daily bars for all symbols in one multi-symbol call,
// falling back to per-symbol calls when the batch fails so one bad symbol
// cannot sink the rest.
func (p *AlpacaHistorical) PullRange(ctx context.Context, symbols []string, start, end time.Time) (PullResult, error) {
	if end.Before(start) {
		return PullResult{}, domain.ErrInvalidRange
	}

	res := PullResult{
		Series: make(map[string][]domain.Bar, len(symbols)),
		Failed: make(map[string]error),
	}
	if len(symbols) == 0 {
		return res, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return PullResult{}, err
	}

	multiBars, err := p.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      p.feed,
	})
	if err != nil {
		p.log.Warn("multi-bar fetch failed, retrying per symbol", "symbols", len(symbols), "err", err)
		return p.pullPerSymbol(ctx, symbols, start, end)
	}

	for _, sym := range symbols {
		res.Series[sym] = normalizeBars(sym, multiBars[sym])
	}
	return res, nil
}

func (p *AlpacaHistorical) pullPerSymbol(ctx context.Context, symbols []string, start, end time.Time) (PullResult, error) {
	res := PullResult{
		Series: make(map[string][]domain.Bar, len(symbols)),
		Failed: make(map[string]error),
	}

	allFailed := true
	for _, sym := range symbols {
		if err := p.limiter.Wait(ctx); err != nil {
			return PullResult{}, err
		}

		bars, err := p.client.GetBars(sym, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      p.feed,
		})
		if err != nil {
			res.Failed[sym] = fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, sym, err)
			continue
		}
		allFailed = false
		res.Series[sym] = normalizeBars(sym, bars)
	}

	if allFailed {
		return PullResult{}, fmt.Errorf("%w: every symbol failed", domain.ErrProviderUnavailable)
	}
	return res, nil
}

func normalizeBars(symbol string, in []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(in))
	for _, ab := range in {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
			Source:    domain.SourceAlpacaHist,
		})
	}
	return bars
}
