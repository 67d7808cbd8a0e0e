package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tidemark/internal/domain"
)

var _ HistoricalProvider = (*YahooHistorical)(nil)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooHistorical pulls daily bars from the Yahoo Finance chart API. It is
// pull-only: Yahoo has no subscription stream.
type YahooHistorical struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewYahooHistorical creates a YahooHistorical. baseURL overrides the public
// endpoint when non-empty, which the tests use to point at a local server.
func NewYahooHistorical(baseURL string) *YahooHistorical {
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	return &YahooHistorical{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		// Yahoo throttles aggressively; 2 req/s with a small burst keeps
		// backfills under its radar.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		log:     slog.Default().With("provider", "yahoo-hist"),
	}
}

// Name returns the provider identifier.
func (p *YahooHistorical) Name() string { return "yahoo-hist" }

// chartResponse mirrors the subset of the chart API payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// PullRange fetches daily bars one symbol at a time; the chart API has no
// multi-symbol form. A symbol Yahoo does not know yields an empty series,
// not a failure.
func (p *YahooHistorical) PullRange(ctx context.Context, symbols []string, start, end time.Time) (PullResult, error) {
	if end.Before(start) {
		return PullResult{}, domain.ErrInvalidRange
	}

	res := PullResult{
		Series: make(map[string][]domain.Bar, len(symbols)),
		Failed: make(map[string]error),
	}

	allFailed := len(symbols) > 0
	for _, sym := range symbols {
		if err := p.limiter.Wait(ctx); err != nil {
			return PullResult{}, err
		}
		bars, err := p.fetchSymbol(ctx, sym, start, end)
		if err != nil {
			p.log.Warn("symbol fetch failed", "symbol", sym, "err", err)
			res.Failed[sym] = err
			continue
		}
		allFailed = false
		res.Series[sym] = bars
	}

	if allFailed {
		return PullResult{}, fmt.Errorf("%w: every symbol failed", domain.ErrProviderUnavailable)
	}
	return res, nil
}

func (p *YahooHistorical) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	// End is inclusive at daily granularity; period2 is exclusive.
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", domain.Day(start).Unix()))
	q.Set("period2", fmt.Sprintf("%d", domain.Day(end).AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")

	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.Bar{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrProviderUnavailable, symbol, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode chart response for %s: %w", symbol, err)
	}
	if body.Chart.Error != nil {
		if body.Chart.Error.Code == "Not Found" {
			return []domain.Bar{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrProviderUnavailable, symbol, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return []domain.Bar{}, nil
	}

	result := body.Chart.Result[0]
	ohlc := result.Indicators.Quote[0]

	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(ohlc.Close) || ohlc.Close[i] == 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: domain.Day(time.Unix(ts, 0)),
			Open:      at(ohlc.Open, i),
			High:      at(ohlc.High, i),
			Low:       at(ohlc.Low, i),
			Close:     ohlc.Close[i],
			Volume:    atInt(ohlc.Volume, i),
			Source:    domain.SourceYahooHist,
		})
	}
	return bars, nil
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

func atInt(xs []int64, i int) int64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}
