// Package reconcile fills gaps between stored history and provider history:
// it derives what is already covered, pulls only the missing trading-day
// sub-ranges, persists idempotently, and returns the merged series.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/provider"
	"tidemark/internal/store"
	"tidemark/internal/util"
)

const persistAttempts = 3

// SymbolResult is the outcome for one requested symbol.
type SymbolResult struct {
	// Bars is the merged stored-plus-fetched series, ascending by timestamp.
	Bars []domain.Bar
	// Fetched counts bars pulled from providers during this call.
	Fetched int
	// Err is set only when every capable provider failed for this symbol.
	Err error
	// PersistErr is set when fetched data could not be written after
	// retries. Bars still carries the data.
	PersistErr error
}

// Result maps each requested symbol to its outcome. Every requested symbol
// has an entry, even when empty or failed.
type Result struct {
	Symbols map[string]*SymbolResult
}

// Engine coordinates the store, the trading calendar, and an ordered list of
// pull providers. Earlier providers are preferred; later ones only see the
// symbols earlier ones failed.
type Engine struct {
	store     store.RecordStore
	providers []provider.HistoricalProvider
	cal       *util.TradingCalendar
	log       *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine over the given store and providers, in
// preference order.
func NewEngine(s store.RecordStore, providers []provider.HistoricalProvider) *Engine {
	return &Engine{
		store:     s,
		providers: providers,
		cal:       util.NewTradingCalendar(),
		log:       slog.Default().With("component", "reconcile"),
		now:       time.Now,
	}
}

// Reconcile brings stored coverage for the symbols up to date over
// [start, end] and returns the merged series. With force set, coverage is
// ignored and the whole range is re-pulled; the store's composite keys make
// the re-pull harmless. A second call over the same range performs no
// provider calls at all.
func (e *Engine) Reconcile(ctx context.Context, symbols []string, start, end time.Time, force bool) (Result, error) {
	if end.Before(start) {
		return Result{}, fmt.Errorf("%w: %s after %s", domain.ErrInvalidRange,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	res := Result{Symbols: make(map[string]*SymbolResult, len(symbols))}
	if len(symbols) == 0 {
		return res, nil
	}
	for _, sym := range symbols {
		res.Symbols[sym] = &SymbolResult{}
	}

	start = domain.Day(start)
	end = domain.Day(end)
	// Never ask providers for sessions that have not closed yet.
	if latest := e.cal.LatestFinishedTradingDay(e.now()); end.After(latest) {
		end = latest
	}
	if end.Before(start) {
		return res, nil
	}

	// Step 1-2: derive coverage and the missing complement per symbol.
	bySubRange := make(map[domain.Range][]string)
	for _, sym := range symbols {
		missing, err := e.missingFor(ctx, sym, start, end, force)
		if err != nil {
			return Result{}, err
		}
		for _, r := range missing {
			bySubRange[r] = append(bySubRange[r], sym)
		}
	}

	// Step 3: one pull per distinct missing sub-range, falling through the
	// provider list per symbol.
	fetched := e.pull(ctx, bySubRange, res)

	// Step 4: persist everything fetched, idempotently, without blocking
	// the response on persistence failure. Rows fetched before a caller
	// deadline expired are still written and returned, so the write and
	// the final read run detached from the caller's cancellation.
	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancelFlush()
	e.persist(flushCtx, fetched, res)

	// Step 5-6: merge stored and fetched into the response series.
	if err := e.assemble(flushCtx, symbols, start, end, fetched, res); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) missingFor(ctx context.Context, symbol string, start, end time.Time, force bool) ([]domain.Range, error) {
	if force {
		return missingTradingRanges(e.cal, nil, start, end), nil
	}
	covered, err := e.store.CoveredRanges(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("coverage for %s: %w", symbol, err)
	}
	return missingTradingRanges(e.cal, covered, start, end), nil
}

// pull fetches every missing sub-range and returns fetched bars keyed by
// symbol, deduplicated on (timestamp, source).
func (e *Engine) pull(ctx context.Context, bySubRange map[domain.Range][]string, res Result) map[string][]domain.Bar {
	fetched := make(map[string][]domain.Bar)
	seen := make(map[string]map[barKey]bool)
	failures := make(map[string]int)
	attempts := make(map[string]int)

	for r, syms := range bySubRange {
		remaining := syms
		for _, prov := range e.providers {
			if len(remaining) == 0 {
				break
			}
			for _, sym := range remaining {
				attempts[sym]++
			}

			pr, err := prov.PullRange(ctx, remaining, r.Start, r.End)
			if err != nil {
				e.log.Warn("pull failed",
					"provider", prov.Name(),
					"start", r.Start.Format("2006-01-02"),
					"end", r.End.Format("2006-01-02"),
					"symbols", len(remaining),
					"err", err)
				for _, sym := range remaining {
					failures[sym]++
				}
				continue
			}

			var next []string
			for _, sym := range remaining {
				bars, ok := pr.Series[sym]
				if !ok {
					if ferr, failed := pr.Failed[sym]; failed {
						failures[sym]++
						e.log.Warn("symbol pull failed", "provider", prov.Name(), "symbol", sym, "err", ferr)
						next = append(next, sym)
					}
					continue
				}
				for _, b := range bars {
					k := barKey{b.Timestamp, b.Source}
					if seen[sym] == nil {
						seen[sym] = make(map[barKey]bool)
					}
					if seen[sym][k] {
						continue
					}
					seen[sym][k] = true
					fetched[sym] = append(fetched[sym], b)
				}
			}
			remaining = next
		}
	}

	for sym, fails := range failures {
		if fails >= attempts[sym] && attempts[sym] > 0 {
			res.Symbols[sym].Err = fmt.Errorf("%w: all providers failed for %s",
				domain.ErrProviderUnavailable, sym)
		}
	}
	for sym, bars := range fetched {
		res.Symbols[sym].Fetched = len(bars)
	}
	return fetched
}

type barKey struct {
	ts     time.Time
	source string
}

func (e *Engine) persist(ctx context.Context, fetched map[string][]domain.Bar, res Result) {
	var batch domain.RecordBatch
	for _, bars := range fetched {
		batch.Bars = append(batch.Bars, bars...)
	}
	if batch.Len() == 0 {
		return
	}

	err := util.Retry(ctx, persistAttempts, 200*time.Millisecond, func() error {
		_, werr := e.store.WriteBatch(ctx, batch)
		return werr
	})
	if err != nil {
		e.log.Error("persist failed after retries", "records", batch.Len(), "err", err)
		perr := fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		for sym := range fetched {
			res.Symbols[sym].PersistErr = perr
		}
	}
}

// assemble merges stored bars with anything fetched-but-unpersisted and
// sorts each series by timestamp then source.
func (e *Engine) assemble(ctx context.Context, symbols []string, start, end time.Time, fetched map[string][]domain.Bar, res Result) error {
	endExclusive := end.Add(24*time.Hour - time.Millisecond)
	for _, sym := range symbols {
		sr := res.Symbols[sym]

		stored, err := e.store.QueryBars(ctx, sym, start, endExclusive)
		if err != nil {
			return fmt.Errorf("query %s: %w", sym, err)
		}

		merged := stored
		if sr.PersistErr != nil {
			// The store may hold none of the fetched bars; union them in.
			have := make(map[barKey]bool, len(stored))
			for _, b := range stored {
				have[barKey{b.Timestamp, b.Source}] = true
			}
			for _, b := range fetched[sym] {
				if !have[barKey{b.Timestamp, b.Source}] {
					merged = append(merged, b)
				}
			}
		}

		sort.Slice(merged, func(i, j int) bool {
			if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
				return merged[i].Timestamp.Before(merged[j].Timestamp)
			}
			return merged[i].Source < merged[j].Source
		})
		sr.Bars = merged
	}
	return nil
}

// Series is the transport-friendly shape of one symbol's history: parallel
// timestamp and closing-price lists. Error is set only when every provider
// failed for the symbol; an empty-but-successful series carries a Note
// instead, never an error.
type Series struct {
	Timestamps []string  `json:"timestamps"`
	Prices     []float64 `json:"prices"`
	Note       string    `json:"note,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// FetchHistorical runs Reconcile and flattens the result into per-symbol
// closing-price series keyed by symbol.
func (e *Engine) FetchHistorical(ctx context.Context, symbols []string, start, end time.Time, refresh bool) (map[string]Series, error) {
	res, err := e.Reconcile(ctx, symbols, start, end, refresh)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Series, len(res.Symbols))
	for sym, sr := range res.Symbols {
		s := Series{Timestamps: []string{}, Prices: []float64{}}
		if sr.Err != nil {
			s.Error = sr.Err.Error()
		} else if len(sr.Bars) == 0 {
			s.Note = "no data for range"
		}
		lastDay := time.Time{}
		for _, b := range sr.Bars {
			// One point per day; provenance duplicates collapse to the
			// first source in order.
			d := domain.Day(b.Timestamp)
			if d.Equal(lastDay) {
				continue
			}
			lastDay = d
			s.Timestamps = append(s.Timestamps, d.Format("2006-01-02"))
			s.Prices = append(s.Prices, b.Close)
		}
		out[sym] = s
	}
	return out, nil
}
