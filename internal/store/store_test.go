package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tidemark/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func dailyBar(symbol string, y int, m time.Month, d int, c float64) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Open:      c - 1,
		High:      c + 1,
		Low:       c - 2,
		Close:     c,
		Volume:    1000000,
		Source:    domain.SourceAlpacaHist,
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestStore(t)

	// Schema bootstrap should make the store immediately usable.
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping: %v", err)
	}
}

func TestWriteBatchIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := domain.RecordBatch{Bars: []domain.Bar{
		dailyBar("AAPL", 2024, 1, 2, 185.5),
		dailyBar("AAPL", 2024, 1, 3, 186.0),
	}}

	res, err := s.WriteBatch(ctx, batch)
	if err != nil {
		t.Fatalf("WriteBatch (first): %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 0 {
		t.Errorf("first write = %+v, want 2 inserted 0 duplicates", res)
	}

	// Replaying the exact same batch must not multiply rows.
	res, err = s.WriteBatch(ctx, batch)
	if err != nil {
		t.Fatalf("WriteBatch (replay): %v", err)
	}
	if res.Inserted != 0 || res.Duplicates != 2 {
		t.Errorf("replay write = %+v, want 0 inserted 2 duplicates", res)
	}

	bars, err := s.QueryBars(ctx, "AAPL",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("QueryBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("QueryBars returned %d bars, want 2", len(bars))
	}
	if bars[0].Close != 185.5 || bars[1].Close != 186.0 {
		t.Errorf("bars out of order or corrupted: %+v", bars)
	}
}

func TestWriteBatchDuplicatesWithinBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := dailyBar("MSFT", 2024, 3, 1, 403.0)
	res, err := s.WriteBatch(ctx, domain.RecordBatch{Bars: []domain.Bar{b, b, b}})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if res.Inserted != 1 || res.Duplicates != 2 {
		t.Errorf("write = %+v, want 1 inserted 2 duplicates", res)
	}
}

func TestWriteBatchSourceIsPartOfKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := dailyBar("NVDA", 2024, 5, 6, 900.0)
	y := a
	y.Source = domain.SourceYahooHist
	y.Close = 899.8

	res, err := s.WriteBatch(ctx, domain.RecordBatch{Bars: []domain.Bar{a, y}})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("inserted = %d, want 2: same timestamp from different sources must coexist", res.Inserted)
	}
}

func TestWriteBatchTradesKeyIncludesExchange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	trades := []domain.Trade{
		{Symbol: "AAPL", Timestamp: ts, Price: 190.0, Size: 100, Exchange: "V", Tape: "C", Source: domain.SourceAlpacaStream},
		{Symbol: "AAPL", Timestamp: ts, Price: 190.0, Size: 200, Exchange: "P", Tape: "C", Source: domain.SourceAlpacaStream},
	}
	res, err := s.WriteBatch(ctx, domain.RecordBatch{Trades: trades})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("inserted = %d, want 2: same timestamp on different exchanges", res.Inserted)
	}

	got, err := s.QueryTrades(ctx, "AAPL", ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryTrades returned %d trades, want 2", len(got))
	}
}

func TestQueryQuotesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 6, 3, 14, 30, 1, 0, time.UTC)
	q := domain.Quote{
		Symbol: "SPY", Timestamp: ts,
		BidPrice: 520.10, BidSize: 5, AskPrice: 520.12, AskSize: 3,
		Source: domain.SourceAlpacaStream,
	}
	if _, err := s.WriteBatch(ctx, domain.RecordBatch{Quotes: []domain.Quote{q}}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	got, err := s.QueryQuotes(ctx, "SPY", ts.Add(-time.Second), ts.Add(time.Second))
	if err != nil {
		t.Fatalf("QueryQuotes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("QueryQuotes returned %d quotes, want 1", len(got))
	}
	if got[0].BidPrice != 520.10 || got[0].AskSize != 3 {
		t.Errorf("quote round trip mismatch: %+v", got[0])
	}
}

func TestCoveredRangesCoalescesOverWeekend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Thu Jan 18, Fri Jan 19, Mon Jan 22 2024: consecutive trading days
	// across a weekend should form one span.
	batch := domain.RecordBatch{Bars: []domain.Bar{
		dailyBar("AAPL", 2024, 1, 18, 188.6),
		dailyBar("AAPL", 2024, 1, 19, 191.6),
		dailyBar("AAPL", 2024, 1, 22, 193.9),
	}}
	if _, err := s.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	ranges, err := s.CoveredRanges(ctx, "AAPL",
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CoveredRanges: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1 (weekend must not split coverage): %+v", len(ranges), ranges)
	}
	if !ranges[0].Start.Equal(time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC)) ||
		!ranges[0].End.Equal(time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %+v, want Jan 18 through Jan 22", ranges[0])
	}
}

func TestCoveredRangesSplitsOnMissingTradingDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Jan 10 and Jan 12 2024 with the trading day Jan 11 absent: two spans.
	batch := domain.RecordBatch{Bars: []domain.Bar{
		dailyBar("AAPL", 2024, 1, 10, 186.2),
		dailyBar("AAPL", 2024, 1, 12, 185.9),
	}}
	if _, err := s.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	ranges, err := s.CoveredRanges(ctx, "AAPL",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CoveredRanges: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2: %+v", len(ranges), ranges)
	}
}

func TestCoveredRangesIgnoresStreamMinuteBars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A streamed minute bar on Mon Jan 8 plus a daily bar on Tue Jan 9.
	// Only the daily bar counts as coverage.
	minute := domain.Bar{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC),
		Open:      185, High: 186, Low: 184.5, Close: 185.5,
		Volume: 40000,
		Source: domain.SourceAlpacaStream,
	}
	batch := domain.RecordBatch{Bars: []domain.Bar{
		minute,
		dailyBar("AAPL", 2024, 1, 9, 185.1),
	}}
	if _, err := s.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	ranges, err := s.CoveredRanges(ctx, "AAPL",
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CoveredRanges: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if !ranges[0].Start.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)) ||
		!ranges[0].End.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %+v, want just Jan 9: a minute bar must not cover Jan 8", ranges[0])
	}
}

func TestCoveredRangesEmptySymbol(t *testing.T) {
	s := openTestStore(t)

	ranges, err := s.CoveredRanges(context.Background(), "ZZZZ",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CoveredRanges: %v", err)
	}
	if len(ranges) != 0 {
		t.Errorf("expected no coverage for unknown symbol, got %+v", ranges)
	}
}
