package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RecordStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL    NOT NULL,
	high   REAL    NOT NULL,
	low    REAL    NOT NULL,
	close  REAL    NOT NULL,
	volume INTEGER NOT NULL,
	source TEXT    NOT NULL,
	PRIMARY KEY (symbol, ts, source)
);
CREATE TABLE IF NOT EXISTS quotes (
	symbol    TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	bid_price REAL    NOT NULL,
	bid_size  INTEGER NOT NULL,
	ask_price REAL    NOT NULL,
	ask_size  INTEGER NOT NULL,
	source    TEXT    NOT NULL,
	PRIMARY KEY (symbol, ts, source)
);
CREATE TABLE IF NOT EXISTS trades (
	symbol     TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	price      REAL    NOT NULL,
	size       INTEGER NOT NULL,
	exchange   TEXT    NOT NULL,
	conditions TEXT    NOT NULL,
	tape       TEXT    NOT NULL,
	source     TEXT    NOT NULL,
	PRIMARY KEY (symbol, ts, exchange, source)
);
`

// SQLiteStore implements RecordStore backed by a SQLite database.
// Timestamps are stored as Unix milliseconds, UTC.
type SQLiteStore struct {
	db  *sql.DB
	cal *util.TradingCalendar
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, bootstraps
// the schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStoreUnavailable, dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrStoreUnavailable, dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: bootstrap schema: %v", domain.ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db, cal: util.NewTradingCalendar()}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteBatch persists the batch in a single transaction. Rows whose
// composite key already exists are counted as duplicates and left untouched.
func (s *SQLiteStore) WriteBatch(ctx context.Context, batch domain.RecordBatch) (WriteResult, error) {
	var res WriteResult
	if batch.Len() == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%w: begin: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	insBar, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO bars (symbol, ts, open, high, low, close, volume, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare bars: %w", err)
	}
	defer insBar.Close()

	for _, b := range batch.Bars {
		r, err := insBar.ExecContext(ctx, b.Symbol, b.Timestamp.UTC().UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Source)
		if err != nil {
			return res, fmt.Errorf("insert bar %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
		countRow(r, &res)
	}

	insQuote, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO quotes (symbol, ts, bid_price, bid_size, ask_price, ask_size, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare quotes: %w", err)
	}
	defer insQuote.Close()

	for _, q := range batch.Quotes {
		r, err := insQuote.ExecContext(ctx, q.Symbol, q.Timestamp.UTC().UnixMilli(),
			q.BidPrice, q.BidSize, q.AskPrice, q.AskSize, q.Source)
		if err != nil {
			return res, fmt.Errorf("insert quote %s@%s: %w", q.Symbol, q.Timestamp, err)
		}
		countRow(r, &res)
	}

	insTrade, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO trades (symbol, ts, price, size, exchange, conditions, tape, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare trades: %w", err)
	}
	defer insTrade.Close()

	for _, t := range batch.Trades {
		r, err := insTrade.ExecContext(ctx, t.Symbol, t.Timestamp.UTC().UnixMilli(),
			t.Price, t.Size, t.Exchange, strings.Join(t.Conditions, ","), t.Tape, t.Source)
		if err != nil {
			return res, fmt.Errorf("insert trade %s@%s: %w", t.Symbol, t.Timestamp, err)
		}
		countRow(r, &res)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	return res, nil
}

func countRow(r sql.Result, res *WriteResult) {
	n, err := r.RowsAffected()
	if err == nil && n == 0 {
		res.Duplicates++
		return
	}
	res.Inserted++
}

// CoveredRanges derives daily coverage from stored daily-source bar
// timestamps and coalesces consecutive trading dates into spans. A weekend or
// holiday gap between two covered dates does not split a span. Streamed
// intraday bars are excluded: one minute of data is not a covered day.
func (s *SQLiteStore) CoveredRanges(ctx context.Context, symbol string, start, end time.Time) ([]domain.Range, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domain.DailySources)), ",")
	args := make([]any, 0, len(domain.DailySources)+3)
	args = append(args, symbol)
	for _, src := range domain.DailySources {
		args = append(args, src)
	}
	args = append(args, domain.Day(start).UnixMilli(), endOfDay(end).UnixMilli())

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ts FROM bars
		 WHERE symbol = ? AND source IN (`+placeholders+`) AND ts BETWEEN ? AND ?
		 ORDER BY ts`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: coverage query: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	seen := make(map[time.Time]bool)
	var days []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan coverage row: %w", err)
		}
		d := domain.Day(time.UnixMilli(ms))
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: coverage rows: %v", domain.ErrStoreUnavailable, err)
	}

	var ranges []domain.Range
	for _, d := range days {
		if n := len(ranges); n > 0 && s.cal.NextTradingDay(ranges[n-1].End).Equal(d) {
			ranges[n-1].End = d
			continue
		}
		ranges = append(ranges, domain.Range{Start: d, End: d})
	}
	return ranges, nil
}

// QueryBars returns bars for symbol within [start, end], ordered by
// timestamp then source.
func (s *SQLiteStore) QueryBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, ts, open, high, low, close, volume, source
		 FROM bars WHERE symbol = ? AND ts BETWEEN ? AND ?
		 ORDER BY ts, source`,
		symbol, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: query bars: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var ms int64
		if err := rows.Scan(&b.Symbol, &ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = time.UnixMilli(ms).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// QueryQuotes returns quotes for symbol within [start, end], ordered by
// timestamp then source.
func (s *SQLiteStore) QueryQuotes(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, ts, bid_price, bid_size, ask_price, ask_size, source
		 FROM quotes WHERE symbol = ? AND ts BETWEEN ? AND ?
		 ORDER BY ts, source`,
		symbol, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: query quotes: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		var q domain.Quote
		var ms int64
		if err := rows.Scan(&q.Symbol, &ms, &q.BidPrice, &q.BidSize, &q.AskPrice, &q.AskSize, &q.Source); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q.Timestamp = time.UnixMilli(ms).UTC()
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// QueryTrades returns trades for symbol within [start, end], ordered by
// timestamp then exchange then source.
func (s *SQLiteStore) QueryTrades(ctx context.Context, symbol string, start, end time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, ts, price, size, exchange, conditions, tape, source
		 FROM trades WHERE symbol = ? AND ts BETWEEN ? AND ?
		 ORDER BY ts, exchange, source`,
		symbol, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var ms int64
		var conds string
		if err := rows.Scan(&t.Symbol, &ms, &t.Price, &t.Size, &t.Exchange, &conds, &t.Tape, &t.Source); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = time.UnixMilli(ms).UTC()
		if conds != "" {
			t.Conditions = strings.Split(conds, ",")
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func endOfDay(t time.Time) time.Time {
	return domain.Day(t).Add(24*time.Hour - time.Millisecond)
}
