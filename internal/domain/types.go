// Package domain defines the canonical record model shared by every
// component: bars, quotes, and trades normalized from provider-specific
// shapes, plus the time-range type used by coverage and reconciliation.
package domain

import "time"

// Source tags identify which provider and path produced a record. They are
// part of a record's identity: the same (symbol, timestamp) ingested from a
// different provider is a distinct row, never a silent overwrite.
const (
	SourceAlpacaStream = "alpaca-stream"
	SourceAlpacaHist   = "alpaca-hist"
	SourceYahooHist    = "yahoo-hist"
)

// DailySources lists the sources that emit exactly one bar per trading day.
// Daily coverage is derived from these alone: a streamed minute bar must
// never mark a whole trading day as covered.
var DailySources = []string{SourceAlpacaHist, SourceYahooHist}

// Bar is one OHLCV aggregate over a fixed bucket (daily for the historical
// path, minute for the stream). Timestamp is always UTC.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Source    string
}

// Quote is a bid/ask snapshot. Quotes are kept as their own record kind and
// never folded into bar OHLC fields.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	BidPrice  float64
	BidSize   int64
	AskPrice  float64
	AskSize   int64
	Source    string
}

// Trade is a single execution. Multiple trades can share a timestamp across
// venues, so Exchange participates in the identity key.
type Trade struct {
	Symbol     string
	Timestamp  time.Time
	Price      float64
	Size       int64
	Exchange   string
	Conditions []string
	Tape       string
	Source     string
}

// RecordBatch groups normalized records of all kinds for a single write.
type RecordBatch struct {
	Bars   []Bar
	Quotes []Quote
	Trades []Trade
}

// Len returns the total number of records in the batch.
func (b RecordBatch) Len() int {
	return len(b.Bars) + len(b.Quotes) + len(b.Trades)
}

// Merge appends all records from other into b.
func (b *RecordBatch) Merge(other RecordBatch) {
	b.Bars = append(b.Bars, other.Bars...)
	b.Quotes = append(b.Quotes, other.Quotes...)
	b.Trades = append(b.Trades, other.Trades...)
}

// Range is an inclusive time interval. At daily granularity Start and End
// are midnight-UTC dates.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range (inclusive).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
