// Package store defines the record store interface for persisting and
// retrieving ingested market data, plus its SQLite implementation.
package store

import (
	"context"
	"time"

	"tidemark/internal/domain"
)

// WriteResult reports the outcome of a batch write. Inserted counts rows
// that were new; Duplicates counts rows whose composite key already existed
// and were left untouched.
type WriteResult struct {
	Inserted   int
	Duplicates int
}

// RecordStore persists and retrieves normalized market records. Writes are
// idempotent on each record kind's composite key, so replays and overlapping
// backfills never multiply data.
type RecordStore interface {
	// WriteBatch persists every record in the batch, skipping rows whose
	// key already exists. Partial batches never occur: the write is a
	// single transaction.
	WriteBatch(ctx context.Context, batch domain.RecordBatch) (WriteResult, error)

	// CoveredRanges returns the contiguous spans of trading dates within
	// [start, end] for which the symbol already has daily bars, ascending.
	// Only daily-granularity sources count toward coverage.
	CoveredRanges(ctx context.Context, symbol string, start, end time.Time) ([]domain.Range, error)

	// QueryBars returns bars for symbol within [start, end], ordered by
	// timestamp then source.
	QueryBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// QueryQuotes returns quotes for symbol within [start, end], ordered by
	// timestamp then source.
	QueryQuotes(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error)

	// QueryTrades returns trades for symbol within [start, end], ordered by
	// timestamp then exchange then source.
	QueryTrades(ctx context.Context, symbol string, start, end time.Time) ([]domain.Trade, error)
}
