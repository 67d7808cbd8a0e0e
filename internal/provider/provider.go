// Package provider defines the adapter capability set for external market
// data sources and the adapters themselves. A provider implements pull,
// stream, or both; callers depend only on the capability interfaces.
package provider

import (
	"context"
	"time"

	"tidemark/internal/domain"
)

// PullResult carries the outcome of a historical pull. Series holds an entry
// for every requested symbol, possibly empty, so "no data" is
// distinguishable from "failed"; symbols that failed appear in Failed
// instead, with their per-symbol cause.
type PullResult struct {
	Series map[string][]domain.Bar
	Failed map[string]error
}

// HistoricalProvider pulls bar data for explicit symbol/time ranges.
type HistoricalProvider interface {
	// Name identifies the provider in logs and provenance tags.
	Name() string

	// PullRange fetches daily bars for every symbol over [start, end].
	// A non-nil error means the pull as a whole could not run; per-symbol
	// failures are reported inside the result instead.
	PullRange(ctx context.Context, symbols []string, start, end time.Time) (PullResult, error)
}

// Stream is one live subscription session. Frames delivers raw provider
// messages in arrival order; Err reports the terminal session error after
// Frames closes. Close tears the session down and is safe to call more
// than once.
type Stream interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

// StreamProvider opens live subscription sessions and decodes their frames.
type StreamProvider interface {
	// Name identifies the provider in logs and provenance tags.
	Name() string

	// OpenStream dials, authenticates, and subscribes for the given
	// symbols. It returns only after the subscription is confirmed, so a
	// nil error means data frames can start arriving. Credential rejection
	// wraps domain.ErrAuthFailed.
	OpenStream(ctx context.Context, symbols []string) (Stream, error)

	// Decode normalizes one raw frame into records. A frame can carry
	// several messages; decodable messages are returned even when others
	// in the same frame are malformed, in which case the error describes
	// the skipped remainder.
	Decode(frame []byte) (domain.RecordBatch, error)
}
