package domain

import "errors"

// Error taxonomy shared across the ingestion subsystem. Callers classify
// with errors.Is; lower layers wrap these with context via fmt.Errorf %w.
var (
	// ErrInvalidRange is a caller error: end precedes start. Rejected
	// before any I/O is performed.
	ErrInvalidRange = errors.New("invalid range: end precedes start")

	// ErrAuthFailed means the provider rejected our credentials. Fatal for
	// a stream session; never retried automatically.
	ErrAuthFailed = errors.New("provider authentication failed")

	// ErrProviderUnavailable marks a retryable provider-side failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrStoreUnavailable means the record store connection could not be
	// established. Retryable for writes; reads propagate it immediately.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrPersistenceFailed means fetched data could not be written after
	// bounded retries. Non-fatal: the data is still returned to the caller.
	ErrPersistenceFailed = errors.New("persisting fetched records failed")
)
