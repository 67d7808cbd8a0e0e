package httpapi

import "tidemark/internal/reconcile"

// HistoricalResponse is the payload of GET /api/historical.
type HistoricalResponse struct {
	Start   string                      `json:"start"`
	End     string                      `json:"end"`
	Refresh bool                        `json:"refresh"`
	Series  map[string]reconcile.Series `json:"series"`
}

// CoverageRange is one contiguous covered span of trading dates.
type CoverageRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CoverageResponse is the payload of GET /api/coverage/{symbol}.
type CoverageResponse struct {
	Symbol string          `json:"symbol"`
	Ranges []CoverageRange `json:"ranges"`
}

// StreamStatus is one stream session's counters.
type StreamStatus struct {
	State        string `json:"state"`
	Received     int64  `json:"received"`
	Written      int64  `json:"written"`
	Dropped      int64  `json:"dropped"`
	DecodeErrors int64  `json:"decode_errors"`
	Reconnects   int64  `json:"reconnects"`
}

// StreamStatusResponse is the payload of GET /api/stream/status.
type StreamStatusResponse struct {
	Streams map[string]StreamStatus `json:"streams"`
}
