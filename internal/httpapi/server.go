// Package httpapi exposes the ingestion subsystem over HTTP: historical
// fetch with on-demand reconciliation, coverage inspection, and stream
// status. Handlers are thin; the work happens in reconcile and ingest.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/ingest"
	"tidemark/internal/reconcile"
	"tidemark/internal/store"
)

// Server serves the ingestion HTTP API.
type Server struct {
	engine      *reconcile.Engine
	store       store.RecordStore
	coordinator *ingest.Coordinator
	log         *slog.Logger
}

// NewServer creates a Server. coordinator may be nil when the process runs
// without live streams; /api/stream/status then reports an empty set.
func NewServer(engine *reconcile.Engine, s store.RecordStore, coordinator *ingest.Coordinator, log *slog.Logger) *Server {
	return &Server{
		engine:      engine,
		store:       s,
		coordinator: coordinator,
		log:         log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/historical", s.handleHistorical)
	mux.HandleFunc("GET /api/coverage/{symbol}", s.handleCoverage)
	mux.HandleFunc("GET /api/stream/status", s.handleStreamStatus)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseSymbols splits the comma-separated "symbols" query param, uppercased,
// empties dropped.
func parseSymbols(r *http.Request) []string {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		return nil
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func parseDate(r *http.Request, key string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", r.URL.Query().Get(key))
	return t, err == nil
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbols(r)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols required")
		return
	}

	start, ok := parseDate(r, "start")
	if !ok {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, ok := parseDate(r, "end")
	if !ok {
		writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	series, err := s.engine.FetchHistorical(ctx, symbols, start, end, refresh)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.log.Error("historical fetch", "symbols", symbols, "err", err)
			writeError(w, http.StatusInternalServerError, "historical fetch failed")
		}
		return
	}

	writeJSON(w, HistoricalResponse{
		Start:   start.Format("2006-01-02"),
		End:     end.Format("2006-01-02"),
		Refresh: refresh,
		Series:  series,
	})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	start, ok := parseDate(r, "start")
	if !ok {
		start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	end, ok := parseDate(r, "end")
	if !ok {
		end = domain.Day(time.Now())
	}

	ranges, err := s.store.CoveredRanges(r.Context(), symbol, start, end)
	if err != nil {
		s.log.Error("coverage query", "symbol", symbol, "err", err)
		writeError(w, http.StatusServiceUnavailable, "coverage query failed")
		return
	}

	out := make([]CoverageRange, 0, len(ranges))
	for _, cr := range ranges {
		out = append(out, CoverageRange{
			Start: cr.Start.Format("2006-01-02"),
			End:   cr.End.Format("2006-01-02"),
		})
	}
	writeJSON(w, CoverageResponse{Symbol: symbol, Ranges: out})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	resp := StreamStatusResponse{Streams: map[string]StreamStatus{}}
	if s.coordinator != nil {
		for name, st := range s.coordinator.Status() {
			resp.Streams[name] = StreamStatus{
				State:        st.State.String(),
				Received:     st.Received,
				Written:      st.Written,
				Dropped:      st.Dropped,
				DecodeErrors: st.DecodeErrors,
				Reconnects:   st.Reconnects,
			}
		}
	}
	writeJSON(w, resp)
}
