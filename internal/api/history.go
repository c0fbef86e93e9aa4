package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TKAles/transfercontrollerdaemon/internal/history"
)

// historyQuery parses ?limit= and ?since= (RFC 3339).
func historyQuery(r *http.Request) (history.Query, error) {
	var q history.Query
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	return q, nil
}

func (s *Server) historyAvailable(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is not enabled")
		return false
	}
	return true
}

// handleListCycles returns recent cycles, newest first.
func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	cycles, err := s.history.Cycles(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list cycles", "error", err)
		writeInternalError(w, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": cycles,
		"count":  len(cycles),
	})
}

// handleGetCycle returns one cycle.
func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}

	rec, err := s.history.Cycle(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeNotFound(w, "cycle not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get cycle", "error", err)
		writeInternalError(w, "failed to get cycle")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListFaults returns recent faults, newest first.
func (s *Server) handleListFaults(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	faults, err := s.history.Faults(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list faults", "error", err)
		writeInternalError(w, "failed to list faults")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"faults": faults,
		"count":  len(faults),
	})
}
