package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
)

// auditTimeout bounds one audit write. It is detached from the request so a
// client hanging up does not lose the entry.
const auditTimeout = 2 * time.Second

// operatorHeader lets an HMI name the person at the station.
const operatorHeader = "X-Operator"

// actor identifies who issued a request: the operator header when the HMI
// sets it, otherwise the remote address.
func actor(r *http.Request) string {
	if op := r.Header.Get(operatorHeader); op != "" {
		return op
	}
	return r.RemoteAddr
}

// recordAudit stores e. Failures are logged and never fail the request.
func (s *Server) recordAudit(r *http.Request, e *audit.Entry) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Error("failed to record audit entry", "action", e.Action, "error", err)
	}
}

// handleListAudit returns operator actions, newest first.
// Query parameters: action, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
