package api

import (
	"encoding/json"
	"net/http"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
)

// AutoRequest is the body of PUT /auto.
type AutoRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleStatus returns the engine status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleConnect opens the controller session.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Connect(r.Context())
	s.recordAudit(r, audit.NewEntry(audit.ActionConnect, audit.SourceAPI, actor(r), err))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleDisconnect closes the controller session.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Disconnect(r.Context())
	s.recordAudit(r, audit.NewEntry(audit.ActionDisconnect, audit.SourceAPI, actor(r), err))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleHome starts a homing run. It returns once homing has started.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Home(r.Context())
	s.recordAudit(r, audit.NewEntry(audit.ActionHome, audit.SourceAPI, actor(r), err))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Status())
}

// handleSetAuto switches auto mode.
func (s *Server) handleSetAuto(w http.ResponseWriter, r *http.Request) {
	var req AutoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "enabled is required")
		return
	}

	action := audit.ActionAutoOff
	if *req.Enabled {
		action = audit.ActionAutoOn
	}
	err := s.engine.SetAuto(*req.Enabled)
	s.recordAudit(r, audit.NewEntry(action, audit.SourceAPI, actor(r), err))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}
