package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// handleGetPositions returns the taught zone targets.
func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.positions.Current())
}

// handleReplacePositions saves a complete target set.
func (s *Server) handleReplacePositions(w http.ResponseWriter, r *http.Request) {
	var set positions.Set
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	err := s.positions.Replace(r.Context(), set)
	s.recordAudit(r, audit.NewEntry(audit.ActionReplaceTarget, audit.SourceAPI, actor(r), err))
	if err != nil {
		s.logger.Error("failed to replace zone targets", "error", err)
		writeInternalError(w, "failed to save zone targets")
		return
	}
	writeJSON(w, http.StatusOK, s.positions.Current())
}

// handleSetPosition saves the target of one zone from the request body.
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	zone, ok := s.zoneParam(w, r)
	if !ok {
		return
	}

	var t positions.Target
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.saveTarget(w, r, audit.ActionSetTarget, zone, t)
}

// handleSyncPosition teaches a zone from where the stage currently stands.
func (s *Server) handleSyncPosition(w http.ResponseWriter, r *http.Request) {
	zone, ok := s.zoneParam(w, r)
	if !ok {
		return
	}

	t, err := s.engine.CurrentTarget()
	if err != nil {
		e := audit.NewEntry(audit.ActionSyncTarget, audit.SourceAPI, actor(r), err)
		e.Zone = string(zone)
		s.recordAudit(r, e)
		writeEngineError(w, err)
		return
	}
	s.saveTarget(w, r, audit.ActionSyncTarget, zone, t)
}

func (s *Server) saveTarget(w http.ResponseWriter, r *http.Request, action string, zone positions.Zone, t positions.Target) {
	set, err := s.positions.Update(r.Context(), zone, t)
	e := audit.NewEntry(action, audit.SourceAPI, actor(r), err)
	e.Zone = string(zone)
	e.Details = map[string]any{"x": t.X, "y": t.Y, "z": t.Z}
	s.recordAudit(r, e)
	if err != nil {
		s.logger.Error("failed to save zone target", "zone", zone, "error", err)
		writeInternalError(w, "failed to save zone target")
		return
	}
	s.logger.Info("zone target saved", "zone", zone, "x", t.X, "y", t.Y, "z", t.Z)
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) zoneParam(w http.ResponseWriter, r *http.Request) (positions.Zone, bool) {
	zone, err := positions.ParseZone(chi.URLParam(r, "zone"))
	if errors.Is(err, positions.ErrUnknownZone) {
		writeNotFound(w, err.Error())
		return "", false
	}
	if err != nil {
		writeBadRequest(w, err.Error())
		return "", false
	}
	return zone, true
}
