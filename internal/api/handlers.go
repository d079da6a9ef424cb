package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/agentgate/agentgate/internal/admission"
	"github.com/agentgate/agentgate/internal/gate"
	"github.com/agentgate/agentgate/internal/store"
)

// --- Admission ---

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req admission.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.Operation == "" {
		writeError(w, http.StatusBadRequest, "agent_id and operation are required")
		return
	}

	res := s.pipeline.Evaluate(r.Context(), &req)
	s.wsHub.Broadcast("admission", map[string]interface{}{
		"agent_id":  req.AgentID,
		"operation": req.Operation,
		"result":    res,
	})
	writeJSON(w, res)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	filter := store.ActivityFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if approved := r.URL.Query().Get("approved"); approved != "" {
		v := approved == "true"
		filter.Approved = &v
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}

	activity, err := s.store.ListActivity(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"activity": activity})
}

// --- Emergency control ---

type emergencyRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
}

func decodeEmergencyRequest(r *http.Request) emergencyRequest {
	req := emergencyRequest{InitiatedBy: "operator"}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.InitiatedBy == "" {
		req.InitiatedBy = "operator"
	}
	return req
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListEmergencyStates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"agents": states})
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.store.ListEmergencyEvents(id, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"events": events})
}

func (s *Server) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeEmergencyRequest(r)
	if !s.emergency.Pause(id, req.Reason, req.InitiatedBy) {
		writeError(w, http.StatusConflict, "agent is already paused or stopped")
		return
	}
	s.wsHub.Broadcast("emergency", map[string]string{"agent_id": id, "action": "pause"})
	writeJSON(w, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeEmergencyRequest(r)
	if !s.emergency.Resume(id, req.InitiatedBy) {
		writeError(w, http.StatusConflict, "agent is not paused")
		return
	}
	s.wsHub.Broadcast("emergency", map[string]string{"agent_id": id, "action": "resume"})
	writeJSON(w, map[string]string{"status": "resumed"})
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeEmergencyRequest(r)
	s.emergency.Stop(id, req.Reason, req.InitiatedBy)
	s.wsHub.Broadcast("emergency", map[string]string{"agent_id": id, "action": "stop"})
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeEmergencyRequest(r)
	if !s.emergency.Restart(id, req.InitiatedBy) {
		writeError(w, http.StatusConflict, "agent is not stopped")
		return
	}
	s.wsHub.Broadcast("emergency", map[string]string{"agent_id": id, "action": "restart"})
	writeJSON(w, map[string]string{"status": "restarted"})
}

// --- Violations ---

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	violations, err := s.store.ListViolations(agentID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"violations": violations})
}

func (s *Server) handleOverrideViolation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		GrantedBy string `json:"granted_by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.GrantedBy == "" {
		writeError(w, http.StatusBadRequest, "granted_by is required")
		return
	}

	if !s.limiter.GrantOverride(id, body.GrantedBy) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	writeJSON(w, map[string]string{"status": "override granted"})
}

// --- Gate ---

func (s *Server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.transport.ReadPrompt()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prompt == nil {
		writeError(w, http.StatusNotFound, "no gate pending")
		return
	}
	writeJSON(w, prompt)
}

func (s *Server) handleGateResponse(w http.ResponseWriter, r *http.Request) {
	if !s.gateProto.Active() {
		writeError(w, http.StatusConflict, "no gate session active")
		return
	}

	var resp gate.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid response body: "+err.Error())
		return
	}
	if !resp.Decision.Valid() {
		writeError(w, http.StatusBadRequest, "decision must be proceed, modify or stop")
		return
	}
	if resp.At.IsZero() {
		resp.At = time.Now()
	}

	if err := s.transport.WriteResponse(&resp); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "response recorded"})
}

func (s *Server) handleListGateAudits(w http.ResponseWriter, r *http.Request) {
	audits, err := s.store.ListGateAudits(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"audits": audits})
}

// --- Config ---

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	s.rules.Reload(s.cfgLoader.Get().Rules)
	writeJSON(w, map[string]string{"status": "reloaded"})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSystemStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"stats":       stats,
		"gate_active": s.gateProto.Active(),
		"ws_clients":  s.wsHub.ClientCount(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
