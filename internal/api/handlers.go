package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"perp-engine/internal/safety"
	"perp-engine/pkg/types"
)

// Controller is the slice of the engine orchestrator the dashboard needs —
// satisfied by *engine.Engine. Kept as an interface so handlers_test.go can
// substitute a fake without constructing a whole engine.
type Controller interface {
	Control() *safety.Controller
	Wallet() string
	AgentConfigured() bool
	NetworkMode() types.NetworkMode
}

// Handlers holds the control-plane endpoints' dependencies.
type Handlers struct {
	eng    Controller
	logger *slog.Logger
}

// NewHandlers builds a Handlers bound to eng.
func NewHandlers(eng Controller, logger *slog.Logger) *Handlers {
	return &Handlers{eng: eng, logger: logger.With("component", "api-handlers")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "error": message})
}

// HandleHealth is an unauthenticated liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the current control-plane state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Control().Snapshot())
}

type armRequest struct {
	Confirmation string `json:"confirmation"`
	Mode         string `json:"mode"`
	RequestedBy  string `json:"requestedBy"`
}

// HandleArm arms the engine for the requested network mode, per spec.md
// §4.7. A denial is reported as 400 with the Controller's reason code.
func (h *Handlers) HandleArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req armRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	denial := h.eng.Control().Arm(safety.ArmRequest{
		Confirmation:    req.Confirmation,
		RequestedMode:   types.NetworkMode(req.Mode),
		RequestedBy:     req.RequestedBy,
		AgentConfigured: h.eng.AgentConfigured(),
	})
	if denial != nil {
		writeError(w, http.StatusBadRequest, denial.Code, denial.Message)
		return
	}

	// Single-configured-user engine: arming immediately starts the wallet's
	// trading loop rather than waiting for a separate "go live" step.
	h.eng.Control().MarkRunning(h.eng.Wallet())
	writeJSON(w, http.StatusOK, h.eng.Control().Snapshot())
}

// HandleDisarm unconditionally returns the engine to paper mode.
func (h *Handlers) HandleDisarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	h.eng.Control().Disarm()
	writeJSON(w, http.StatusOK, h.eng.Control().Snapshot())
}

type killRequest struct {
	Reason string `json:"reason"`
}

// HandleKill immediately engages the kill switch.
func (h *Handlers) HandleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req killRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "manual kill via dashboard"
	}
	h.eng.Control().Kill(req.Reason)
	writeJSON(w, http.StatusOK, h.eng.Control().Snapshot())
}

type resetKillRequest struct {
	Confirmation string `json:"confirmation"`
}

// HandleResetKill clears the kill switch given the exact confirmation phrase.
func (h *Handlers) HandleResetKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req resetKillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if denial := h.eng.Control().ResetKill(req.Confirmation); denial != nil {
		writeError(w, http.StatusBadRequest, denial.Code, denial.Message)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Control().Snapshot())
}

// HandleHistoryStub is a named but unimplemented contract stub: trade
// history needs a relational read store, which spec.md §1 places out of
// scope for this engine.
//
// TODO: back this with a real query layer once a relational store exists.
func (h *Handlers) HandleHistoryStub(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_implemented", "trade history requires a relational read store, out of scope")
}

// HandleLeaderboardStub is a named but unimplemented contract stub; see
// HandleHistoryStub.
func (h *Handlers) HandleLeaderboardStub(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_implemented", "leaderboard requires a relational read store, out of scope")
}

// HandlePerformanceStub is a named but unimplemented contract stub; see
// HandleHistoryStub.
func (h *Handlers) HandlePerformanceStub(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_implemented", "performance analytics require a relational read store, out of scope")
}
