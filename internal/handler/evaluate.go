package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sentra-io/devicetrust/internal/fingerprint"
	"github.com/sentra-io/devicetrust/internal/middleware"
	"github.com/sentra-io/devicetrust/internal/service"
)

// EvaluateHandler exposes the risk engine over HTTP.
type EvaluateHandler struct {
	svc *service.SecurityService
}

func NewEvaluateHandler(svc *service.SecurityService) *EvaluateHandler {
	return &EvaluateHandler{svc: svc}
}

type evaluateRequest struct {
	Email   string                `json:"email"`
	Signals fingerprint.SignalSet `json:"signals"`
}

// Evaluate handles POST /v1/evaluate. A denied decision is returned with 403
// so callers can branch on status alone; the body carries the detail either
// way.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip := ""
	if resolved, ok := middleware.ClientIPFromContext(r.Context()); ok {
		ip = resolved.String()
	}

	dec, err := h.svc.Evaluate(r.Context(), req.Email, req.Signals, ip)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	status := http.StatusOK
	if !dec.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, dec)
}

type outcomeRequest struct {
	FingerprintID string `json:"fingerprint_id"`
	Success       bool   `json:"success"`
}

// Outcome handles POST /v1/outcome, recording whether the gated action
// ultimately succeeded.
func (h *EvaluateHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FingerprintID == "" {
		writeJSONError(w, http.StatusBadRequest, "fingerprint_id is required")
		return
	}

	if err := h.svc.ReportOutcome(r.Context(), req.FingerprintID, req.Success); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to record outcome")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
