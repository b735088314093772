package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-io/devicetrust/internal/middleware"
	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/service"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

const defaultEventListLimit = 50

// AdminHandler serves the operator surface: unblocking devices and
// inspecting their history. All routes sit behind AdminAuth.
type AdminHandler struct {
	svc *service.SecurityService
}

func NewAdminHandler(svc *service.SecurityService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

type unblockRequest struct {
	FingerprintID string `json:"fingerprint_id"`
}

// Unblock handles POST /v1/admin/unblock. Idempotent; unblocking a device
// that is not blocked succeeds quietly.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FingerprintID == "" {
		writeJSONError(w, http.StatusBadRequest, "fingerprint_id is required")
		return
	}

	if err := h.svc.Unblock(r.Context(), req.FingerprintID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to unblock device")
		return
	}

	if sub, ok := middleware.AdminSubjectFromContext(r.Context()); ok {
		logger.Info("Device %s unblocked by %s", req.FingerprintID, sub)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

// Events handles GET /v1/admin/devices/{fingerprintID}/events.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	fingerprintID := chi.URLParam(r, "fingerprintID")
	if fingerprintID == "" {
		writeJSONError(w, http.StatusBadRequest, "fingerprint id is required")
		return
	}

	limit := defaultEventListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := h.svc.Events(r.Context(), fingerprintID, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint_id": fingerprintID,
		"events":         events,
	})
}

// Device handles GET /v1/admin/devices/{fingerprintID}.
func (h *AdminHandler) Device(w http.ResponseWriter, r *http.Request) {
	fingerprintID := chi.URLParam(r, "fingerprintID")
	if fingerprintID == "" {
		writeJSONError(w, http.StatusBadRequest, "fingerprint id is required")
		return
	}

	rec, err := h.svc.Status(r.Context(), fingerprintID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "unknown fingerprint")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
