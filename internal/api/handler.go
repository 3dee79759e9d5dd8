// Package api provides the HTTP handlers and routing for the solver service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"platesolver/internal/apperrors"
	"platesolver/internal/astrometry"
	"platesolver/internal/health"
	"platesolver/internal/solve"
	"platesolver/internal/target"
)

// maxRequestBodySize limits request bodies to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the solver API
type Handler struct {
	svc    *solve.Service
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *solve.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

// CreateSolve handles POST /v1/solves
func (h *Handler) CreateSolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req solve.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// ListSolves handles GET /v1/solves
func (h *Handler) ListSolves(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.List())
}

// GetSolve handles GET /v1/solves/{solveId}
func (h *Handler) GetSolve(w http.ResponseWriter, r *http.Request) {
	solveID := r.PathValue("solveId")
	if solveID == "" {
		h.writeError(w, http.StatusBadRequest, "Solve ID is required")
		return
	}

	patch, err := h.svc.Get(solveID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, patch)
}

// DeleteSolve handles DELETE /v1/solves/{solveId}. Idempotent: cancelling a
// solve that is not active still returns 204.
func (h *Handler) DeleteSolve(w http.ResponseWriter, r *http.Request) {
	solveID := r.PathValue("solveId")
	if solveID == "" {
		h.writeError(w, http.StatusBadRequest, "Solve ID is required")
		return
	}

	h.svc.Cancel(solveID)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSolves handles DELETE /v1/solves - cancels every active solve.
func (h *Handler) DeleteSolves(w http.ResponseWriter, r *http.Request) {
	h.svc.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

// syncRequest is the body of POST /v1/targets/sync.
type syncRequest struct {
	Result  *astrometry.Result `json:"result"`
	Targets []target.Target    `json:"targets"`
	FileID  string             `json:"fileId,omitempty"`
}

// syncResponse reports the matched or newly created target.
type syncResponse struct {
	Matched bool           `json:"matched"`
	Target  *target.Target `json:"target"`
}

// SyncTarget handles POST /v1/targets/sync - matches a finished solve result
// against the supplied catalog, creating a new target when nothing matches.
// The caller owns persistence; the catalog in the request is never mutated.
func (h *Handler) SyncTarget(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Result == nil {
		h.handleError(w, r, apperrors.Validation("result", "solve result is required"))
		return
	}

	if matched := target.FindMatchingTarget(req.Targets, req.Result); matched != nil {
		h.writeJSON(w, http.StatusOK, syncResponse{Matched: true, Target: matched})
		return
	}

	created := target.CreateTargetFromResult(req.Result, req.FileID)
	h.writeJSON(w, http.StatusCreated, syncResponse{Matched: false, Target: created})
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when the remote solver is unreachable or shutdown has begun.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
