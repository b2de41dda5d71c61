package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dealerpay/internal/audit"
	"dealerpay/internal/auth"
	"dealerpay/internal/pricing"
	"dealerpay/internal/settlement/application"
	settlement "dealerpay/internal/settlement/domain"
)

// Handler provides the dealer settlement APIs.
type Handler struct {
	lifecycle *application.Lifecycle
	repo      settlement.Repository
	tenantID  string
	auditor   audit.Logger
}

// NewHandler constructs a handler. The auditor may be nil.
func NewHandler(lifecycle *application.Lifecycle, repo settlement.Repository, tenantID string, auditor audit.Logger) (*Handler, error) {
	if lifecycle == nil || repo == nil {
		return nil, errors.New("settlement handler: nil dependency")
	}
	return &Handler{lifecycle: lifecycle, repo: repo, tenantID: tenantID, auditor: auditor}, nil
}

// ServeHTTP routes settlement endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/settlements/calculate" && r.Method == http.MethodPost:
		h.handleCalculate(w, r)
	case path == "/api/v1/settlements" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasSuffix(path, "/approve") && r.Method == http.MethodPost:
		h.handleApprove(w, r)
	case strings.HasSuffix(path, "/dispute") && r.Method == http.MethodPost:
		h.handleDispute(w, r)
	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		h.handleCancel(w, r)
	case strings.HasSuffix(path, "/statement") && r.Method == http.MethodGet:
		h.handleStatement(w, r)
	case strings.HasPrefix(path, "/api/v1/settlements/") && r.Method == http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID string `json:"station_id"`
		WindowID  string `json:"window_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.StationID == "" || req.WindowID == "" {
		http.Error(w, "station_id and window_id required", http.StatusBadRequest)
		return
	}

	s, err := h.lifecycle.CreateOrRecalculate(r.Context(), h.resolveTenant(r), req.StationID, req.WindowID)
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "settlement.calculate", s.StationID, s.ID)
	respondJSON(w, s)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = settlement.StatusCalculated
	}
	out, err := h.repo.ListByStatus(r.Context(), status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := settlementID(r.URL.Path, "")
	if id == "" {
		http.Error(w, "settlement id required", http.StatusBadRequest)
		return
	}
	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if s == nil {
		http.Error(w, settlement.ErrSettlementNotFound.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, s)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	id := settlementID(r.URL.Path, "/statement")
	if id == "" {
		http.Error(w, "settlement id required", http.StatusBadRequest)
		return
	}
	view, err := h.lifecycle.Statement(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, view)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := settlementID(r.URL.Path, "/approve")
	if id == "" {
		http.Error(w, "settlement id required", http.StatusBadRequest)
		return
	}
	s, err := h.lifecycle.Approve(r.Context(), id, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "settlement.approve", s.StationID, s.ID)
	respondJSON(w, s)
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	h.handleReasoned(w, r, "/dispute", "settlement.dispute", h.lifecycle.Dispute)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleReasoned(w, r, "/cancel", "settlement.cancel", h.lifecycle.Cancel)
}

func (h *Handler) handleReasoned(
	w http.ResponseWriter,
	r *http.Request,
	suffix, action string,
	op func(ctx context.Context, settlementID, reason string) (*settlement.DealerSettlement, error),
) {
	id := settlementID(r.URL.Path, suffix)
	if id == "" {
		http.Error(w, "settlement id required", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s, err := op(r.Context(), id, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, action, s.StationID, s.ID)
	respondJSON(w, s)
}

func (h *Handler) resolveTenant(r *http.Request) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	return h.tenantID
}

func (h *Handler) record(r *http.Request, action, stationID, resourceID string) {
	if h.auditor == nil {
		return
	}
	_ = h.auditor.Log(r.Context(), audit.Entry{
		TenantID:     h.resolveTenant(r),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "settlement",
		ResourceID:   resourceID,
		StationID:    stationID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func settlementID(path, suffix string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v1/settlements/"), suffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrSettlementNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, settlement.ErrNoAccrualData):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, settlement.ErrAlreadyProcessed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrInvalidStateTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pricing.ErrWindowNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
