package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dealerpay/internal/audit"
	"dealerpay/internal/auth"
	"dealerpay/internal/payment/application"
	payment "dealerpay/internal/payment/domain"
)

// Handler provides the payment batch APIs.
type Handler struct {
	orchestrator *application.Orchestrator
	repo         payment.Repository
	tenantID     string
	auditor      audit.Logger
}

// NewHandler constructs a handler. The auditor may be nil.
func NewHandler(orchestrator *application.Orchestrator, repo payment.Repository, tenantID string, auditor audit.Logger) (*Handler, error) {
	if orchestrator == nil || repo == nil {
		return nil, errors.New("payment handler: nil dependency")
	}
	return &Handler{orchestrator: orchestrator, repo: repo, tenantID: tenantID, auditor: auditor}, nil
}

// ServeHTTP routes payment endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/payments/plan" && r.Method == http.MethodPost:
		h.handlePlan(w, r)
	case path == "/api/v1/payments/batches" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasSuffix(path, "/execute") && r.Method == http.MethodPost:
		h.handleExecute(w, r)
	case strings.HasSuffix(path, "/retry") && r.Method == http.MethodPost:
		h.handleRetry(w, r)
	case strings.HasPrefix(path, "/api/v1/payments/batches/") && r.Method == http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	plan, err := h.orchestrator.PlanBatches(r.Context(), h.resolveTenant(r), req.DryRun)
	if err != nil {
		respondError(w, err)
		return
	}
	if !req.DryRun {
		h.record(r, "payment.plan", "")
	}
	respondJSON(w, plan)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	batchID := batchIDFromPath(r.URL.Path, "/execute")
	if batchID == "" {
		http.Error(w, "batch id required", http.StatusBadRequest)
		return
	}
	result, err := h.orchestrator.ExecuteBatch(r.Context(), batchID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "payment.execute", batchID)
	respondJSON(w, result)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	batchID := batchIDFromPath(r.URL.Path, "/retry")
	if batchID == "" {
		http.Error(w, "batch id required", http.StatusBadRequest)
		return
	}
	result, err := h.orchestrator.RetryFailed(r.Context(), batchID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "payment.retry", batchID)
	respondJSON(w, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = payment.BatchStatusPending
	}
	out, err := h.repo.ListByStatus(r.Context(), status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	batchID := batchIDFromPath(r.URL.Path, "")
	if batchID == "" {
		http.Error(w, "batch id required", http.StatusBadRequest)
		return
	}
	b, err := h.repo.GetByID(r.Context(), batchID)
	if err != nil {
		respondError(w, err)
		return
	}
	if b == nil {
		http.Error(w, payment.ErrBatchNotFound.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, b)
}

func (h *Handler) resolveTenant(r *http.Request) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	return h.tenantID
}

func (h *Handler) record(r *http.Request, action, resourceID string) {
	if h.auditor == nil {
		return
	}
	_ = h.auditor.Log(r.Context(), audit.Entry{
		TenantID:     h.resolveTenant(r),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "payment_batch",
		ResourceID:   resourceID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func batchIDFromPath(path, suffix string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v1/payments/batches/"), suffix)
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
	case errors.Is(err, payment.ErrBatchNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, payment.ErrBatchNotExecutable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
