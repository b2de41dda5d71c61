package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealerpay/internal/accrual/application"
	accrual "dealerpay/internal/accrual/domain"
	"dealerpay/internal/audit"
	"dealerpay/internal/auth"
	"dealerpay/internal/pricing"
)

const dateLayout = "2006-01-02"

// Handler provides the margin accrual APIs.
type Handler struct {
	service  *application.Service
	tenantID string
	auditor  audit.Logger
}

// NewHandler constructs a handler. The auditor may be nil.
func NewHandler(service *application.Service, tenantID string, auditor audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("accrual handler: nil service")
	}
	return &Handler{service: service, tenantID: tenantID, auditor: auditor}, nil
}

// ServeHTTP routes accrual endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/accruals/process" && r.Method == http.MethodPost:
		h.handleProcess(w, r)
	case r.URL.Path == "/api/v1/accruals/post-gl" && r.Method == http.MethodPost:
		h.handlePostGL(w, r)
	case strings.HasSuffix(r.URL.Path, "/adjust") && r.Method == http.MethodPost:
		h.handleAdjust(w, r)
	case r.URL.Path == "/api/v1/accruals/summary" && r.Method == http.MethodGet:
		h.handleWindowSummary(w, r)
	case r.URL.Path == "/api/v1/accruals/trends" && r.Method == http.MethodGet:
		h.handleTrends(w, r)
	case r.URL.Path == "/api/v1/accruals" && r.Method == http.MethodGet:
		h.handleDailySummary(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type saleRequest struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Litres        string `json:"litres"`
	UnitPrice     string `json:"unit_price"`
	SoldAt        string `json:"sold_at"`
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID   string        `json:"station_id"`
		AccrualDate string        `json:"accrual_date"`
		WindowID    string        `json:"window_id"`
		Sales       []saleRequest `json:"sales"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, req.AccrualDate)
	if err != nil {
		http.Error(w, "accrual_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	txns := make([]application.SalesTransaction, 0, len(req.Sales))
	for _, sale := range req.Sales {
		txn, err := parseSale(sale)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		txns = append(txns, txn)
	}

	result, err := h.service.ProcessDaily(r.Context(), application.DailyBatch{
		TenantID:     h.resolveTenant(r),
		StationID:    req.StationID,
		AccrualDate:  date,
		WindowID:     req.WindowID,
		Transactions: txns,
		ProcessedBy:  auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "accrual.process", req.StationID, req.WindowID)
	respondJSON(w, result)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	accrualID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/accruals/"), "/adjust")
	if accrualID == "" || strings.Contains(accrualID, "/") {
		http.Error(w, "accrual id required", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "amount must be a decimal", http.StatusBadRequest)
		return
	}

	row, err := h.service.Adjust(r.Context(), accrualID, amount, req.Reason, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "accrual.adjust", row.StationID, accrualID)
	respondJSON(w, row)
}

func (h *Handler) handlePostGL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID string `json:"station_id"`
		WindowID  string `json:"window_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	result, err := h.service.PostToGL(r.Context(), req.StationID, req.WindowID)
	if err != nil {
		respondError(w, err)
		return
	}
	h.record(r, "accrual.post-gl", req.StationID, req.WindowID)
	respondJSON(w, result)
}

func (h *Handler) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		http.Error(w, "station_id required", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	summary, err := h.service.DailySummary(r.Context(), stationID, date)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, summary)
}

func (h *Handler) handleWindowSummary(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	windowID := r.URL.Query().Get("window_id")
	if stationID == "" || windowID == "" {
		http.Error(w, "station_id and window_id required", http.StatusBadRequest)
		return
	}
	summary, err := h.service.WindowSummary(r.Context(), stationID, windowID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, summary)
}

func (h *Handler) handleTrends(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		http.Error(w, "station_id required", http.StatusBadRequest)
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	trends, err := h.service.Trends(r.Context(), stationID, days)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, trends)
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
		ResourceType: "accrual",
		ResourceID:   resourceID,
		StationID:    stationID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func parseSale(sale saleRequest) (application.SalesTransaction, error) {
	litres, err := decimal.NewFromString(sale.Litres)
	if err != nil {
		return application.SalesTransaction{}, errors.New("litres must be a decimal")
	}
	price, err := decimal.NewFromString(sale.UnitPrice)
	if err != nil {
		return application.SalesTransaction{}, errors.New("unit_price must be a decimal")
	}
	var soldAt time.Time
	if sale.SoldAt != "" {
		if soldAt, err = time.Parse(time.RFC3339, sale.SoldAt); err != nil {
			return application.SalesTransaction{}, errors.New("sold_at must be RFC3339")
		}
	}
	return application.SalesTransaction{
		TransactionID: sale.TransactionID,
		ProductID:     sale.ProductID,
		ProductName:   sale.ProductName,
		Litres:        litres,
		UnitPrice:     price,
		SoldAt:        soldAt,
	}, nil
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accrual.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, accrual.ErrAccrualNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, accrual.ErrAlreadyProcessed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pricing.ErrWindowNotFound), errors.Is(err, pricing.ErrRateNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
