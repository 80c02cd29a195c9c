package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/services"
)

// KPIHandler manages KPI definitions and serves calculations and trends.
type KPIHandler struct {
	kpiService services.KPIService
	logger     *zap.Logger
}

// NewKPIHandler creates a new KPIHandler.
func NewKPIHandler(kpiService services.KPIService, logger *zap.Logger) *KPIHandler {
	return &KPIHandler{kpiService: kpiService, logger: logger}
}

// RegisterRoutes registers the KPI handler's routes on the given mux.
func (h *KPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/kpis", h.List)
	mux.HandleFunc("POST /api/kpis", h.Create)
	mux.HandleFunc("GET /api/kpis/{code}", h.Get)
	mux.HandleFunc("PUT /api/kpis/{code}", h.Update)
	mux.HandleFunc("DELETE /api/kpis/{code}", h.Deactivate)
	mux.HandleFunc("POST /api/kpis/{code}/calculate", h.Calculate)
	mux.HandleFunc("GET /api/companies/{id}/kpi-trends", h.Trends)
}

// List handles GET /api/kpis
func (h *KPIHandler) List(w http.ResponseWriter, r *http.Request) {
	defs, err := h.kpiService.ListDefinitions(r.Context())
	if err != nil {
		h.logger.Error("Failed to list KPI definitions", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list KPI definitions")
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"definitions": defs}); err != nil {
		h.logger.Error("Failed to write KPI list response", zap.Error(err))
	}
}

// Create handles POST /api/kpis
func (h *KPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	var def models.KPIDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.kpiService.CreateDefinition(r.Context(), &def); err != nil {
		h.writeKPIError(w, err, def.Code, "create")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, def); err != nil {
		h.logger.Error("Failed to write KPI create response", zap.Error(err))
	}
}

// Get handles GET /api/kpis/{code}
func (h *KPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.kpiService.GetDefinition(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeKPIError(w, err, r.PathValue("code"), "get")
		return
	}
	if err := WriteJSON(w, http.StatusOK, def); err != nil {
		h.logger.Error("Failed to write KPI response", zap.Error(err))
	}
}

// Update handles PUT /api/kpis/{code}
func (h *KPIHandler) Update(w http.ResponseWriter, r *http.Request) {
	var def models.KPIDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	def.Code = r.PathValue("code")

	if err := h.kpiService.UpdateDefinition(r.Context(), &def); err != nil {
		h.writeKPIError(w, err, def.Code, "update")
		return
	}
	if err := WriteJSON(w, http.StatusOK, def); err != nil {
		h.logger.Error("Failed to write KPI update response", zap.Error(err))
	}
}

// Deactivate handles DELETE /api/kpis/{code}
func (h *KPIHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := h.kpiService.DeactivateDefinition(r.Context(), code); err != nil {
		h.writeKPIError(w, err, code, "deactivate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type calculateRequest struct {
	CompanyID  uuid.UUID         `json:"company_id"`
	PeriodType models.PeriodType `json:"period_type"`
	RefTime    *time.Time        `json:"ref_time,omitempty"`
}

// Calculate handles POST /api/kpis/{code}/calculate
func (h *KPIHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	refTime := time.Now()
	if req.RefTime != nil {
		refTime = *req.RefTime
	}

	value, err := h.kpiService.CalculateKPI(r.Context(), r.PathValue("code"), req.CompanyID, req.PeriodType, refTime)
	if err != nil {
		h.writeKPIError(w, err, r.PathValue("code"), "calculate")
		return
	}
	if err := WriteJSON(w, http.StatusOK, value); err != nil {
		h.logger.Error("Failed to write KPI calculation response", zap.Error(err))
	}
}

// Trends handles GET /api/companies/{id}/kpi-trends
func (h *KPIHandler) Trends(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_company_id", "Company ID must be a UUID")
		return
	}

	periodType := models.PeriodType(r.URL.Query().Get("period_type"))
	if periodType == "" {
		periodType = models.PeriodMonthly
	}
	code := r.URL.Query().Get("code")

	trends, err := h.kpiService.GetKPITrends(r.Context(), companyID, code, periodType, 12)
	if err != nil {
		h.writeKPIError(w, err, code, "trends")
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"trends": trends}); err != nil {
		h.logger.Error("Failed to write KPI trends response", zap.Error(err))
	}
}

func (h *KPIHandler) writeKPIError(w http.ResponseWriter, err error, code, action string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		ErrorResponse(w, http.StatusNotFound, "not_found", "KPI definition not found")
	case errors.Is(err, apperrors.ErrConflict):
		ErrorResponse(w, http.StatusConflict, "conflict", "KPI code already exists")
	case errors.Is(err, apperrors.ErrInvalidStatement), errors.Is(err, apperrors.ErrInvalidPeriodType):
		ErrorResponse(w, http.StatusBadRequest, "invalid_definition", err.Error())
	default:
		h.logger.Error("KPI request failed",
			zap.String("code", code),
			zap.String("action", action),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "KPI operation failed")
	}
}
