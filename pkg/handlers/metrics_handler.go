package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/services"
)

// MetricsHandler answers metrics queries.
type MetricsHandler struct {
	metricsService services.MetricsService
	logger         *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(metricsService services.MetricsService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{metricsService: metricsService, logger: logger}
}

// RegisterRoutes registers the metrics handler's routes on the given mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/metrics/query", h.Query)
}

// Query handles POST /api/metrics/query
func (h *MetricsHandler) Query(w http.ResponseWriter, r *http.Request) {
	var query models.MetricsQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	results, err := h.metricsService.CalculateComplexMetrics(r.Context(), &query)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrCompanyRequired):
			ErrorResponse(w, http.StatusBadRequest, "company_required", "company_id is required")
		case errors.Is(err, apperrors.ErrInvalidPeriodType):
			ErrorResponse(w, http.StatusBadRequest, "invalid_granularity", err.Error())
		case errors.Is(err, apperrors.ErrInvalidCondition):
			ErrorResponse(w, http.StatusBadRequest, "invalid_condition", err.Error())
		default:
			h.logger.Error("Metrics query failed", zap.Error(err))
			ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to calculate metrics")
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"results": results}); err != nil {
		h.logger.Error("Failed to write metrics response", zap.Error(err))
	}
}
