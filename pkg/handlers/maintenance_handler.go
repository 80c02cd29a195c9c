package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/services"
)

// MaintenanceHandler exposes manual triggers for the background jobs and
// per-company recalculation. The scheduler covers normal operation; these
// endpoints exist for operators re-running a job after a fix.
type MaintenanceHandler struct {
	maintenanceService services.MaintenanceService
	kpiService         services.KPIService
	logger             *zap.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(maintenanceService services.MaintenanceService, kpiService services.KPIService, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		maintenanceService: maintenanceService,
		kpiService:         kpiService,
		logger:             logger,
	}
}

// RegisterRoutes registers the maintenance handler's routes on the given mux.
func (h *MaintenanceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/maintenance/{job}", h.RunJob)
	mux.HandleFunc("POST /admin/companies/{id}/recalculate", h.RecalculateCompany)
}

// RunJob handles POST /admin/maintenance/{job}
func (h *MaintenanceHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")

	var err error
	switch job {
	case "realtime":
		err = h.maintenanceService.RunRealtime(r.Context())
	case "hourly":
		err = h.maintenanceService.RunHourly(r.Context())
	case "daily":
		err = h.maintenanceService.RunDaily(r.Context())
	case "weekly":
		err = h.maintenanceService.RunWeekly(r.Context())
	case "monthly":
		err = h.maintenanceService.RunMonthly(r.Context())
	default:
		ErrorResponse(w, http.StatusNotFound, "unknown_job", "Unknown maintenance job: "+job)
		return
	}
	if err != nil {
		h.logger.Error("Manual maintenance run failed",
			zap.String("job", job),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "job_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": job}); err != nil {
		h.logger.Error("Failed to write maintenance response", zap.Error(err))
	}
}

// RecalculateCompany handles POST /admin/companies/{id}/recalculate
func (h *MaintenanceHandler) RecalculateCompany(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_company_id", "Company ID must be a UUID")
		return
	}

	if err := h.kpiService.RecalculateCompanyKPIs(r.Context(), companyID, time.Now()); err != nil {
		h.logger.Error("Company recalculation failed",
			zap.String("company_id", companyID.String()),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "recalculation_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "completed", "company_id": companyID.String()}); err != nil {
		h.logger.Error("Failed to write recalculation response", zap.Error(err))
	}
}
