package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/services"
)

// AuditHandler accepts entity-change events from upstream applications.
type AuditHandler struct {
	auditService services.AuditService
	logger       *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditService services.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, logger: logger}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", h.IngestEvent)
}

type ingestEventRequest struct {
	CompanyID  uuid.UUID          `json:"company_id"`
	EntityType string             `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	Operation  string             `json:"operation"`
	Before     models.EntityState `json:"before,omitempty"`
	After      models.EntityState `json:"after,omitempty"`
	UserID     *uuid.UUID         `json:"user_id,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	AppSource  string             `json:"app_source,omitempty"`
	Endpoint   string             `json:"endpoint,omitempty"`
}

// IngestEvent handles POST /api/events
func (h *AuditHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.EntityType == "" || req.EntityID == "" || req.Operation == "" {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "entity_type, entity_id and operation are required")
		return
	}

	auditCtx := models.AuditContext{
		CompanyID: req.CompanyID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		AppSource: req.AppSource,
		IPAddress: clientIP(r),
		Endpoint:  req.Endpoint,
		UserAgent: r.UserAgent(),
	}

	record, err := h.auditService.ProcessEntityChange(r.Context(), req.EntityType, req.EntityID, req.Operation, req.Before, req.After, auditCtx)
	if err != nil {
		if errors.Is(err, apperrors.ErrCompanyRequired) {
			ErrorResponse(w, http.StatusBadRequest, "company_required", "company_id is required")
			return
		}
		h.logger.Error("Failed to ingest entity change",
			zap.String("entity_type", req.EntityType),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to record entity change")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, record); err != nil {
		h.logger.Error("Failed to write ingest response", zap.Error(err))
	}
}

// clientIP extracts the caller address, preferring the proxy header.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
