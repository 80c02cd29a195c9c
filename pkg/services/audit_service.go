package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
)

// RealtimeRecalculator recomputes real-time KPIs when a relevant entity
// changes. Implemented by the KPI service; split out so ingestion does not
// depend on the whole KPI surface.
type RealtimeRecalculator interface {
	RecalculateRealtimeForEntity(ctx context.Context, entityType string, companyID uuid.UUID, date time.Time) error
}

// AuditService owns the ingestion path: it turns entity mutations into
// immutable audit records, emits the matching system event, and triggers
// real-time KPI recomputation.
type AuditService interface {
	// ProcessEntityChange records one entity mutation. The audit append is
	// fatal: if it fails nothing else happens and the error propagates.
	// Event emission and real-time recomputation are best-effort.
	ProcessEntityChange(ctx context.Context, entityType, entityID, operation string, before, after models.EntityState, auditCtx models.AuditContext) (*models.AuditRecord, error)
}

type auditService struct {
	auditRepo repositories.AuditRepository
	eventRepo repositories.SystemEventRepository
	realtime  RealtimeRecalculator
	logger    *zap.Logger
}

// NewAuditService creates a new AuditService. realtime may be nil when
// real-time recomputation is disabled.
func NewAuditService(
	auditRepo repositories.AuditRepository,
	eventRepo repositories.SystemEventRepository,
	realtime RealtimeRecalculator,
	logger *zap.Logger,
) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		eventRepo: eventRepo,
		realtime:  realtime,
		logger:    logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

// realtimeEntityTypes flags entity types whose changes trigger synchronous
// real-time KPI recomputation.
var realtimeEntityTypes = map[string]bool{
	"booking":     true,
	"appointment": true,
}

func (s *auditService) ProcessEntityChange(ctx context.Context, entityType, entityID, operation string, before, after models.EntityState, auditCtx models.AuditContext) (*models.AuditRecord, error) {
	if auditCtx.CompanyID == uuid.Nil {
		return nil, apperrors.ErrCompanyRequired
	}

	now := time.Now()
	changedFields := diffStates(before, after)
	changeKind := classifyChange(operation, before, after, changedFields)

	record := &models.AuditRecord{
		ID:            uuid.New(),
		CompanyID:     auditCtx.CompanyID,
		EntityType:    entityType,
		EntityID:      entityID,
		TableName:     inflection.Plural(entityType),
		Operation:     operation,
		ChangeKind:    changeKind,
		BeforeState:   before,
		AfterState:    after,
		ChangedFields: changedFields,
		UserID:        auditCtx.UserID,
		SessionID:     auditCtx.SessionID,
		AppSource:     auditCtx.AppSource,
		IPAddress:     auditCtx.IPAddress,
		Endpoint:      auditCtx.Endpoint,
		UserAgent:     auditCtx.UserAgent,
		ImpactScore:   impactScore(entityType, changeKind, after),
		Calendar:      models.DecomposeTimestamp(now),
		OccurredAt:    now,
	}

	// The audit fact must survive even if everything downstream fails.
	if err := s.auditRepo.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("append audit record: %w", err)
	}

	s.emitChangeEvent(ctx, record)

	if s.realtime != nil && realtimeEntityTypes[entityType] {
		if err := s.realtime.RecalculateRealtimeForEntity(ctx, entityType, auditCtx.CompanyID, now); err != nil {
			s.logger.Warn("Real-time KPI recomputation failed",
				zap.String("entity_type", entityType),
				zap.String("company_id", auditCtx.CompanyID.String()),
				zap.Error(err))
		}
	}

	return record, nil
}

// emitChangeEvent writes the ENTITY_CHANGED notification. Failures are
// logged and swallowed; the audit record already exists.
func (s *auditService) emitChangeEvent(ctx context.Context, record *models.AuditRecord) {
	payload, err := json.Marshal(map[string]any{
		"entity_type":    record.EntityType,
		"entity_id":      record.EntityID,
		"operation":      record.Operation,
		"change_kind":    record.ChangeKind,
		"changed_fields": record.ChangedFields,
		"impact_score":   record.ImpactScore,
		"audit_record":   record.ID,
	})
	if err != nil {
		s.logger.Warn("Failed to build entity change payload", zap.Error(err))
		return
	}

	event := &models.SystemEvent{
		CompanyID: record.CompanyID,
		EventType: models.SystemEventEntityChanged,
		Severity:  changeSeverity(record.ChangeKind),
		Payload:   payload,
	}
	if err := s.eventRepo.Insert(ctx, event); err != nil {
		s.logger.Warn("Failed to emit entity change event",
			zap.String("entity_type", record.EntityType),
			zap.String("entity_id", record.EntityID),
			zap.Error(err))
	}
}

func changeSeverity(kind models.ChangeKind) models.SystemEventSeverity {
	if kind == models.ChangeKindDeleted {
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

// diffStates returns the sorted set of field names whose values differ
// between the two snapshots. Fields present on only one side count as
// changed.
func diffStates(before, after models.EntityState) []string {
	changed := make(map[string]struct{})

	for field, beforeVal := range before {
		afterVal, ok := after[field]
		if !ok || !reflect.DeepEqual(beforeVal, afterVal) {
			changed[field] = struct{}{}
		}
	}
	for field := range after {
		if _, ok := before[field]; !ok {
			changed[field] = struct{}{}
		}
	}

	fields := make([]string, 0, len(changed))
	for field := range changed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// classifyChange infers what a mutation meant from the snapshots rather than
// trusting the caller's operation alone.
func classifyChange(operation string, before, after models.EntityState, changedFields []string) models.ChangeKind {
	switch {
	case operation == models.AuditOperationDelete || (before != nil && after == nil):
		return models.ChangeKindDeleted
	case operation == models.AuditOperationCreate || before == nil:
		return models.ChangeKindCreated
	}

	for _, field := range changedFields {
		if field == "status" {
			return models.ChangeKindStatusChange
		}
	}
	return models.ChangeKindUpdated
}

// highImpactStates lists statuses that bump a change's impact score,
// per entity type.
var highImpactStates = map[string]map[string]bool{
	"booking": {
		"CANCELLED": true,
		"NO_SHOW":   true,
	},
	"appointment": {
		"CANCELLED": true,
		"NO_SHOW":   true,
	},
	"payment": {
		"FAILED":   true,
		"REFUNDED": true,
	},
}

const (
	impactBase        = 10
	impactCreateBoost = 20
	impactDeleteBoost = 30
	impactStatusBoost = 20
	impactStateBoost  = 20
	impactCeiling     = 100
)

// impactScore weights a change for reporting: base 10, boosted for creates,
// deletes, status changes and entity-specific high-impact states, capped
// at 100.
func impactScore(entityType string, kind models.ChangeKind, after models.EntityState) int {
	score := impactBase

	switch kind {
	case models.ChangeKindCreated:
		score += impactCreateBoost
	case models.ChangeKindDeleted:
		score += impactDeleteBoost
	case models.ChangeKindStatusChange:
		score += impactStatusBoost
	}

	if states, ok := highImpactStates[entityType]; ok && after != nil {
		if status, ok := after["status"].(string); ok && states[status] {
			score += impactStateBoost
		}
	}

	if score > impactCeiling {
		score = impactCeiling
	}
	return score
}
