package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
)

// ============================================================================
// Mock Implementations shared by the service tests
// ============================================================================

type mockAuditRepo struct {
	mu        sync.Mutex
	records   []*models.AuditRecord
	buckets   []*models.MetricsResult
	counts    []repositories.ActivityCount
	insertErr error
	aggErr    error
}

func (m *mockAuditRepo) Insert(ctx context.Context, record *models.AuditRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockAuditRepo) AggregateBuckets(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error) {
	if m.aggErr != nil {
		return nil, m.aggErr
	}
	return m.buckets, nil
}

func (m *mockAuditRepo) CountByEntityAndKind(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]repositories.ActivityCount, error) {
	return m.counts, nil
}

type mockEventRepo struct {
	mu        sync.Mutex
	events    []*models.SystemEvent
	insertErr error
}

func (m *mockEventRepo) Insert(ctx context.Context, event *models.SystemEvent) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventRepo) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockKPIDefRepo struct {
	mu      sync.Mutex
	defs    map[string]*models.KPIDefinition
	listErr error
}

func newMockKPIDefRepo() *mockKPIDefRepo {
	return &mockKPIDefRepo{defs: make(map[string]*models.KPIDefinition)}
}

func (m *mockKPIDefRepo) Create(ctx context.Context, def *models.KPIDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.Code]; exists {
		return apperrors.ErrConflict
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	m.defs[def.Code] = def
	return nil
}

func (m *mockKPIDefRepo) Update(ctx context.Context, def *models.KPIDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.defs[def.Code]
	if !exists {
		return apperrors.ErrNotFound
	}
	def.ID = existing.ID
	m.defs[def.Code] = def
	return nil
}

func (m *mockKPIDefRepo) GetByCode(ctx context.Context, code string) (*models.KPIDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, exists := m.defs[code]
	if !exists {
		return nil, apperrors.ErrNotFound
	}
	return def, nil
}

func (m *mockKPIDefRepo) List(ctx context.Context) ([]*models.KPIDefinition, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]*models.KPIDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		defs = append(defs, def)
	}
	return defs, nil
}

func (m *mockKPIDefRepo) ListActive(ctx context.Context) ([]*models.KPIDefinition, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*models.KPIDefinition, 0, len(all))
	for _, def := range all {
		if def.IsActive {
			active = append(active, def)
		}
	}
	return active, nil
}

func (m *mockKPIDefRepo) ListRealtimeByEntityType(ctx context.Context, entityType string) ([]*models.KPIDefinition, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]*models.KPIDefinition, 0)
	for _, def := range all {
		if def.IsActive && def.IsRealtime && def.EntityType == entityType {
			matched = append(matched, def)
		}
	}
	return matched, nil
}

func (m *mockKPIDefRepo) Deactivate(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, exists := m.defs[code]
	if !exists {
		return apperrors.ErrNotFound
	}
	def.IsActive = false
	return nil
}

type valueKey struct {
	definitionID uuid.UUID
	companyID    uuid.UUID
	periodType   models.PeriodType
	periodDate   time.Time
	dimensions   string
}

type mockKPIValueRepo struct {
	mu      sync.Mutex
	values  map[valueKey]*models.KPIValue
	recent  []*models.KPIValue
	results map[string]float64 // aggregation SQL -> value
	execErr error
}

func newMockKPIValueRepo() *mockKPIValueRepo {
	return &mockKPIValueRepo{
		values:  make(map[valueKey]*models.KPIValue),
		results: make(map[string]float64),
	}
}

func (m *mockKPIValueRepo) Upsert(ctx context.Context, value *models.KPIValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := valueKey{value.DefinitionID, value.CompanyID, value.PeriodType, value.PeriodDate, value.Dimensions}
	m.values[key] = value
	return nil
}

func (m *mockKPIValueRepo) ExecuteAggregation(ctx context.Context, sqlText string, start, end time.Time, companyID uuid.UUID) (float64, int64, error) {
	if m.execErr != nil {
		return 0, 0, m.execErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[sqlText], 1, nil
}

func (m *mockKPIValueRepo) ListForPeriodRange(ctx context.Context, companyID uuid.UUID, periodType models.PeriodType, start, end time.Time) ([]*models.KPIValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*models.KPIValue, 0)
	for _, value := range m.values {
		if value.CompanyID != companyID || value.PeriodType != periodType {
			continue
		}
		if value.PeriodDate.Before(start) || !value.PeriodDate.Before(end) {
			continue
		}
		matched = append(matched, value)
	}
	return matched, nil
}

func (m *mockKPIValueRepo) ListRecent(ctx context.Context, definitionID, companyID uuid.UUID, periodType models.PeriodType, limit int) ([]*models.KPIValue, error) {
	if limit > len(m.recent) {
		limit = len(m.recent)
	}
	return m.recent[:limit], nil
}

func (m *mockKPIValueRepo) DeleteOlderThanForDefinition(ctx context.Context, definitionID uuid.UUID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key, value := range m.values {
		if value.DefinitionID == definitionID && value.PeriodDate.Before(cutoff) {
			delete(m.values, key)
			deleted++
		}
	}
	return deleted, nil
}

type mockCompanyRepo struct {
	companies []*models.Company
}

func (m *mockCompanyRepo) ListActive(ctx context.Context) ([]*models.Company, error) {
	return m.companies, nil
}

type mockRealtimeRecalculator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockRealtimeRecalculator) RecalculateRealtimeForEntity(ctx context.Context, entityType string, companyID uuid.UUID, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, entityType)
	return m.err
}
