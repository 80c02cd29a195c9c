package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// ============================================================================
// Mock services
// ============================================================================

type mockMaintenanceService struct {
	ran []string
	err error
}

func (m *mockMaintenanceService) run(name string) error {
	m.ran = append(m.ran, name)
	return m.err
}

func (m *mockMaintenanceService) RunRealtime(ctx context.Context) error { return m.run("realtime") }
func (m *mockMaintenanceService) RunHourly(ctx context.Context) error   { return m.run("hourly") }
func (m *mockMaintenanceService) RunDaily(ctx context.Context) error    { return m.run("daily") }
func (m *mockMaintenanceService) RunWeekly(ctx context.Context) error   { return m.run("weekly") }
func (m *mockMaintenanceService) RunMonthly(ctx context.Context) error  { return m.run("monthly") }
func (m *mockMaintenanceService) StartScheduler(ctx context.Context)    {}

type mockKPIService struct {
	recalculated []uuid.UUID
	err          error
}

func (m *mockKPIService) CreateDefinition(ctx context.Context, def *models.KPIDefinition) error {
	return m.err
}

func (m *mockKPIService) UpdateDefinition(ctx context.Context, def *models.KPIDefinition) error {
	return m.err
}

func (m *mockKPIService) GetDefinition(ctx context.Context, code string) (*models.KPIDefinition, error) {
	return nil, m.err
}

func (m *mockKPIService) ListDefinitions(ctx context.Context) ([]*models.KPIDefinition, error) {
	return nil, m.err
}

func (m *mockKPIService) DeactivateDefinition(ctx context.Context, code string) error {
	return m.err
}

func (m *mockKPIService) CalculateKPI(ctx context.Context, code string, companyID uuid.UUID, periodType models.PeriodType, refTime time.Time) (*models.KPIValue, error) {
	return nil, m.err
}

func (m *mockKPIService) RecalculateCompanyKPIs(ctx context.Context, companyID uuid.UUID, refTime time.Time) error {
	m.recalculated = append(m.recalculated, companyID)
	return m.err
}

func (m *mockKPIService) RecalculateRealtimeForEntity(ctx context.Context, entityType string, companyID uuid.UUID, date time.Time) error {
	return m.err
}

func (m *mockKPIService) GetKPITrends(ctx context.Context, companyID uuid.UUID, code string, periodType models.PeriodType, points int) ([]*models.KPITrend, error) {
	return nil, m.err
}

func (m *mockKPIService) CleanupOldKPIValues(ctx context.Context, globalDays int) (int64, error) {
	return 0, m.err
}

func newMaintenanceMux(maint *mockMaintenanceService, kpi *mockKPIService) *http.ServeMux {
	mux := http.NewServeMux()
	NewMaintenanceHandler(maint, kpi, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestMaintenanceHandler_RunJob(t *testing.T) {
	maint := &mockMaintenanceService{}
	mux := newMaintenanceMux(maint, &mockKPIService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/maintenance/daily", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"daily"}, maint.ran)
}

func TestMaintenanceHandler_RunJob_Unknown(t *testing.T) {
	maint := &mockMaintenanceService{}
	mux := newMaintenanceMux(maint, &mockKPIService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/maintenance/yearly", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, maint.ran)
}

func TestMaintenanceHandler_RecalculateCompany(t *testing.T) {
	kpi := &mockKPIService{}
	mux := newMaintenanceMux(&mockMaintenanceService{}, kpi)
	companyID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/companies/"+companyID.String()+"/recalculate", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{companyID}, kpi.recalculated)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "completed", body["status"])
}

func TestMaintenanceHandler_RecalculateCompany_BadID(t *testing.T) {
	kpi := &mockKPIService{}
	mux := newMaintenanceMux(&mockMaintenanceService{}, kpi)

	req := httptest.NewRequest(http.MethodPost, "/admin/companies/not-a-uuid/recalculate", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, kpi.recalculated)
}
