package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

const countBookingsSQL = `SELECT COUNT(*)::float8, COUNT(*) FROM audit_records WHERE occurred_at >= $1 AND occurred_at < $2 AND company_id = $3`

func newBookingDef(code string, periods ...models.PeriodType) *models.KPIDefinition {
	if len(periods) == 0 {
		periods = []models.PeriodType{models.PeriodDaily}
	}
	return &models.KPIDefinition{
		Code:           code,
		EntityType:     "booking",
		Name:           map[string]string{"en": code},
		AggregationSQL: countBookingsSQL,
		Periods:        periods,
		IsActive:       true,
	}
}

func TestCreateDefinition_Validation(t *testing.T) {
	svc := NewKPIService(newMockKPIDefRepo(), newMockKPIValueRepo(), zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.KPIDefinition)
		want   error
	}{
		{"missing code", func(d *models.KPIDefinition) { d.Code = "" }, apperrors.ErrInvalidStatement},
		{"no periods", func(d *models.KPIDefinition) { d.Periods = nil }, apperrors.ErrInvalidPeriodType},
		{"bad period", func(d *models.KPIDefinition) { d.Periods = []models.PeriodType{"FORTNIGHTLY"} }, apperrors.ErrInvalidPeriodType},
		{"not a select", func(d *models.KPIDefinition) { d.AggregationSQL = "DELETE FROM audit_records" }, apperrors.ErrInvalidStatement},
		{"two statements", func(d *models.KPIDefinition) { d.AggregationSQL = "SELECT 1; SELECT 2" }, apperrors.ErrInvalidStatement},
		{"extra parameter", func(d *models.KPIDefinition) { d.AggregationSQL = "SELECT $4" }, apperrors.ErrInvalidStatement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := newBookingDef("bookings.count")
			tt.mutate(def)
			err := svc.CreateDefinition(ctx, def)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateDefinition_DuplicateCode(t *testing.T) {
	svc := NewKPIService(newMockKPIDefRepo(), newMockKPIValueRepo(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.CreateDefinition(ctx, newBookingDef("bookings.count")))
	err := svc.CreateDefinition(ctx, newBookingDef("bookings.count"))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCalculateKPI_StoresBucketStart(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	def := newBookingDef("bookings.count", models.PeriodDaily)
	require.NoError(t, svc.CreateDefinition(ctx, def))
	valRepo.results[def.AggregationSQL] = 42

	companyID := uuid.New()
	refTime := time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC)

	value, err := svc.CalculateKPI(ctx, "bookings.count", companyID, models.PeriodDaily, refTime)
	require.NoError(t, err)

	assert.Equal(t, 42.0, value.Value)
	assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), value.PeriodDate)
	assert.Equal(t, models.PeriodDaily, value.PeriodType)
	assert.Equal(t, companyID, value.CompanyID)
}

func TestCalculateKPI_UpsertIsIdempotent(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	def := newBookingDef("bookings.count", models.PeriodDaily)
	require.NoError(t, svc.CreateDefinition(ctx, def))

	companyID := uuid.New()
	refTime := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)

	valRepo.results[def.AggregationSQL] = 10
	_, err := svc.CalculateKPI(ctx, "bookings.count", companyID, models.PeriodDaily, refTime)
	require.NoError(t, err)

	valRepo.results[def.AggregationSQL] = 12
	_, err = svc.CalculateKPI(ctx, "bookings.count", companyID, models.PeriodDaily, refTime)
	require.NoError(t, err)

	// Same period recalculated twice; one row, last value wins.
	require.Len(t, valRepo.values, 1)
	for _, stored := range valRepo.values {
		assert.Equal(t, 12.0, stored.Value)
	}
}

func TestCalculateKPI_Errors(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	svc := NewKPIService(defRepo, newMockKPIValueRepo(), zap.NewNop())
	ctx := context.Background()

	restricted := newBookingDef("bookings.count", models.PeriodDaily)
	restricted.CompanyIDs = []uuid.UUID{uuid.New()}
	require.NoError(t, svc.CreateDefinition(ctx, restricted))

	_, err := svc.CalculateKPI(ctx, "missing", uuid.New(), models.PeriodDaily, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.CalculateKPI(ctx, "bookings.count", uuid.New(), models.PeriodWeekly, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidPeriodType)

	_, err = svc.CalculateKPI(ctx, "bookings.count", uuid.New(), models.PeriodDaily, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "company outside the allow-list")
}

func TestRecalculateCompanyKPIs_IsolatesFailures(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	good := newBookingDef("bookings.good", models.PeriodDaily)
	require.NoError(t, svc.CreateDefinition(ctx, good))
	// Declares a period it cannot calculate for this company.
	bad := newBookingDef("bookings.bad", models.PeriodDaily)
	bad.CompanyIDs = []uuid.UUID{uuid.New()}
	require.NoError(t, svc.CreateDefinition(ctx, bad))

	companyID := uuid.New()
	valRepo.results[good.AggregationSQL] = 7

	err := svc.RecalculateCompanyKPIs(ctx, companyID, time.Now())
	require.NoError(t, err, "inapplicable definitions are skipped, not failures")

	require.Len(t, valRepo.values, 1)
	for _, stored := range valRepo.values {
		assert.Equal(t, good.ID, stored.DefinitionID)
	}
}

func TestRecalculateCompanyKPIs_CollectsErrors(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.CreateDefinition(ctx, newBookingDef("bookings.a", models.PeriodDaily)))
	require.NoError(t, svc.CreateDefinition(ctx, newBookingDef("bookings.b", models.PeriodDaily)))
	valRepo.execErr = assert.AnError

	err := svc.RecalculateCompanyKPIs(ctx, uuid.New(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 failure(s)")
}

// ============================================================================
// Trend classification
// ============================================================================

func trendSeries(values ...float64) []*models.KPIValue {
	series := make([]*models.KPIValue, 0, len(values))
	for _, v := range values {
		series = append(series, &models.KPIValue{Value: v})
	}
	return series
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name      string
		series    []*models.KPIValue // newest first
		direction models.TrendDirection
		changePct float64
	}{
		{"insufficient with one point", trendSeries(5), models.TrendInsufficientData, 0},
		{"stable within band", trendSeries(102, 100), models.TrendStable, 2},
		{"increasing", trendSeries(150, 100), models.TrendIncreasing, 50},
		{"decreasing", trendSeries(70, 100), models.TrendDecreasing, -30},
		{"zero baseline", trendSeries(10, 0), models.TrendStable, 0},
		{"odd split favors recent half", trendSeries(80, 60, 70, 100, 100), models.TrendDecreasing, -30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := classifyTrend(tt.series)
			assert.Equal(t, tt.direction, trend.Direction)
			assert.InDelta(t, tt.changePct, trend.ChangePercent, 0.01)
			assert.Equal(t, len(tt.series), trend.DataPoints)
		})
	}
}

func TestGetKPITrends(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	def := newBookingDef("bookings.count", models.PeriodMonthly)
	require.NoError(t, svc.CreateDefinition(ctx, def))
	valRepo.recent = trendSeries(70, 100)

	companyID := uuid.New()
	trends, err := svc.GetKPITrends(ctx, companyID, "", models.PeriodMonthly, 12)
	require.NoError(t, err)

	require.Len(t, trends, 1)
	assert.Equal(t, "bookings.count", trends[0].Code)
	assert.Equal(t, companyID, trends[0].CompanyID)
	assert.Equal(t, models.TrendDecreasing, trends[0].Direction)
}

func TestGetKPITrends_CodeFilter(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.CreateDefinition(ctx, newBookingDef("bookings.count", models.PeriodMonthly)))
	require.NoError(t, svc.CreateDefinition(ctx, newBookingDef("bookings.cancelled", models.PeriodMonthly)))
	valRepo.recent = trendSeries(70, 100)

	trends, err := svc.GetKPITrends(ctx, uuid.New(), "bookings.cancelled", models.PeriodMonthly, 12)
	require.NoError(t, err)

	require.Len(t, trends, 1)
	assert.Equal(t, "bookings.cancelled", trends[0].Code)

	_, err = svc.GetKPITrends(ctx, uuid.New(), "bookings.missing", models.PeriodMonthly, 12)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCleanupOldKPIValues_RetentionFloor(t *testing.T) {
	defRepo := newMockKPIDefRepo()
	valRepo := newMockKPIValueRepo()
	svc := NewKPIService(defRepo, valRepo, zap.NewNop())
	ctx := context.Background()

	// Own retention shorter than global: pruned at 30 days.
	short := newBookingDef("bookings.short", models.PeriodDaily)
	short.RetentionDays = 30
	require.NoError(t, svc.CreateDefinition(ctx, short))
	// No own retention: global window applies.
	global := newBookingDef("bookings.global", models.PeriodDaily)
	require.NoError(t, svc.CreateDefinition(ctx, global))
	// Own retention longer than global: the sweep must not touch it.
	long := newBookingDef("bookings.long", models.PeriodDaily)
	long.RetentionDays = 1000
	require.NoError(t, svc.CreateDefinition(ctx, long))

	companyID := uuid.New()
	now := time.Now()
	seed := func(def *models.KPIDefinition, age time.Duration) {
		require.NoError(t, valRepo.Upsert(ctx, &models.KPIValue{
			ID:           uuid.New(),
			DefinitionID: def.ID,
			CompanyID:    companyID,
			PeriodType:   models.PeriodDaily,
			PeriodDate:   now.Add(-age),
		}))
	}
	seed(short, 45*24*time.Hour)  // past short's 30d window
	seed(short, 10*24*time.Hour)  // inside it
	seed(global, 45*24*time.Hour) // inside the 90d global window
	seed(long, 200*24*time.Hour)  // past the 90d window, kept by long's own policy

	deleted, err := svc.CleanupOldKPIValues(ctx, 90)
	require.NoError(t, err)

	assert.Equal(t, int64(1), deleted)
	assert.Len(t, valRepo.values, 3)
}
