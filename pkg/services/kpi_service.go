package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
	sqlutil "github.com/bookpulse-io/bookpulse-engine/pkg/sql"
)

// trendStableBandPercent is the band around zero change inside which a
// trend is reported as stable.
const trendStableBandPercent = 5.0

// KPIService manages KPI definitions and drives their calculation.
type KPIService interface {
	CreateDefinition(ctx context.Context, def *models.KPIDefinition) error
	UpdateDefinition(ctx context.Context, def *models.KPIDefinition) error
	GetDefinition(ctx context.Context, code string) (*models.KPIDefinition, error)
	ListDefinitions(ctx context.Context) ([]*models.KPIDefinition, error)
	DeactivateDefinition(ctx context.Context, code string) error

	// CalculateKPI computes one KPI for one company and period containing
	// refTime, and upserts the resulting value.
	CalculateKPI(ctx context.Context, code string, companyID uuid.UUID, periodType models.PeriodType, refTime time.Time) (*models.KPIValue, error)

	// RecalculateCompanyKPIs recomputes every active KPI that applies to the
	// company, for every period type each definition declares. Individual
	// failures are collected; one bad KPI never stops the rest.
	RecalculateCompanyKPIs(ctx context.Context, companyID uuid.UUID, refTime time.Time) error

	// RecalculateRealtimeForEntity refreshes the daily values of realtime
	// KPIs bound to the given entity type. Used by the ingestion path.
	RecalculateRealtimeForEntity(ctx context.Context, entityType string, companyID uuid.UUID, date time.Time) error

	// GetKPITrends classifies the recent movement of the company's KPIs at
	// the given period type. An empty code covers every active KPI that
	// applies to the company; a non-empty code narrows to that definition.
	GetKPITrends(ctx context.Context, companyID uuid.UUID, code string, periodType models.PeriodType, points int) ([]*models.KPITrend, error)

	// CleanupOldKPIValues deletes values past retention. Definitions with
	// their own retention shorter than globalDays are pruned at their own
	// cutoff; definitions whose retention meets or exceeds globalDays are
	// left untouched. Definitions without a retention of their own use the
	// global cutoff.
	CleanupOldKPIValues(ctx context.Context, globalDays int) (int64, error)
}

type kpiService struct {
	defRepo repositories.KPIDefinitionRepository
	valRepo repositories.KPIValueRepository
	logger  *zap.Logger
}

// NewKPIService creates a new KPIService.
func NewKPIService(defRepo repositories.KPIDefinitionRepository, valRepo repositories.KPIValueRepository, logger *zap.Logger) KPIService {
	return &kpiService{
		defRepo: defRepo,
		valRepo: valRepo,
		logger:  logger.Named("kpi-service"),
	}
}

var _ KPIService = (*kpiService)(nil)

func (s *kpiService) CreateDefinition(ctx context.Context, def *models.KPIDefinition) error {
	if err := s.validateDefinition(def); err != nil {
		return err
	}
	if err := s.defRepo.Create(ctx, def); err != nil {
		return fmt.Errorf("failed to create KPI definition %s: %w", def.Code, err)
	}
	s.logger.Info("Created KPI definition", zap.String("code", def.Code))
	return nil
}

func (s *kpiService) UpdateDefinition(ctx context.Context, def *models.KPIDefinition) error {
	if err := s.validateDefinition(def); err != nil {
		return err
	}
	if err := s.defRepo.Update(ctx, def); err != nil {
		return fmt.Errorf("failed to update KPI definition %s: %w", def.Code, err)
	}
	s.logger.Info("Updated KPI definition", zap.String("code", def.Code))
	return nil
}

func (s *kpiService) GetDefinition(ctx context.Context, code string) (*models.KPIDefinition, error) {
	return s.defRepo.GetByCode(ctx, code)
}

func (s *kpiService) ListDefinitions(ctx context.Context) ([]*models.KPIDefinition, error) {
	return s.defRepo.List(ctx)
}

func (s *kpiService) DeactivateDefinition(ctx context.Context, code string) error {
	if err := s.defRepo.Deactivate(ctx, code); err != nil {
		return fmt.Errorf("failed to deactivate KPI definition %s: %w", code, err)
	}
	s.logger.Info("Deactivated KPI definition", zap.String("code", code))
	return nil
}

func (s *kpiService) validateDefinition(def *models.KPIDefinition) error {
	if strings.TrimSpace(def.Code) == "" {
		return fmt.Errorf("%w: KPI code is required", apperrors.ErrInvalidStatement)
	}
	if len(def.Periods) == 0 {
		return fmt.Errorf("%w: KPI %s declares no period types", apperrors.ErrInvalidPeriodType, def.Code)
	}
	for _, period := range def.Periods {
		if !period.IsValid() {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriodType, period)
		}
	}

	normalized, err := sqlutil.ValidateAggregationStatement(def.AggregationSQL)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidStatement, err)
	}
	def.AggregationSQL = normalized
	return nil
}

func (s *kpiService) CalculateKPI(ctx context.Context, code string, companyID uuid.UUID, periodType models.PeriodType, refTime time.Time) (*models.KPIValue, error) {
	def, err := s.defRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.calculate(ctx, def, companyID, periodType, refTime)
}

func (s *kpiService) calculate(ctx context.Context, def *models.KPIDefinition, companyID uuid.UUID, periodType models.PeriodType, refTime time.Time) (*models.KPIValue, error) {
	if !periodType.IsValid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriodType, periodType)
	}
	if !def.SupportsPeriod(periodType) {
		return nil, fmt.Errorf("%w: KPI %s does not declare period %s", apperrors.ErrInvalidPeriodType, def.Code, periodType)
	}
	if !def.AppliesToCompany(companyID) {
		return nil, fmt.Errorf("KPI %s does not apply to company %s: %w", def.Code, companyID, apperrors.ErrNotFound)
	}

	start, end := periodType.Bounds(refTime)

	began := time.Now()
	value, recordCount, err := s.valRepo.ExecuteAggregation(ctx, def.AggregationSQL, start, end, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate KPI %s: %w", def.Code, err)
	}
	elapsed := time.Since(began)

	result := &models.KPIValue{
		DefinitionID: def.ID,
		CompanyID:    companyID,
		PeriodType:   periodType,
		PeriodDate:   start,
		Value:        value,
		RecordCount:  recordCount,
		Metadata: map[string]any{
			"period_end": end.Format(time.RFC3339),
		},
		CalcDuration: elapsed,
		CalculatedAt: time.Now(),
	}
	if err := s.valRepo.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store KPI value for %s: %w", def.Code, err)
	}

	s.logger.Debug("Calculated KPI",
		zap.String("code", def.Code),
		zap.String("company_id", companyID.String()),
		zap.String("period_type", string(periodType)),
		zap.Float64("value", value),
		zap.Duration("duration", elapsed))
	return result, nil
}

func (s *kpiService) RecalculateCompanyKPIs(ctx context.Context, companyID uuid.UUID, refTime time.Time) error {
	defs, err := s.defRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active KPI definitions: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	for _, def := range defs {
		if !def.AppliesToCompany(companyID) {
			continue
		}
		for _, periodType := range def.Periods {
			wg.Add(1)
			go func(def *models.KPIDefinition, periodType models.PeriodType) {
				defer wg.Done()
				if _, err := s.calculate(ctx, def, companyID, periodType, refTime); err != nil {
					s.logger.Error("KPI recalculation failed",
						zap.String("code", def.Code),
						zap.String("period_type", string(periodType)),
						zap.Error(err))
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s/%s: %v", def.Code, periodType, err))
					mu.Unlock()
				}
			}(def, periodType)
		}
	}
	wg.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("recalculation finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *kpiService) RecalculateRealtimeForEntity(ctx context.Context, entityType string, companyID uuid.UUID, date time.Time) error {
	defs, err := s.defRepo.ListRealtimeByEntityType(ctx, entityType)
	if err != nil {
		return fmt.Errorf("failed to list realtime KPI definitions: %w", err)
	}

	var failures []string
	for _, def := range defs {
		if !def.AppliesToCompany(companyID) || !def.SupportsPeriod(models.PeriodDaily) {
			continue
		}
		if _, err := s.calculate(ctx, def, companyID, models.PeriodDaily, date); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", def.Code, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("realtime recalculation finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *kpiService) GetKPITrends(ctx context.Context, companyID uuid.UUID, code string, periodType models.PeriodType, points int) ([]*models.KPITrend, error) {
	if !periodType.IsValid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriodType, periodType)
	}
	if points <= 0 {
		points = 12
	}

	var defs []*models.KPIDefinition
	if code != "" {
		def, err := s.defRepo.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		defs = []*models.KPIDefinition{def}
	} else {
		var err error
		defs, err = s.defRepo.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active KPI definitions: %w", err)
		}
	}

	trends := make([]*models.KPITrend, 0, len(defs))
	for _, def := range defs {
		if !def.AppliesToCompany(companyID) || !def.SupportsPeriod(periodType) {
			continue
		}
		values, err := s.valRepo.ListRecent(ctx, def.ID, companyID, periodType, points)
		if err != nil {
			return nil, fmt.Errorf("failed to load history for KPI %s: %w", def.Code, err)
		}
		trend := classifyTrend(values)
		trend.Code = def.Code
		trend.CompanyID = companyID
		trend.PeriodType = periodType
		trends = append(trends, trend)
	}
	return trends, nil
}

// classifyTrend compares the average of the newer half of the series against
// the older half. values arrive newest first.
func classifyTrend(values []*models.KPIValue) *models.KPITrend {
	trend := &models.KPITrend{DataPoints: len(values)}
	if len(values) < 2 {
		trend.Direction = models.TrendInsufficientData
		return trend
	}

	split := (len(values) + 1) / 2
	trend.RecentAvg = averageValue(values[:split])
	trend.OlderAvg = averageValue(values[split:])

	if trend.OlderAvg == 0 {
		// No baseline to compare against.
		trend.Direction = models.TrendStable
		return trend
	}

	change := (trend.RecentAvg - trend.OlderAvg) / trend.OlderAvg * 100
	trend.ChangePercent = math.Round(change*100) / 100

	switch {
	case trend.ChangePercent > trendStableBandPercent:
		trend.Direction = models.TrendIncreasing
	case trend.ChangePercent < -trendStableBandPercent:
		trend.Direction = models.TrendDecreasing
	default:
		trend.Direction = models.TrendStable
	}
	return trend
}

func averageValue(values []*models.KPIValue) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, value := range values {
		sum += value.Value
	}
	return sum / float64(len(values))
}

func (s *kpiService) CleanupOldKPIValues(ctx context.Context, globalDays int) (int64, error) {
	defs, err := s.defRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list KPI definitions: %w", err)
	}

	now := time.Now()
	var total int64
	for _, def := range defs {
		days := globalDays
		if def.RetentionDays > 0 {
			if def.RetentionDays >= globalDays {
				// The definition keeps its values longer than the sweep
				// asks for; its own policy wins.
				continue
			}
			days = def.RetentionDays
		}
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := s.valRepo.DeleteOlderThanForDefinition(ctx, def.ID, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune values for KPI %s: %w", def.Code, err)
		}
		total += deleted
	}
	if total > 0 {
		s.logger.Info("Pruned expired KPI values", zap.Int64("deleted", total))
	}
	return total, nil
}
