package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/cache"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
)

// precomputedRangeDays is the minimum query range, in days, before the read
// path prefers pre-computed rollups over raw aggregation.
const precomputedRangeDays = 30

// MetricsService is the aggregation engine's read path.
type MetricsService interface {
	// CalculateComplexMetrics answers one metrics query: cache hit, else
	// pre-computed rollups, else pruned raw aggregation. Whichever path
	// produced the result populates the cache.
	CalculateComplexMetrics(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error)
}

type metricsService struct {
	auditRepo   repositories.AuditRepository
	kpiDefRepo  repositories.KPIDefinitionRepository
	kpiValRepo  repositories.KPIValueRepository
	resultCache cache.ResultCache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewMetricsService creates a new MetricsService.
func NewMetricsService(
	auditRepo repositories.AuditRepository,
	kpiDefRepo repositories.KPIDefinitionRepository,
	kpiValRepo repositories.KPIValueRepository,
	resultCache cache.ResultCache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) MetricsService {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &metricsService{
		auditRepo:   auditRepo,
		kpiDefRepo:  kpiDefRepo,
		kpiValRepo:  kpiValRepo,
		resultCache: resultCache,
		cacheTTL:    cacheTTL,
		logger:      logger.Named("metrics-service"),
	}
}

var _ MetricsService = (*metricsService)(nil)

func (s *metricsService) CalculateComplexMetrics(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error) {
	if query.CompanyID == uuid.Nil {
		return nil, apperrors.ErrCompanyRequired
	}
	if _, ok := query.Granularity.PeriodType(); !ok {
		return nil, fmt.Errorf("%w: granularity %q", apperrors.ErrInvalidPeriodType, query.Granularity)
	}

	key, err := cache.QueryKey(query)
	if err != nil {
		// Can't address the cache for this query; fall through to computation.
		s.logger.Warn("Failed to derive cache key", zap.Error(err))
	}

	if key != "" {
		if results, ok := s.cacheLookup(ctx, key); ok {
			return results, nil
		}
	}

	var results []*models.MetricsResult
	ttl := s.cacheTTL
	if s.usePrecomputed(query) {
		var kpiTTL time.Duration
		results, kpiTTL, err = s.fromPrecomputed(ctx, query)
		if err != nil {
			return nil, err
		}
		if kpiTTL > 0 {
			ttl = kpiTTL
		}
	}
	if results == nil {
		results, err = s.fromRawAggregation(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	if key != "" {
		s.cachePopulate(ctx, key, results, ttl)
	}
	return results, nil
}

// usePrecomputed reports whether the rollup store can answer the query:
// long ranges with no custom filtering.
func (s *metricsService) usePrecomputed(query *models.MetricsQuery) bool {
	return query.RangeDays() >= precomputedRangeDays && !query.HasCustomFilters()
}

func (s *metricsService) cacheLookup(ctx context.Context, key string) ([]*models.MetricsResult, bool) {
	entry, ok, err := s.resultCache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Result cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var results []*models.MetricsResult
	if err := json.Unmarshal(entry.Result, &results); err != nil {
		s.logger.Warn("Result cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return results, true
}

func (s *metricsService) cachePopulate(ctx context.Context, key string, results []*models.MetricsResult, ttl time.Duration) {
	raw, err := json.Marshal(results)
	if err != nil {
		s.logger.Warn("Failed to encode results for cache", zap.Error(err))
		return
	}
	if err := s.resultCache.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("Result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// precomputedCodes maps well-known KPI codes onto result schema fields for
// the pre-computed path.
var precomputedCodes = map[string]func(*models.MetricsResult, *models.KPIValue){
	"bookings.created":   func(r *models.MetricsResult, v *models.KPIValue) { r.CreatedCount = int64(v.Value) },
	"bookings.confirmed": func(r *models.MetricsResult, v *models.KPIValue) { r.ConfirmedCount = int64(v.Value) },
	"bookings.cancelled": func(r *models.MetricsResult, v *models.KPIValue) { r.CancelledCount = int64(v.Value) },
	"bookings.completed": func(r *models.MetricsResult, v *models.KPIValue) { r.CompletedCount = int64(v.Value) },
	"bookings.no_show":   func(r *models.MetricsResult, v *models.KPIValue) { r.NoShowCount = int64(v.Value) },
}

// fromPrecomputed reshapes KPI rollups into the result schema. Returns nil
// results (no error) when the rollup store has nothing for the range, so the
// caller falls back to raw aggregation. The returned TTL is the tightest
// per-definition cache TTL among the contributing KPIs, or zero when none of
// them declares one.
func (s *metricsService) fromPrecomputed(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, time.Duration, error) {
	periodType, _ := query.Granularity.PeriodType()

	values, err := s.kpiValRepo.ListForPeriodRange(ctx, query.CompanyID, periodType, query.StartDate, query.EndDate)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch precomputed rollups: %w", err)
	}
	if len(values) == 0 {
		return nil, 0, nil
	}

	defs, err := s.kpiDefRepo.ListActive(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list kpi definitions: %w", err)
	}
	defsByID := make(map[uuid.UUID]*models.KPIDefinition, len(defs))
	for _, def := range defs {
		defsByID[def.ID] = def
	}

	buckets := make(map[time.Time]*models.MetricsResult)
	order := make([]time.Time, 0)
	matched := false
	var ttl time.Duration

	for _, value := range values {
		def, ok := defsByID[value.DefinitionID]
		if !ok {
			continue
		}
		assign, ok := precomputedCodes[def.Code]
		if !ok {
			continue
		}
		matched = true
		if def.CacheEnabled && def.CacheTTLMinutes > 0 {
			defTTL := time.Duration(def.CacheTTLMinutes) * time.Minute
			if ttl == 0 || defTTL < ttl {
				ttl = defTTL
			}
		}

		result, ok := buckets[value.PeriodDate]
		if !ok {
			result = &models.MetricsResult{Bucket: value.PeriodDate}
			buckets[value.PeriodDate] = result
			order = append(order, value.PeriodDate)
		}
		assign(result, value)
	}

	if !matched {
		return nil, 0, nil
	}

	results := make([]*models.MetricsResult, 0, len(order))
	for _, bucket := range order {
		result := buckets[bucket]
		fillRates(result)
		results = append(results, result)
	}
	return results, ttl, nil
}

func (s *metricsService) fromRawAggregation(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error) {
	results, err := s.auditRepo.AggregateBuckets(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("run raw aggregation: %w", err)
	}

	for _, result := range results {
		fillRates(result)
	}
	if results == nil {
		results = []*models.MetricsResult{}
	}
	return results, nil
}

// fillRates derives the rate metrics from the counts.
func fillRates(r *models.MetricsResult) {
	r.CompletionRate = safeRate(r.CompletedCount, r.CreatedCount)
	r.CancellationRate = safeRate(r.CancelledCount, r.CreatedCount)
	r.NoShowRate = safeRate(r.NoShowCount, r.CreatedCount)
}

// safeRate divides numerator by denominator as a two-decimal ratio.
// A zero denominator yields 0, never NaN or infinity.
func safeRate(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100) / 100
}
