package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/cache"
	"github.com/bookpulse-io/bookpulse-engine/pkg/config"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
)

// Advisory lock keys, one per job tier. The same keys across all instances
// make each job run on at most one instance at a time.
const (
	lockKeyRealtime int64 = 4201
	lockKeyHourly   int64 = 4202
	lockKeyDaily    int64 = 4203
	lockKeyWeekly   int64 = 4204
	lockKeyMonthly  int64 = 4205
)

// archiveBatchSize caps a single archive move so the daily job never holds
// a long transaction over the hot table.
const archiveBatchSize = 1000

// compressAfterDays is the partition age past which snapshot columns are
// switched to LZ4 compression.
const compressAfterDays = 90

// alertDropPercent is the decline past which the monthly trend analysis
// raises a KPI_THRESHOLD_REACHED event.
const alertDropPercent = 20.0

// JobLeaser hands out cross-instance job leases. Satisfied by *database.DB
// via Postgres advisory locks.
type JobLeaser interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, func(), error)
}

// MaintenanceService runs the tiered background jobs: realtime KPI
// refresh, cache upkeep, archival, partition management, and trend
// alerting. Each job is independently runnable so the admin API can
// trigger one on demand.
type MaintenanceService interface {
	RunRealtime(ctx context.Context) error
	RunHourly(ctx context.Context) error
	RunDaily(ctx context.Context) error
	RunWeekly(ctx context.Context) error
	RunMonthly(ctx context.Context) error

	// StartScheduler launches the job tiers on their schedules and blocks
	// until the context is cancelled.
	StartScheduler(ctx context.Context)
}

type maintenanceService struct {
	leases      JobLeaser
	kpiService  KPIService
	companyRepo repositories.CompanyRepository
	auditRepo   repositories.AuditRepository
	archiveRepo repositories.AuditArchiveRepository
	eventRepo   repositories.SystemEventRepository
	partRepo    repositories.PartitionRepository
	resultCache cache.ResultCache

	schedulerCfg *config.SchedulerConfig
	retentionCfg *config.RetentionConfig
	logger       *zap.Logger
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(
	leases JobLeaser,
	kpiService KPIService,
	companyRepo repositories.CompanyRepository,
	auditRepo repositories.AuditRepository,
	archiveRepo repositories.AuditArchiveRepository,
	eventRepo repositories.SystemEventRepository,
	partRepo repositories.PartitionRepository,
	resultCache cache.ResultCache,
	schedulerCfg *config.SchedulerConfig,
	retentionCfg *config.RetentionConfig,
	logger *zap.Logger,
) MaintenanceService {
	return &maintenanceService{
		leases:       leases,
		kpiService:   kpiService,
		companyRepo:  companyRepo,
		auditRepo:    auditRepo,
		archiveRepo:  archiveRepo,
		eventRepo:    eventRepo,
		partRepo:     partRepo,
		resultCache:  resultCache,
		schedulerCfg: schedulerCfg,
		retentionCfg: retentionCfg,
		logger:       logger.Named("maintenance-service"),
	}
}

var _ MaintenanceService = (*maintenanceService)(nil)

// runLeased runs job under the advisory lock for its tier. When another
// instance holds the lock the job is skipped, not queued.
func (s *maintenanceService) runLeased(ctx context.Context, name string, key int64, job func(context.Context) error) error {
	acquired, release, err := s.leases.TryAdvisoryLock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire %s job lease: %w", name, err)
	}
	if !acquired {
		s.logger.Debug("Maintenance job lease held elsewhere, skipping", zap.String("job", name))
		return nil
	}
	defer release()

	began := time.Now()
	if err := job(ctx); err != nil {
		return err
	}
	s.logger.Info("Maintenance job finished",
		zap.String("job", name),
		zap.Duration("duration", time.Since(began)))
	return nil
}

func (s *maintenanceService) RunRealtime(ctx context.Context) error {
	return s.runLeased(ctx, "realtime", lockKeyRealtime, s.realtimeJob)
}

// realtimeJob refreshes the hourly values of realtime KPIs for every active
// company. Failures are collected per company so a bad company never stalls
// the rest.
func (s *maintenanceService) realtimeJob(ctx context.Context) error {
	companies, err := s.companyRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active companies: %w", err)
	}
	defs, err := s.kpiService.ListDefinitions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	for _, company := range companies {
		wg.Add(1)
		go func(companyID uuid.UUID) {
			defer wg.Done()
			for _, def := range defs {
				if !def.IsActive || !def.IsRealtime {
					continue
				}
				if !def.AppliesToCompany(companyID) || !def.SupportsPeriod(models.PeriodHourly) {
					continue
				}
				if _, err := s.kpiService.CalculateKPI(ctx, def.Code, companyID, models.PeriodHourly, now); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s/%s: %v", companyID, def.Code, err))
					mu.Unlock()
				}
			}
		}(company.ID)
	}
	wg.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("realtime refresh finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *maintenanceService) RunHourly(ctx context.Context) error {
	return s.runLeased(ctx, "hourly", lockKeyHourly, func(ctx context.Context) error {
		purged, err := s.resultCache.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge result cache: %w", err)
		}
		if purged > 0 {
			s.logger.Info("Purged expired cache entries", zap.Int("purged", purged))
		}
		return nil
	})
}

func (s *maintenanceService) RunDaily(ctx context.Context) error {
	return s.runLeased(ctx, "daily", lockKeyDaily, s.dailyJob)
}

func (s *maintenanceService) dailyJob(ctx context.Context) error {
	var failures []string

	yesterday := time.Now().AddDate(0, 0, -1)
	if err := s.recalculateAllCompanies(ctx, models.PeriodDaily, yesterday); err != nil {
		failures = append(failures, err.Error())
	}

	cutoff := time.Now().AddDate(-s.retentionCfg.AuditArchiveYears, 0, 0)
	if err := s.archiveLoop(ctx, cutoff); err != nil {
		failures = append(failures, err.Error())
	}

	if _, err := s.resultCache.PurgeExpired(ctx); err != nil {
		failures = append(failures, fmt.Sprintf("purge cache: %v", err))
	}

	if created, err := s.partRepo.EnsureMonthlyPartitions(ctx, time.Now(), 2); err != nil {
		failures = append(failures, fmt.Sprintf("ensure partitions: %v", err))
	} else if created > 0 {
		s.logger.Info("Created audit partitions", zap.Int("created", created))
	}

	eventCutoff := time.Now().AddDate(0, 0, -s.retentionCfg.SystemEventDays)
	if deleted, err := s.eventRepo.DeleteProcessedOlderThan(ctx, eventCutoff); err != nil {
		failures = append(failures, fmt.Sprintf("prune system events: %v", err))
	} else if deleted > 0 {
		s.logger.Info("Pruned processed system events", zap.Int64("deleted", deleted))
	}

	if len(failures) > 0 {
		return fmt.Errorf("daily job finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// archiveLoop drains records past the archive cutoff in bounded batches.
func (s *maintenanceService) archiveLoop(ctx context.Context, cutoff time.Time) error {
	var moved int64
	var bytes int64
	for {
		result, err := s.archiveRepo.ArchiveBatch(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return fmt.Errorf("archive batch: %w", err)
		}
		moved += result.Moved
		bytes += result.SizeBytes
		if result.Moved < archiveBatchSize {
			break
		}
	}
	if moved > 0 {
		s.logger.Info("Archived audit records",
			zap.Int64("moved", moved),
			zap.Int64("bytes", bytes))
	}
	return nil
}

func (s *maintenanceService) RunWeekly(ctx context.Context) error {
	return s.runLeased(ctx, "weekly", lockKeyWeekly, s.weeklyJob)
}

func (s *maintenanceService) weeklyJob(ctx context.Context) error {
	var failures []string

	lastWeek := time.Now().AddDate(0, 0, -7)
	if err := s.recalculateAllCompanies(ctx, models.PeriodWeekly, lastWeek); err != nil {
		failures = append(failures, err.Error())
	}

	stats, err := s.resultCache.Stats(ctx)
	if err != nil {
		failures = append(failures, fmt.Sprintf("cache stats: %v", err))
	} else {
		s.logger.Info("Result cache usage",
			zap.Int("entries", stats.Entries),
			zap.Int64("total_hits", stats.TotalHits),
			zap.Int64("total_size_bytes", stats.TotalSizeBytes))
	}

	if compressed, err := s.partRepo.CompressPartitionsOlderThan(ctx, compressAfterDays); err != nil {
		failures = append(failures, fmt.Sprintf("compress partitions: %v", err))
	} else if compressed > 0 {
		s.logger.Info("Compressed audit partitions", zap.Int("compressed", compressed))
	}

	if _, err := s.kpiService.CleanupOldKPIValues(ctx, s.retentionCfg.KPIValueDays); err != nil {
		failures = append(failures, fmt.Sprintf("prune kpi values: %v", err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("weekly job finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *maintenanceService) RunMonthly(ctx context.Context) error {
	return s.runLeased(ctx, "monthly", lockKeyMonthly, s.monthlyJob)
}

func (s *maintenanceService) monthlyJob(ctx context.Context) error {
	var failures []string

	lastMonth := previousMonth(time.Now())
	if err := s.recalculateAllCompanies(ctx, models.PeriodMonthly, lastMonth); err != nil {
		failures = append(failures, err.Error())
	}

	if err := s.emitActivityReports(ctx, lastMonth); err != nil {
		failures = append(failures, err.Error())
	}

	coldCutoff := time.Now().AddDate(-s.retentionCfg.ColdStorageYears, 0, 0)
	if result, err := s.archiveRepo.MoveToColdStorage(ctx, coldCutoff, archiveBatchSize); err != nil {
		failures = append(failures, fmt.Sprintf("cold storage move: %v", err))
	} else if result.Moved > 0 {
		s.logger.Info("Moved archived records to cold storage",
			zap.Int64("moved", result.Moved),
			zap.Int64("bytes", result.SizeBytes))
	}

	if err := s.emitTrendAlerts(ctx); err != nil {
		failures = append(failures, err.Error())
	}

	if _, err := s.partRepo.EnsureMonthlyPartitions(ctx, time.Now(), 6); err != nil {
		failures = append(failures, fmt.Sprintf("ensure partitions: %v", err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("monthly job finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// recalculateAllCompanies fans a period recalculation out over every active
// company, collecting failures instead of stopping at the first.
func (s *maintenanceService) recalculateAllCompanies(ctx context.Context, periodType models.PeriodType, refTime time.Time) error {
	companies, err := s.companyRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active companies: %w", err)
	}
	defs, err := s.kpiService.ListDefinitions(ctx)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	for _, company := range companies {
		wg.Add(1)
		go func(companyID uuid.UUID) {
			defer wg.Done()
			for _, def := range defs {
				if !def.IsActive || !def.SupportsPeriod(periodType) || !def.AppliesToCompany(companyID) {
					continue
				}
				if _, err := s.kpiService.CalculateKPI(ctx, def.Code, companyID, periodType, refTime); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s/%s: %v", companyID, def.Code, err))
					mu.Unlock()
				}
			}
		}(company.ID)
	}
	wg.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("%s recalculation finished with %d failure(s): %s", periodType, len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// emitActivityReports writes one MONTHLY_ACTIVITY_REPORT system event per
// active company, summarizing last month's audit activity.
func (s *maintenanceService) emitActivityReports(ctx context.Context, month time.Time) error {
	companies, err := s.companyRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active companies: %w", err)
	}
	start, end := models.PeriodMonthly.Bounds(month)

	var failures []string
	for _, company := range companies {
		counts, err := s.auditRepo.CountByEntityAndKind(ctx, company.ID, start, end)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: count activity: %v", company.ID, err))
			continue
		}
		if len(counts) == 0 {
			continue
		}

		payload, err := json.Marshal(map[string]any{
			"month":    start.Format("2006-01"),
			"activity": counts,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: encode report: %v", company.ID, err))
			continue
		}
		event := &models.SystemEvent{
			CompanyID: company.ID,
			EventType: models.SystemEventMonthlyActivityReport,
			Severity:  models.SeverityInfo,
			Payload:   payload,
		}
		if err := s.eventRepo.Insert(ctx, event); err != nil {
			failures = append(failures, fmt.Sprintf("%s: store report: %v", company.ID, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("activity reports finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// emitTrendAlerts raises a KPI_THRESHOLD_REACHED event for every KPI whose
// monthly trend dropped beyond the alert threshold.
func (s *maintenanceService) emitTrendAlerts(ctx context.Context) error {
	companies, err := s.companyRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active companies: %w", err)
	}

	var failures []string
	for _, company := range companies {
		trends, err := s.kpiService.GetKPITrends(ctx, company.ID, "", models.PeriodMonthly, 12)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: trends: %v", company.ID, err))
			continue
		}
		for _, trend := range trends {
			if trend.Direction != models.TrendDecreasing || trend.ChangePercent > -alertDropPercent {
				continue
			}

			payload, err := json.Marshal(trend)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s/%s: encode trend: %v", company.ID, trend.Code, err))
				continue
			}
			event := &models.SystemEvent{
				CompanyID: company.ID,
				EventType: models.SystemEventKPIThresholdReached,
				Severity:  models.SeverityWarning,
				Payload:   payload,
			}
			if err := s.eventRepo.Insert(ctx, event); err != nil {
				failures = append(failures, fmt.Sprintf("%s/%s: store alert: %v", company.ID, trend.Code, err))
				continue
			}
			s.logger.Warn("KPI threshold reached",
				zap.String("company_id", company.ID.String()),
				zap.String("code", trend.Code),
				zap.Float64("change_percent", trend.ChangePercent))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("trend alerts finished with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// StartScheduler launches one goroutine per job tier and blocks until the
// context is cancelled. Each run is guarded against panics so a bad job
// never kills the scheduler.
func (s *maintenanceService) StartScheduler(ctx context.Context) {
	if !s.schedulerCfg.Enabled {
		s.logger.Info("Maintenance scheduler disabled")
		<-ctx.Done()
		return
	}
	s.logger.Info("Starting maintenance scheduler",
		zap.Duration("realtime_interval", s.schedulerCfg.RealtimeInterval()))

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		s.runOnTicker(ctx, "realtime", s.schedulerCfg.RealtimeInterval(), s.RunRealtime)
	}()
	go func() {
		defer wg.Done()
		s.runOnBoundary(ctx, "hourly", nextHour, s.RunHourly)
	}()
	go func() {
		defer wg.Done()
		s.runOnBoundary(ctx, "daily", nextDay, s.RunDaily)
	}()
	go func() {
		defer wg.Done()
		s.runOnBoundary(ctx, "weekly", nextWeek, s.RunWeekly)
	}()
	go func() {
		defer wg.Done()
		s.runOnBoundary(ctx, "monthly", nextMonth, s.RunMonthly)
	}()
	wg.Wait()
	s.logger.Info("Maintenance scheduler stopped")
}

func (s *maintenanceService) runOnTicker(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded(ctx, name, job)
		}
	}
}

// runOnBoundary sleeps until the next calendar boundary, runs the job, and
// re-arms for the boundary after that.
func (s *maintenanceService) runOnBoundary(ctx context.Context, name string, next func(time.Time) time.Time, job func(context.Context) error) {
	for {
		timer := time.NewTimer(time.Until(next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runGuarded(ctx, name, job)
		}
	}
}

func (s *maintenanceService) runGuarded(ctx context.Context, name string, job func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Maintenance job panicked",
				zap.String("job", name),
				zap.Any("panic", r))
		}
	}()
	if err := job(ctx); err != nil {
		s.logger.Error("Maintenance job failed",
			zap.String("job", name),
			zap.Error(err))
	}
}

func nextHour(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

func nextDay(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// nextWeek returns the next Monday midnight.
func nextWeek(now time.Time) time.Time {
	midnight := nextDay(now)
	for midnight.Weekday() != time.Monday {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight
}

// nextMonth returns the first midnight of the next month.
func nextMonth(now time.Time) time.Time {
	year, month, _ := now.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}

// previousMonth returns a time inside the calendar month before now. Going
// back from the first of the current month avoids day-of-month normalization
// (Mar 31 minus one month would land in March again).
func previousMonth(now time.Time) time.Time {
	year, month, _ := now.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
}
