package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
	sqlutil "github.com/bookpulse-io/bookpulse-engine/pkg/sql"
)

// ActivityCount is one row of the monthly per-company activity report:
// how many changes of one kind hit one entity type.
type ActivityCount struct {
	EntityType string            `json:"entity_type"`
	ChangeKind models.ChangeKind `json:"change_kind"`
	Count      int64             `json:"count"`
}

// AuditRepository provides data access for the audit trail. The trail is
// append-only: Insert is the only write path; aging out of the hot table is
// the archive repository's job.
type AuditRepository interface {
	// Insert appends one audit record.
	Insert(ctx context.Context, record *models.AuditRecord) error

	// AggregateBuckets runs the general aggregation path: filtered, grouped
	// counts per time bucket over the records the query's date range touches.
	// Rates are derived by the caller.
	AggregateBuckets(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error)

	// CountByEntityAndKind groups a company's records by entity type and
	// change kind over a date range. Feeds the monthly activity report.
	CountByEntityAndKind(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]ActivityCount, error)
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	beforeJSON, err := marshalState(record.BeforeState)
	if err != nil {
		return fmt.Errorf("marshal before_state: %w", err)
	}
	afterJSON, err := marshalState(record.AfterState)
	if err != nil {
		return fmt.Errorf("marshal after_state: %w", err)
	}

	query := `
		INSERT INTO audit_records (
			id, company_id, entity_type, entity_id, table_name, operation, change_kind,
			before_state, after_state, changed_fields,
			user_id, session_id, app_source, ip_address, endpoint, user_agent,
			impact_score,
			calendar_year, calendar_month, calendar_day, calendar_day_of_week,
			calendar_iso_week, calendar_quarter, calendar_hour,
			occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17,
			$18, $19, $20, $21, $22, $23, $24,
			$25
		)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.CompanyID,
		record.EntityType,
		record.EntityID,
		record.TableName,
		record.Operation,
		record.ChangeKind,
		beforeJSON,
		afterJSON,
		record.ChangedFields,
		record.UserID,
		record.SessionID,
		record.AppSource,
		record.IPAddress,
		record.Endpoint,
		record.UserAgent,
		record.ImpactScore,
		record.Calendar.Year,
		record.Calendar.Month,
		record.Calendar.Day,
		record.Calendar.DayOfWeek,
		record.Calendar.ISOWeek,
		record.Calendar.Quarter,
		record.Calendar.Hour,
		record.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// bucketExpressions maps query granularities onto date_trunc units. Fixed
// table, never caller text.
var bucketExpressions = map[models.MetricsGranularity]string{
	models.GranularityHour:    "hour",
	models.GranularityDay:     "day",
	models.GranularityWeek:    "week",
	models.GranularityMonth:   "month",
	models.GranularityQuarter: "quarter",
	models.GranularityYear:    "year",
}

func (r *auditRepository) AggregateBuckets(ctx context.Context, query *models.MetricsQuery) ([]*models.MetricsResult, error) {
	unit, ok := bucketExpressions[query.Granularity]
	if !ok {
		return nil, fmt.Errorf("unsupported granularity %q", query.Granularity)
	}

	where := []string{
		"company_id = $1",
		"occurred_at >= $2",
		"occurred_at < $3",
	}
	args := []any{query.CompanyID, query.StartDate, query.EndDate}
	next := 4

	// Partition pruning: restrict the scan to the calendar months the date
	// range actually touches.
	years, months := calendarBuckets(query.StartDate, query.EndDate)
	where = append(where, fmt.Sprintf("calendar_year = ANY($%d)", next))
	args = append(args, years)
	next++
	where = append(where, fmt.Sprintf("calendar_month = ANY($%d)", next))
	args = append(args, months)
	next++

	if query.EmployeeID != "" {
		where = append(where, fmt.Sprintf("user_id::text = $%d", next))
		args = append(args, query.EmployeeID)
		next++
	}
	if query.AppSource != "" {
		where = append(where, fmt.Sprintf("app_source = $%d", next))
		args = append(args, query.AppSource)
		next++
	}
	if len(query.EventTypes) > 0 {
		where = append(where, fmt.Sprintf("entity_type = ANY($%d)", next))
		args = append(args, query.EventTypes)
		next++
	}

	if len(query.Conditions) > 0 {
		fragment, condArgs, err := sqlutil.CompileConditions(query.Conditions, next)
		if err != nil {
			return nil, err
		}
		where = append(where, fragment)
		args = append(args, condArgs...)
	}

	stmt := fmt.Sprintf(`
		SELECT
			date_trunc('%s', occurred_at) AS bucket,
			COUNT(*) FILTER (WHERE change_kind = 'created') AS created_count,
			COUNT(*) FILTER (WHERE change_kind = 'status_change' AND after_state->>'status' = 'CONFIRMED') AS confirmed_count,
			COUNT(*) FILTER (WHERE change_kind = 'status_change' AND after_state->>'status' = 'CANCELLED') AS cancelled_count,
			COUNT(*) FILTER (WHERE change_kind = 'status_change' AND after_state->>'status' = 'COMPLETED') AS completed_count,
			COUNT(*) FILTER (WHERE change_kind = 'status_change' AND after_state->>'status' = 'NO_SHOW') AS no_show_count
		FROM audit_records
		WHERE %s
		GROUP BY bucket
		ORDER BY bucket`,
		unit, strings.Join(where, " AND "))

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run aggregation: %w", err)
	}
	defer rows.Close()

	var results []*models.MetricsResult
	for rows.Next() {
		var res models.MetricsResult
		if err := rows.Scan(
			&res.Bucket,
			&res.CreatedCount,
			&res.ConfirmedCount,
			&res.CancelledCount,
			&res.CompletedCount,
			&res.NoShowCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation row: %w", err)
		}
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregation rows: %w", err)
	}

	return results, nil
}

// calendarBuckets returns the distinct years and months a date range touches.
func calendarBuckets(start, end time.Time) ([]int, []int) {
	yearSet := make(map[int]struct{})
	monthSet := make(map[int]struct{})

	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	for !cursor.After(end) {
		yearSet[cursor.Year()] = struct{}{}
		monthSet[int(cursor.Month())] = struct{}{}
		cursor = cursor.AddDate(0, 1, 0)
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	months := make([]int, 0, len(monthSet))
	for m := range monthSet {
		months = append(months, m)
	}
	sort.Ints(years)
	sort.Ints(months)
	return years, months
}

func (r *auditRepository) CountByEntityAndKind(ctx context.Context, companyID uuid.UUID, start, end time.Time) ([]ActivityCount, error) {
	query := `
		SELECT entity_type, change_kind, COUNT(*)
		FROM audit_records
		WHERE company_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY entity_type, change_kind
		ORDER BY entity_type, change_kind`

	rows, err := r.db.Query(ctx, query, companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count activity: %w", err)
	}
	defer rows.Close()

	var counts []ActivityCount
	for rows.Next() {
		var c ActivityCount
		if err := rows.Scan(&c.EntityType, &c.ChangeKind, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan activity count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity counts: %w", err)
	}

	return counts, nil
}

func marshalState(state models.EntityState) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}
