package models

import (
	"time"

	"github.com/google/uuid"
)

// Metric group granularities accepted by the complex metrics query.
type MetricsGranularity string

const (
	GranularityHour    MetricsGranularity = "hour"
	GranularityDay     MetricsGranularity = "day"
	GranularityWeek    MetricsGranularity = "week"
	GranularityMonth   MetricsGranularity = "month"
	GranularityQuarter MetricsGranularity = "quarter"
	GranularityYear    MetricsGranularity = "year"
)

// PeriodType maps the bucketing granularity onto the rollup period type used
// by the pre-computed path.
func (g MetricsGranularity) PeriodType() (PeriodType, bool) {
	switch g {
	case GranularityHour:
		return PeriodHourly, true
	case GranularityDay:
		return PeriodDaily, true
	case GranularityWeek:
		return PeriodWeekly, true
	case GranularityMonth:
		return PeriodMonthly, true
	case GranularityQuarter:
		return PeriodQuarterly, true
	case GranularityYear:
		return PeriodYearly, true
	default:
		return "", false
	}
}

// ConditionOp is a comparison operator accepted in free-form filter
// conditions. Conditions never carry raw SQL; they compile to parameterized
// fragments against an allow-listed column set.
type ConditionOp string

const (
	OpEq  ConditionOp = "="
	OpNeq ConditionOp = "!="
	OpGt  ConditionOp = ">"
	OpGte ConditionOp = ">="
	OpLt  ConditionOp = "<"
	OpLte ConditionOp = "<="
	OpIn  ConditionOp = "in"
)

// FilterCondition is one restricted free-form condition on a metrics query.
type FilterCondition struct {
	Field  string      `json:"field"`
	Op     ConditionOp `json:"op"`
	Value  any         `json:"value,omitempty"`
	Values []any       `json:"values,omitempty"` // for 'in'
}

// MetricsQuery describes one on-demand aggregation request.
type MetricsQuery struct {
	CompanyID   uuid.UUID          `json:"company_id"`
	EmployeeID  string             `json:"employee_id,omitempty"`
	EventTypes  []string           `json:"event_types,omitempty"`
	AppSource   string             `json:"app_source,omitempty"`
	StartDate   time.Time          `json:"start_date"`
	EndDate     time.Time          `json:"end_date"`
	Granularity MetricsGranularity `json:"granularity"`
	Conditions  []FilterCondition  `json:"conditions,omitempty"`
	Metrics     []string           `json:"metrics,omitempty"`
}

// HasCustomFilters reports whether the query carries anything the
// pre-computed rollups cannot answer.
func (q *MetricsQuery) HasCustomFilters() bool {
	return len(q.Conditions) > 0 || q.EmployeeID != "" || len(q.EventTypes) > 0 || q.AppSource != ""
}

// RangeDays returns the length of the query's date range in whole days.
func (q *MetricsQuery) RangeDays() int {
	return int(q.EndDate.Sub(q.StartDate).Hours() / 24)
}

// MetricsResult is one time bucket of the aggregation result schema. Both
// the raw and pre-computed paths shape their rows into this form.
type MetricsResult struct {
	Bucket time.Time `json:"bucket"`

	CreatedCount   int64 `json:"created_count"`
	ConfirmedCount int64 `json:"confirmed_count"`
	CancelledCount int64 `json:"cancelled_count"`
	CompletedCount int64 `json:"completed_count"`
	NoShowCount    int64 `json:"no_show_count"`

	// Rates are ratios of the counts above, rounded to two decimals.
	// A zero denominator yields rate 0.
	CompletionRate   float64 `json:"completion_rate"`
	CancellationRate float64 `json:"cancellation_rate"`
	NoShowRate       float64 `json:"no_show_rate"`
}
