package models

import (
	"time"

	"github.com/google/uuid"
)

// PeriodType is a time bucketing granularity for KPI rollups.
type PeriodType string

const (
	PeriodHourly    PeriodType = "HOURLY"
	PeriodDaily     PeriodType = "DAILY"
	PeriodWeekly    PeriodType = "WEEKLY"
	PeriodMonthly   PeriodType = "MONTHLY"
	PeriodQuarterly PeriodType = "QUARTERLY"
	PeriodYearly    PeriodType = "YEARLY"
)

// IsValid returns true if the period type is one of the supported granularities.
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	default:
		return false
	}
}

// Bounds returns the inclusive start and exclusive end of the period
// containing t. Weeks start on Monday (ISO).
func (p PeriodType) Bounds(t time.Time) (time.Time, time.Time) {
	loc := t.Location()
	switch p {
	case PeriodHourly:
		start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
		return start, start.Add(time.Hour)
	case PeriodDaily:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	case PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		offset := (int(day.Weekday()) + 6) % 7 // days since Monday
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case PeriodQuarterly:
		quarterMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		start := time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 3, 0)
	case PeriodYearly:
		start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		return t, t
	}
}

// KPIDefinition configures one KPI. Identified by a unique code; the
// aggregation SQL is a single SELECT with exactly three positional
// parameters: $1 period start, $2 period end, $3 company id.
// Stored in the kpi_definitions table.
type KPIDefinition struct {
	ID          uuid.UUID         `json:"id"`
	Code        string            `json:"code"`
	EntityType  string            `json:"entity_type"`
	Name        map[string]string `json:"name"`        // locale -> name
	Description map[string]string `json:"description"` // locale -> description

	AggregationSQL string       `json:"aggregation_sql"`
	Periods        []PeriodType `json:"periods"`

	IsRealtime      bool `json:"is_realtime"`
	CacheEnabled    bool `json:"cache_enabled"`
	CacheTTLMinutes int  `json:"cache_ttl_minutes"`

	RetentionDays       int    `json:"retention_days"`
	CompressionStrategy string `json:"compression_strategy,omitempty"`

	// CompanyIDs restricts the KPI to specific companies. Empty means all.
	CompanyIDs []uuid.UUID `json:"company_ids,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SupportsPeriod returns true if the definition declares the given period type.
func (d *KPIDefinition) SupportsPeriod(p PeriodType) bool {
	for _, period := range d.Periods {
		if period == p {
			return true
		}
	}
	return false
}

// AppliesToCompany returns true if the definition is unrestricted or the
// company is on its allow-list.
func (d *KPIDefinition) AppliesToCompany(companyID uuid.UUID) bool {
	if len(d.CompanyIDs) == 0 {
		return true
	}
	for _, id := range d.CompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}

// KPIValue is one persisted rollup. Uniqueness is enforced on
// (definition, company, period type, period date, dimensions); writes are
// idempotent upserts and concurrent recalculation is last-write-wins.
// Stored in the kpi_values table.
type KPIValue struct {
	ID           uuid.UUID  `json:"id"`
	DefinitionID uuid.UUID  `json:"definition_id"`
	CompanyID    uuid.UUID  `json:"company_id"`
	PeriodType   PeriodType `json:"period_type"`
	PeriodDate   time.Time  `json:"period_date"`

	// Dimensions is a canonical string encoding of the dimension-value set,
	// empty when the rollup has no dimensions. Part of the unique key.
	Dimensions string `json:"dimensions,omitempty"`

	Value       float64        `json:"value"`
	RecordCount int64          `json:"record_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	CalcDuration time.Duration `json:"calc_duration"`
	CalculatedAt time.Time     `json:"calculated_at"`
}

// TrendDirection classifies how a KPI moved between two half-windows.
type TrendDirection string

const (
	TrendIncreasing       TrendDirection = "increasing"
	TrendDecreasing       TrendDirection = "decreasing"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// KPITrend is the result of comparing the recent half of a KPI's history
// against the older half.
type KPITrend struct {
	Code          string         `json:"code"`
	CompanyID     uuid.UUID      `json:"company_id"`
	PeriodType    PeriodType     `json:"period_type"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	RecentAvg     float64        `json:"recent_avg"`
	OlderAvg      float64        `json:"older_avg"`
	DataPoints    int            `json:"data_points"`
}
