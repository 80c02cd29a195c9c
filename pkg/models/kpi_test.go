package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPeriodType_IsValid(t *testing.T) {
	for _, p := range []PeriodType{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly} {
		assert.True(t, p.IsValid(), string(p))
	}
	assert.False(t, PeriodType("FORTNIGHTLY").IsValid())
	assert.False(t, PeriodType("").IsValid())
}

func TestPeriodType_Bounds(t *testing.T) {
	// Saturday afternoon, mid-quarter.
	ref := time.Date(2026, 8, 15, 13, 45, 30, 0, time.UTC)

	tests := []struct {
		period PeriodType
		start  time.Time
		end    time.Time
	}{
		{PeriodHourly, time.Date(2026, 8, 15, 13, 0, 0, 0, time.UTC), time.Date(2026, 8, 15, 14, 0, 0, 0, time.UTC)},
		{PeriodDaily, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)},
		{PeriodWeekly, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		{PeriodMonthly, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodQuarterly, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodYearly, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			start, end := tt.period.Bounds(ref)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestPeriodType_Bounds_WeekStartsMonday(t *testing.T) {
	// A Monday maps onto its own week.
	monday := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	start, _ := PeriodWeekly.Bounds(monday)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), start)

	// A Sunday belongs to the week that began six days earlier.
	sunday := time.Date(2026, 8, 16, 9, 0, 0, 0, time.UTC)
	start, _ = PeriodWeekly.Bounds(sunday)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), start)
}

func TestKPIDefinition_SupportsPeriod(t *testing.T) {
	def := &KPIDefinition{Periods: []PeriodType{PeriodDaily, PeriodMonthly}}
	assert.True(t, def.SupportsPeriod(PeriodDaily))
	assert.False(t, def.SupportsPeriod(PeriodWeekly))
}

func TestKPIDefinition_AppliesToCompany(t *testing.T) {
	allowed := uuid.New()

	unrestricted := &KPIDefinition{}
	assert.True(t, unrestricted.AppliesToCompany(uuid.New()))

	restricted := &KPIDefinition{CompanyIDs: []uuid.UUID{allowed}}
	assert.True(t, restricted.AppliesToCompany(allowed))
	assert.False(t, restricted.AppliesToCompany(uuid.New()))
}
