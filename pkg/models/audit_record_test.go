package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecomposeTimestamp(t *testing.T) {
	// Thursday, first hour of Q4.
	ts := time.Date(2026, 10, 1, 0, 15, 0, 0, time.UTC)

	parts := DecomposeTimestamp(ts)

	assert.Equal(t, 2026, parts.Year)
	assert.Equal(t, 10, parts.Month)
	assert.Equal(t, 1, parts.Day)
	assert.Equal(t, int(time.Thursday), parts.DayOfWeek)
	assert.Equal(t, 40, parts.ISOWeek)
	assert.Equal(t, 4, parts.Quarter)
	assert.Equal(t, 0, parts.Hour)
}

func TestDecomposeTimestamp_ISOWeekAtYearBoundary(t *testing.T) {
	// 2027-01-01 is a Friday and belongs to ISO week 53 of 2026.
	parts := DecomposeTimestamp(time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 53, parts.ISOWeek)
	assert.Equal(t, 2027, parts.Year)
}
