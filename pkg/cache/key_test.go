package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

func TestQueryKey_Deterministic(t *testing.T) {
	companyID := uuid.New()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	a := &models.MetricsQuery{
		CompanyID:   companyID,
		StartDate:   start,
		EndDate:     end,
		Granularity: models.GranularityDay,
		EventTypes:  []string{"created", "cancelled"},
	}
	b := &models.MetricsQuery{
		EventTypes:  []string{"created", "cancelled"},
		Granularity: models.GranularityDay,
		EndDate:     end,
		StartDate:   start,
		CompanyID:   companyID,
	}

	keyA, err := QueryKey(a)
	require.NoError(t, err)
	keyB, err := QueryKey(b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB, "assembly order must not change the key")
	assert.Len(t, keyA, 64)
}

func TestQueryKey_SensitiveToValues(t *testing.T) {
	base := &models.MetricsQuery{
		CompanyID:   uuid.New(),
		StartDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		Granularity: models.GranularityDay,
	}
	baseKey, err := QueryKey(base)
	require.NoError(t, err)

	changed := *base
	changed.Granularity = models.GranularityWeek
	changedKey, err := QueryKey(&changed)
	require.NoError(t, err)

	assert.NotEqual(t, baseKey, changedKey)
}
