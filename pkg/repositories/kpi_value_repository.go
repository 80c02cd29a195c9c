package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// KPIValueRepository provides data access for persisted KPI rollups.
// Upsert is the sole write path; the unique constraint on the composite key
// makes concurrent recalculation last-write-wins.
type KPIValueRepository interface {
	// Upsert writes one rollup, overwriting any previous value for the same
	// (definition, company, period type, period date, dimensions) key.
	Upsert(ctx context.Context, value *models.KPIValue) error

	// ExecuteAggregation runs a vetted KPI aggregation statement bound to
	// (period start, period end, company id). The statement's first column is
	// the numeric result; an optional second column is the record count.
	ExecuteAggregation(ctx context.Context, sqlText string, start, end time.Time, companyID uuid.UUID) (float64, int64, error)

	// ListForPeriodRange returns rollups for a company and period type whose
	// period date falls inside [start, end), ordered by period date.
	ListForPeriodRange(ctx context.Context, companyID uuid.UUID, periodType models.PeriodType, start, end time.Time) ([]*models.KPIValue, error)

	// ListRecent returns the most recent limit rollups for one definition,
	// company and period type, newest first.
	ListRecent(ctx context.Context, definitionID, companyID uuid.UUID, periodType models.PeriodType, limit int) ([]*models.KPIValue, error)

	// DeleteOlderThanForDefinition prunes one definition's rollups older than
	// the cutoff.
	DeleteOlderThanForDefinition(ctx context.Context, definitionID uuid.UUID, cutoff time.Time) (int64, error)
}

type kpiValueRepository struct {
	db *database.DB
}

// NewKPIValueRepository creates a new KPIValueRepository.
func NewKPIValueRepository(db *database.DB) KPIValueRepository {
	return &kpiValueRepository{db: db}
}

var _ KPIValueRepository = (*kpiValueRepository)(nil)

func (r *kpiValueRepository) Upsert(ctx context.Context, value *models.KPIValue) error {
	if value.ID == uuid.Nil {
		value.ID = uuid.New()
	}
	if value.CalculatedAt.IsZero() {
		value.CalculatedAt = time.Now()
	}

	var metadataJSON []byte
	if len(value.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(value.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal kpi value metadata: %w", err)
		}
	}

	query := `
		INSERT INTO kpi_values (
			id, definition_id, company_id, period_type, period_date, dimensions,
			value, record_count, metadata, calc_duration_ms, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (definition_id, company_id, period_type, period_date, dimensions)
		DO UPDATE SET
			value = EXCLUDED.value,
			record_count = EXCLUDED.record_count,
			metadata = EXCLUDED.metadata,
			calc_duration_ms = EXCLUDED.calc_duration_ms,
			calculated_at = EXCLUDED.calculated_at`

	_, err := r.db.Exec(ctx, query,
		value.ID,
		value.DefinitionID,
		value.CompanyID,
		value.PeriodType,
		value.PeriodDate,
		value.Dimensions,
		value.Value,
		value.RecordCount,
		metadataJSON,
		value.CalcDuration.Milliseconds(),
		value.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert kpi value: %w", err)
	}

	return nil
}

func (r *kpiValueRepository) ExecuteAggregation(ctx context.Context, sqlText string, start, end time.Time, companyID uuid.UUID) (float64, int64, error) {
	rows, err := r.db.Query(ctx, sqlText, start, end, companyID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to execute aggregation statement: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to read aggregation result: %w", err)
		}
		return 0, 0, nil
	}

	var (
		value       *float64
		recordCount *int64
	)
	fields := rows.FieldDescriptions()
	switch len(fields) {
	case 1:
		if err := rows.Scan(&value); err != nil {
			return 0, 0, fmt.Errorf("failed to scan aggregation result: %w", err)
		}
	default:
		if err := rows.Scan(&value, &recordCount); err != nil {
			return 0, 0, fmt.Errorf("failed to scan aggregation result: %w", err)
		}
	}

	var v float64
	if value != nil {
		v = *value
	}
	var c int64
	if recordCount != nil {
		c = *recordCount
	}
	return v, c, nil
}

const kpiValueColumns = `
	id, definition_id, company_id, period_type, period_date, dimensions,
	value, record_count, metadata, calc_duration_ms, calculated_at`

func (r *kpiValueRepository) ListForPeriodRange(ctx context.Context, companyID uuid.UUID, periodType models.PeriodType, start, end time.Time) ([]*models.KPIValue, error) {
	query := `SELECT ` + kpiValueColumns + `
		FROM kpi_values
		WHERE company_id = $1 AND period_type = $2 AND period_date >= $3 AND period_date < $4
		ORDER BY period_date`

	return r.list(ctx, query, companyID, periodType, start, end)
}

func (r *kpiValueRepository) ListRecent(ctx context.Context, definitionID, companyID uuid.UUID, periodType models.PeriodType, limit int) ([]*models.KPIValue, error) {
	query := `SELECT ` + kpiValueColumns + `
		FROM kpi_values
		WHERE definition_id = $1 AND company_id = $2 AND period_type = $3
		ORDER BY period_date DESC
		LIMIT $4`

	return r.list(ctx, query, definitionID, companyID, periodType, limit)
}

func (r *kpiValueRepository) DeleteOlderThanForDefinition(ctx context.Context, definitionID uuid.UUID, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM kpi_values WHERE definition_id = $1 AND period_date < $2`,
		definitionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune kpi values: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *kpiValueRepository) list(ctx context.Context, query string, args ...any) ([]*models.KPIValue, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpi values: %w", err)
	}
	defer rows.Close()

	var values []*models.KPIValue
	for rows.Next() {
		value, err := scanKPIValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kpi values: %w", err)
	}

	return values, nil
}

func scanKPIValue(rows pgx.Rows) (*models.KPIValue, error) {
	var (
		value        models.KPIValue
		metadataJSON []byte
		durationMs   int64
	)

	err := rows.Scan(
		&value.ID,
		&value.DefinitionID,
		&value.CompanyID,
		&value.PeriodType,
		&value.PeriodDate,
		&value.Dimensions,
		&value.Value,
		&value.RecordCount,
		&metadataJSON,
		&durationMs,
		&value.CalculatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan kpi value: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &value.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal kpi value metadata: %w", err)
		}
	}
	value.CalcDuration = time.Duration(durationMs) * time.Millisecond

	return &value, nil
}
