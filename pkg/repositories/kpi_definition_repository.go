package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookpulse-io/bookpulse-engine/pkg/apperrors"
	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// KPIDefinitionRepository provides data access for the KPI registry.
// Definitions are soft-disabled via is_active rather than deleted.
type KPIDefinitionRepository interface {
	Create(ctx context.Context, def *models.KPIDefinition) error
	Update(ctx context.Context, def *models.KPIDefinition) error
	GetByCode(ctx context.Context, code string) (*models.KPIDefinition, error)
	List(ctx context.Context) ([]*models.KPIDefinition, error)
	ListActive(ctx context.Context) ([]*models.KPIDefinition, error)
	ListRealtimeByEntityType(ctx context.Context, entityType string) ([]*models.KPIDefinition, error)
	Deactivate(ctx context.Context, code string) error
}

type kpiDefinitionRepository struct {
	db *database.DB
}

// NewKPIDefinitionRepository creates a new KPIDefinitionRepository.
func NewKPIDefinitionRepository(db *database.DB) KPIDefinitionRepository {
	return &kpiDefinitionRepository{db: db}
}

var _ KPIDefinitionRepository = (*kpiDefinitionRepository)(nil)

const kpiDefinitionColumns = `
	id, code, entity_type, name, description, aggregation_sql, periods,
	is_realtime, cache_enabled, cache_ttl_minutes,
	retention_days, compression_strategy, company_ids, is_active,
	created_at, updated_at`

func (r *kpiDefinitionRepository) Create(ctx context.Context, def *models.KPIDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	nameJSON, descJSON, err := marshalLocalized(def)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO kpi_definitions (
			id, code, entity_type, name, description, aggregation_sql, periods,
			is_realtime, cache_enabled, cache_ttl_minutes,
			retention_days, compression_strategy, company_ids, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.Exec(ctx, query,
		def.ID, def.Code, def.EntityType, nameJSON, descJSON,
		def.AggregationSQL, periodStrings(def.Periods),
		def.IsRealtime, def.CacheEnabled, def.CacheTTLMinutes,
		def.RetentionDays, def.CompressionStrategy, def.CompanyIDs, def.IsActive,
		def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("kpi definition %q: %w", def.Code, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create kpi definition: %w", err)
	}

	return nil
}

func (r *kpiDefinitionRepository) Update(ctx context.Context, def *models.KPIDefinition) error {
	def.UpdatedAt = time.Now()

	nameJSON, descJSON, err := marshalLocalized(def)
	if err != nil {
		return err
	}

	query := `
		UPDATE kpi_definitions SET
			entity_type = $2, name = $3, description = $4, aggregation_sql = $5,
			periods = $6, is_realtime = $7, cache_enabled = $8, cache_ttl_minutes = $9,
			retention_days = $10, compression_strategy = $11, company_ids = $12,
			is_active = $13, updated_at = $14
		WHERE code = $1`

	tag, err := r.db.Exec(ctx, query,
		def.Code, def.EntityType, nameJSON, descJSON, def.AggregationSQL,
		periodStrings(def.Periods), def.IsRealtime, def.CacheEnabled, def.CacheTTLMinutes,
		def.RetentionDays, def.CompressionStrategy, def.CompanyIDs,
		def.IsActive, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update kpi definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi definition %q: %w", def.Code, apperrors.ErrNotFound)
	}

	return nil
}

func (r *kpiDefinitionRepository) GetByCode(ctx context.Context, code string) (*models.KPIDefinition, error) {
	query := `SELECT ` + kpiDefinitionColumns + ` FROM kpi_definitions WHERE code = $1`

	rows, err := r.db.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi definition: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read kpi definition: %w", err)
		}
		return nil, fmt.Errorf("kpi definition %q: %w", code, apperrors.ErrNotFound)
	}

	return scanKPIDefinition(rows)
}

func (r *kpiDefinitionRepository) List(ctx context.Context) ([]*models.KPIDefinition, error) {
	return r.list(ctx, `SELECT `+kpiDefinitionColumns+` FROM kpi_definitions ORDER BY code`)
}

func (r *kpiDefinitionRepository) ListActive(ctx context.Context) ([]*models.KPIDefinition, error) {
	return r.list(ctx, `SELECT `+kpiDefinitionColumns+` FROM kpi_definitions WHERE is_active ORDER BY code`)
}

func (r *kpiDefinitionRepository) ListRealtimeByEntityType(ctx context.Context, entityType string) ([]*models.KPIDefinition, error) {
	query := `SELECT ` + kpiDefinitionColumns + `
		FROM kpi_definitions
		WHERE is_active AND is_realtime AND entity_type = $1
		ORDER BY code`
	return r.list(ctx, query, entityType)
}

func (r *kpiDefinitionRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE kpi_definitions SET is_active = false, updated_at = now() WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate kpi definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi definition %q: %w", code, apperrors.ErrNotFound)
	}
	return nil
}

func (r *kpiDefinitionRepository) list(ctx context.Context, query string, args ...any) ([]*models.KPIDefinition, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpi definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.KPIDefinition
	for rows.Next() {
		def, err := scanKPIDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kpi definitions: %w", err)
	}

	return defs, nil
}

func scanKPIDefinition(rows pgx.Rows) (*models.KPIDefinition, error) {
	var (
		def      models.KPIDefinition
		nameJSON []byte
		descJSON []byte
		periods  []string
	)

	err := rows.Scan(
		&def.ID, &def.Code, &def.EntityType, &nameJSON, &descJSON,
		&def.AggregationSQL, &periods,
		&def.IsRealtime, &def.CacheEnabled, &def.CacheTTLMinutes,
		&def.RetentionDays, &def.CompressionStrategy, &def.CompanyIDs, &def.IsActive,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan kpi definition: %w", err)
	}

	if len(nameJSON) > 0 {
		if err := json.Unmarshal(nameJSON, &def.Name); err != nil {
			return nil, fmt.Errorf("failed to unmarshal kpi name: %w", err)
		}
	}
	if len(descJSON) > 0 {
		if err := json.Unmarshal(descJSON, &def.Description); err != nil {
			return nil, fmt.Errorf("failed to unmarshal kpi description: %w", err)
		}
	}
	for _, p := range periods {
		def.Periods = append(def.Periods, models.PeriodType(p))
	}

	return &def, nil
}

func marshalLocalized(def *models.KPIDefinition) ([]byte, []byte, error) {
	nameJSON, err := json.Marshal(def.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal kpi name: %w", err)
	}
	descJSON, err := json.Marshal(def.Description)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal kpi description: %w", err)
	}
	return nameJSON, descJSON, nil
}

func periodStrings(periods []models.PeriodType) []string {
	out := make([]string, 0, len(periods))
	for _, p := range periods {
		out = append(out, string(p))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
