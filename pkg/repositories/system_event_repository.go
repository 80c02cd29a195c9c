package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// SystemEventRepository provides data access for system events.
type SystemEventRepository interface {
	// Insert stores one system event.
	Insert(ctx context.Context, event *models.SystemEvent) error

	// DeleteProcessedOlderThan removes processed events older than the cutoff.
	DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type systemEventRepository struct {
	db *database.DB
}

// NewSystemEventRepository creates a new SystemEventRepository.
func NewSystemEventRepository(db *database.DB) SystemEventRepository {
	return &systemEventRepository{db: db}
}

var _ SystemEventRepository = (*systemEventRepository)(nil)

func (r *systemEventRepository) Insert(ctx context.Context, event *models.SystemEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO system_events (id, company_id, event_type, severity, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.CompanyID,
		event.EventType,
		event.Severity,
		[]byte(event.Payload),
		event.Processed,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert system event: %w", err)
	}

	return nil
}

func (r *systemEventRepository) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM system_events WHERE processed AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed system events: %w", err)
	}
	return tag.RowsAffected(), nil
}
