package repositories

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
)

// ArchiveResult reports one archiving batch.
type ArchiveResult struct {
	Moved     int64 `json:"moved"`
	SizeBytes int64 `json:"size_bytes"`
}

// AuditArchiveRepository moves aged audit records into the archive tables.
// Every batch copies before it deletes; a crash between the two leaves
// duplicates in the archive, never a hole in the trail.
type AuditArchiveRepository interface {
	// ArchiveBatch moves up to limit records older than cutoff from
	// audit_records into audit_records_archive.
	ArchiveBatch(ctx context.Context, cutoff time.Time, limit int) (ArchiveResult, error)

	// MoveToColdStorage moves up to limit archived records older than cutoff
	// from audit_records_archive into audit_records_cold.
	MoveToColdStorage(ctx context.Context, cutoff time.Time, limit int) (ArchiveResult, error)
}

type auditArchiveRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAuditArchiveRepository creates a new AuditArchiveRepository.
func NewAuditArchiveRepository(db *database.DB, logger *zap.Logger) AuditArchiveRepository {
	return &auditArchiveRepository{db: db, logger: logger.Named("audit-archive")}
}

var _ AuditArchiveRepository = (*auditArchiveRepository)(nil)

func (r *auditArchiveRepository) ArchiveBatch(ctx context.Context, cutoff time.Time, limit int) (ArchiveResult, error) {
	return r.move(ctx, "audit_records", "audit_records_archive", cutoff, limit)
}

func (r *auditArchiveRepository) MoveToColdStorage(ctx context.Context, cutoff time.Time, limit int) (ArchiveResult, error) {
	return r.move(ctx, "audit_records_archive", "audit_records_cold", cutoff, limit)
}

// move copies one batch from source to destination, computes its byte size,
// then deletes the copied rows. Runs in a single transaction; source and
// destination names come from the two fixed call sites above.
func (r *auditArchiveRepository) move(ctx context.Context, source, destination string, cutoff time.Time, limit int) (ArchiveResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	copyStmt := fmt.Sprintf(`
		WITH batch AS (
			SELECT * FROM %s
			WHERE occurred_at < $1
			ORDER BY occurred_at
			LIMIT $2
		), copied AS (
			INSERT INTO %s
			SELECT batch.*, now(), pg_column_size(batch.*)
			FROM batch
			ON CONFLICT (id) DO NOTHING
			RETURNING id
		)
		SELECT
			(SELECT COUNT(*) FROM copied),
			COALESCE((SELECT SUM(pg_column_size(batch.*)) FROM batch), 0)`,
		source, destination)

	var result ArchiveResult
	if err := tx.QueryRow(ctx, copyStmt, cutoff, limit).Scan(&result.Moved, &result.SizeBytes); err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to copy archive batch: %w", err)
	}

	if result.Moved > 0 {
		deleteStmt := fmt.Sprintf(`
			DELETE FROM %s
			WHERE id IN (
				SELECT id FROM %s
				WHERE occurred_at < $1
				ORDER BY occurred_at
				LIMIT $2
			)`, source, source)
		if _, err := tx.Exec(ctx, deleteStmt, cutoff, limit); err != nil {
			return ArchiveResult{}, fmt.Errorf("failed to delete archived batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	if result.Moved > 0 {
		r.logger.Info("Archived audit batch",
			zap.String("source", source),
			zap.String("destination", destination),
			zap.Int64("moved", result.Moved),
			zap.Int64("size_bytes", result.SizeBytes))
	}

	return result, nil
}
