package repositories

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
)

// PartitionRepository maintains the monthly partitions of the audit trail.
type PartitionRepository interface {
	// EnsureMonthlyPartitions creates partitions for the given number of
	// months starting at the month containing from. Idempotent.
	EnsureMonthlyPartitions(ctx context.Context, from time.Time, months int) (int, error)

	// CompressPartitionsOlderThan switches the snapshot columns of partitions
	// whose range ended more than the given number of days ago to LZ4
	// compression and rewrites them.
	CompressPartitionsOlderThan(ctx context.Context, days int) (int, error)
}

type partitionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPartitionRepository creates a new PartitionRepository.
func NewPartitionRepository(db *database.DB, logger *zap.Logger) PartitionRepository {
	return &partitionRepository{db: db, logger: logger.Named("partitions")}
}

var _ PartitionRepository = (*partitionRepository)(nil)

func (r *partitionRepository) EnsureMonthlyPartitions(ctx context.Context, from time.Time, months int) (int, error) {
	created := 0
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < months; i++ {
		next := cursor.AddDate(0, 1, 0)
		name := partitionName(cursor)

		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_records
			FOR VALUES FROM ('%s') TO ('%s')`,
			name,
			cursor.Format("2006-01-02"),
			next.Format("2006-01-02"))

		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return created, fmt.Errorf("failed to create partition %s: %w", name, err)
		}
		created++
		cursor = next
	}

	r.logger.Debug("Ensured audit partitions", zap.Int("months", months))
	return created, nil
}

func (r *partitionRepository) CompressPartitionsOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	boundary := time.Date(cutoff.Year(), cutoff.Month(), 1, 0, 0, 0, 0, time.UTC)

	rows, err := r.db.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'audit_records'
		ORDER BY c.relname`)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, fmt.Errorf("failed to scan partition name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating partitions: %w", err)
	}

	compressed := 0
	for _, name := range names {
		month, ok := parsePartitionName(name)
		if !ok || !month.AddDate(0, 1, 0).Before(boundary) {
			continue
		}

		stmts := []string{
			fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN before_state SET COMPRESSION lz4`, name),
			fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN after_state SET COMPRESSION lz4`, name),
		}
		for _, stmt := range stmts {
			if _, err := r.db.Exec(ctx, stmt); err != nil {
				return compressed, fmt.Errorf("failed to compress partition %s: %w", name, err)
			}
		}
		compressed++
	}

	if compressed > 0 {
		r.logger.Info("Compressed audit partitions",
			zap.Int("partitions", compressed),
			zap.Int("older_than_days", days))
	}
	return compressed, nil
}

// partitionName builds the canonical name for one monthly partition,
// e.g. audit_records_y2026m08.
func partitionName(month time.Time) string {
	return fmt.Sprintf("audit_records_y%04dm%02d", month.Year(), int(month.Month()))
}

// parsePartitionName recovers the month from a partition name produced by
// partitionName. Returns false for partitions it does not own.
func parsePartitionName(name string) (time.Time, bool) {
	var year, month int
	if _, err := fmt.Sscanf(name, "audit_records_y%4dm%2d", &year, &month); err != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}
