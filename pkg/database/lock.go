package database

import (
	"context"
	"fmt"
)

// TryAdvisoryLock attempts to take a session-scoped Postgres advisory lock.
// Scheduled jobs use it as the cross-instance lease: the instance that gets
// the lock runs the job body, everyone else skips that tick.
//
// When acquired is true the caller must invoke release, which unlocks and
// returns the underlying connection to the pool.
func (db *DB) TryAdvisoryLock(ctx context.Context, key int64) (acquired bool, release func(), err error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return false, nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil, nil
	}

	release = func() {
		// Best-effort unlock; the lock dies with the session anyway.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return true, release, nil
}
