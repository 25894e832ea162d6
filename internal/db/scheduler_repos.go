package db

import (
	"context"
	"time"

	"salonpost/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// acquireLockSQL claims or reclaims a lease row in one statement. A fresh
// INSERT wins the lock outright; on conflict the UPDATE only fires when the
// existing lease has already expired ($3 is the claim time), so an active
// holder is never displaced.
const acquireLockSQL = `
	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	  SET worker_id = EXCLUDED.worker_id,
	      locked_at = EXCLUDED.locked_at,
	      expires_at = EXCLUDED.expires_at
	  WHERE job_locks.expires_at < $3`

// JobLockRepository provides a lightweight leader lease via the job_locks
// table. The scheduler loop and the recovery sweep each claim their lock at
// tick entry, so an accidentally duplicated deployment does not produce
// duplicate publish attempts.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to claim the lease named by lockID (the task name, e.g.
// "scheduler_loop" or "recovery_sweep") for ttl. It returns true when this
// worker now holds the lease and false when another worker's unexpired lease
// blocked the claim.
//
// Both timestamps are computed in Go and bound as time.Time values; passing
// Go duration strings into PostgreSQL interval arithmetic does not parse.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	claimedAt := time.Now().UTC()

	tag, err := r.db.Exec(ctx, acquireLockSQL, lockID, workerID, claimedAt, claimedAt.Add(ttl))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// One row affected means either a brand new lease or an expired one that
	// was reclaimed. Zero rows means the conflict branch was suppressed by
	// the WHERE clause, i.e. another worker still holds the lease.
	return tag.RowsAffected() > 0, nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

const (
	startJobHistorySQL = `
		INSERT INTO job_history (status, job_type, started_at)
		VALUES ('running', $1, NOW())
		RETURNING id`

	finishJobHistorySQL = `
		UPDATE job_history
		SET status = $2, items_count = $3, error = $4, finished_at = NOW()
		WHERE id = $1`
)

// JobHistoryRepository provides data access for the job_history table. Each
// scheduler tick and recovery sweep records one row for operational
// visibility: when it ran, how many posts it touched, and whether it failed.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start opens a job_history entry in the 'running' state and returns its ID
// for the matching Finish call.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, startJobHistorySQL, jobType).Scan(&id); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes the entry opened by Start. Status is 'completed' or 'failed',
// items is the number of posts the run touched, and a non-nil jobErr has its
// message stored in the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	tag, err := r.db.Exec(ctx, finishJobHistorySQL, id, status, items, errText(jobErr))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// errText returns the error message as a nullable column value.
func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
