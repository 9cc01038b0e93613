// Package jobqueue implements the durable, transactional, leased job queue
// described in SPEC_FULL.md §4.5: a polling, priority-ordered FIFO over
// Postgres with deduplication, retry/backoff, and at-least-once semantics.
//
// The enqueue SQL shape is grounded directly on the teacher's Rust
// counterpart, crates_io_worker::BackgroundJob::enqueue /
// enqueue_deduplicated (original_source/crates/crates_io_worker/src/background_job.rs):
// a plain INSERT for non-deduplicated jobs, and an
// INSERT ... SELECT ... WHERE NOT EXISTS(<locked candidates>) for
// deduplicated ones. The lease loop generalises
// original_source/crates/crates_io_worker/src/{runner,worker}.rs, and the
// priority-ordering idea (though not its storage) is grounded on the
// teacher's own satellite/jobq/jobqueue package, a heap-ordered, in-memory
// priority queue the teacher built for an analogous repair-job workload.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/errs"
)

// Error is this package's class-tagged error, mirroring the teacher's
// github.com/zeebo/errs idiom: every error this package returns is
// wrapped in it, so a caller (or a log line) can tell which layer an
// error originated in without parsing its message.
var Error = errs.Class("jobqueue")

// DefaultQueue is the queue name used when a Definition does not specify one.
const DefaultQueue = "default"

// Definition declares a job type's static properties, mirroring the
// teacher's BackgroundJob trait constants (JOB_NAME, PRIORITY, QUEUE,
// DEDUPLICATED).
type Definition struct {
	Name         string
	Priority     int16
	Queue        string
	Deduplicated bool
}

func (d Definition) queue() string {
	if d.Queue == "" {
		return DefaultQueue
	}
	return d.Queue
}

// Enqueue inserts a job row. If Deduplicated is set and an unleased row with
// the same (job_type, data, priority) already exists, no row is inserted and
// the second return value is false -- mirroring enqueue_deduplicated's
// `Option<i64>` return of None.
//
// q may be a *sql.Tx: the publish coordinator (package publish) enqueues
// every post-publish job inside the same transaction that inserts the
// Version row, so that a durably committed version always produces its
// jobs and no job ever observes an uncommitted one (SPEC_FULL.md §4.7).
func Enqueue(ctx context.Context, q Querier, def Definition, payload any) (id int64, enqueued bool, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, false, Error.Wrap(fmt.Errorf("marshal job payload: %w", err))
	}

	if !def.Deduplicated {
		row := q.QueryRowContext(ctx, `
			INSERT INTO background_jobs (job_type, data, priority, queue)
			VALUES ($1,$2,$3,$4) RETURNING id`, def.Name, data, def.Priority, def.queue())
		if err := row.Scan(&id); err != nil {
			return 0, false, Error.Wrap(fmt.Errorf("enqueue job: %w", err))
		}
		return id, true, nil
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO background_jobs (job_type, data, priority, queue)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM background_jobs
			WHERE job_type = $1 AND data = $2 AND priority = $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`, def.Name, data, def.Priority, def.queue())
	err = row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, Error.Wrap(fmt.Errorf("enqueue deduplicated job: %w", err))
	}
	return id, true, nil
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Job is a leased row ready for execution.
type Job struct {
	ID      int64
	JobType string
	Data    []byte
	Queue   string
}

// ErrNoJob is returned by Lease when no eligible row is currently available.
var ErrNoJob = errors.New("jobqueue: no job available")

// Backoff is the retry-eligibility delay after a failed attempt, bounded
// exponential as recommended by SPEC_FULL.md §4.5: min(2^retries minutes, 1 hour).
func Backoff(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	d := time.Minute
	for i := 0; i < retries && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

const leaseSQL = `
	SELECT id, job_type, data, retries
	FROM background_jobs
	WHERE queue = $1
	  AND job_type = ANY($2)
	  AND (
	    last_retry IS NULL
	    OR last_retry + (LEAST(power(2, retries), 60) || ' minutes')::interval <= now()
	  )
	ORDER BY priority DESC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1`

// Lease selects, locks ("FOR UPDATE SKIP LOCKED"), and returns the single
// highest-priority, oldest, retry-eligible job whose job_type is in
// jobTypes and whose queue matches, along with its current retry count.
// The caller must hold tx open (and eventually commit or rollback) for the
// duration of handler execution, so the row lock backs the lease -- exactly
// the teacher Rust worker's "transaction held across handler execution"
// design.
func Lease(ctx context.Context, tx *sql.Tx, queue string, jobTypes []string) (*Job, int, error) {
	if len(jobTypes) == 0 {
		return nil, 0, ErrNoJob
	}
	row := tx.QueryRowContext(ctx, leaseSQL, queue, stringArray(jobTypes))
	var job Job
	var retries int
	job.Queue = queue
	if err := row.Scan(&job.ID, &job.JobType, &job.Data, &retries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNoJob
		}
		return nil, 0, Error.Wrap(fmt.Errorf("lease job: %w", err))
	}
	return &job, retries, nil
}

// DeleteJob removes a successfully completed job row.
func DeleteJob(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM background_jobs WHERE id = $1`, id); err != nil {
		return Error.Wrap(fmt.Errorf("delete job: %w", err))
	}
	return nil
}

// MarkFailed increments retries and stamps last_retry, leaving the row for
// a future lease attempt once its backoff elapses.
func MarkFailed(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE background_jobs SET retries = retries + 1, last_retry = now() WHERE id = $1`, id)
	if err != nil {
		return Error.Wrap(fmt.Errorf("mark job failed: %w", err))
	}
	return nil
}

// FailedJobCount returns how many jobs have retries > 0, used by the test
// harness exactly as the teacher's Runner::check_for_failed_jobs is.
func FailedJobCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM background_jobs WHERE retries > 0`).Scan(&n)
	if err != nil {
		return 0, Error.Wrap(fmt.Errorf("count failed jobs: %w", err))
	}
	return n, nil
}

func stringArray(ss []string) any {
	// database/sql with the pgx driver accepts []string directly for a
	// `text[]` parameter when used with ANY($n); pgx's stdlib wrapper
	// handles the conversion.
	return ss
}
