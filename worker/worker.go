// Package worker runs the per-queue lease loops (C6) against package
// jobqueue. Its Runner/Worker split directly generalises the teacher's
// Rust counterpart, crates_io_worker::{runner,worker} (see
// original_source/crates/crates_io_worker/src/{runner,worker}.rs): a
// Runner holds (queue, num_workers) pairs and a job-type handler registry,
// and each Worker goroutine independently runs the lease-execute-commit
// loop described in SPEC_FULL.md §4.5/§4.6.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/zeebo/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storj.io/cratesregistry/jobqueue"
)

// Error is this package's class-tagged error, consistent with package
// jobqueue's Error and the teacher's zeebo/errs idiom.
var Error = errs.Class("worker")

// Handler executes one job's payload. Returning an error (or panicking,
// which Runner converts to an error) leaves the job for backoff-retry.
type Handler func(ctx context.Context, data []byte) error

// QueueConfig is one (queue name, worker count) pair. The core runs at
// least: "default" (>=5 workers), "downloads" (1), "repository" (1), per
// SPEC_FULL.md §4.6.
type QueueConfig struct {
	Queue      string
	NumWorkers int
}

// Runner owns the handler registry and spawns one goroutine per configured
// worker slot.
type Runner struct {
	db           *sql.DB
	log          *zap.Logger
	handlers     map[string]Handler
	queues       []QueueConfig
	pollInterval time.Duration
	tracer       trace.Tracer

	shutdownWhenEmpty bool
}

// New constructs a Runner. Register handlers with RegisterHandler before
// calling Start.
func New(db *sql.DB, log *zap.Logger, queues []QueueConfig, pollInterval time.Duration) *Runner {
	return &Runner{
		db:           db,
		log:          log.Named("worker"),
		handlers:     map[string]Handler{},
		queues:       queues,
		pollInterval: pollInterval,
		tracer:       otel.Tracer("storj.io/cratesregistry/worker"),
	}
}

// RegisterHandler binds a job type name to its handler.
func (r *Runner) RegisterHandler(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// ShutdownWhenQueueEmpty causes every worker to exit cleanly on its first
// idle poll, used by the admin CLI's drain-and-exit mode and by tests.
func (r *Runner) ShutdownWhenQueueEmpty(v bool) {
	r.shutdownWhenEmpty = v
}

func (r *Runner) jobTypes() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Start launches every configured worker goroutine and blocks until ctx is
// cancelled and all workers have finished their current job.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, qc := range r.queues {
		for i := 0; i < qc.NumWorkers; i++ {
			wg.Add(1)
			go func(queue string, workerIndex int) {
				defer wg.Done()
				r.runWorker(ctx, queue, workerIndex)
			}(qc.Queue, i)
		}
	}
	wg.Wait()
}

func (r *Runner) runWorker(ctx context.Context, queue string, index int) {
	log := r.log.With(zap.String("queue", queue), zap.Int("worker", index))
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ran, err := r.cycle(ctx, queue)
		if err != nil {
			if errors.Is(err, errNoDatabaseConnection) {
				log.Error("no database connection, sleeping", zap.Error(err))
			} else {
				log.Error("failed loading job", zap.Error(err))
			}
			time.Sleep(r.pollInterval)
			continue
		}
		if !ran {
			if r.shutdownWhenEmpty {
				return
			}
			time.Sleep(r.pollInterval)
		}
	}
}

var errNoDatabaseConnection = errors.New("worker: no database connection")

// cycle runs exactly one lease-execute-commit cycle and reports whether a
// job was found and executed.
func (r *Runner) cycle(ctx context.Context, queue string) (ran bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errNoDatabaseConnection, err)
	}
	defer func() { _ = tx.Rollback() }()

	job, retries, err := jobqueue.Lease(ctx, tx, queue, r.jobTypes())
	if errors.Is(err, jobqueue.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	handler, ok := r.handlers[job.JobType]
	if !ok {
		return false, Error.New("no handler registered for job type %q", job.JobType)
	}

	execErr := r.execute(ctx, job.ID, job.JobType, handler, job.Data)
	if execErr != nil {
		r.log.Error("job failed", zap.Int64("job.id", job.ID), zap.String("job.typ", job.JobType),
			zap.Int("retries", retries), zap.Error(execErr))
		sentry.CaptureException(execErr)
		if err := jobqueue.MarkFailed(ctx, tx, job.ID); err != nil {
			return true, err
		}
	} else {
		if err := jobqueue.DeleteJob(ctx, tx, job.ID); err != nil {
			return true, err
		}
	}

	if err := tx.Commit(); err != nil {
		return true, Error.Wrap(fmt.Errorf("commit job cycle: %w", err))
	}
	return true, nil
}

// execute invokes handler inside a tracing span tagged with job.id/job.typ,
// recovering any panic into a typed error -- the functional equivalent of
// the Rust worker's AssertUnwindSafe(...).catch_unwind().
func (r *Runner) execute(ctx context.Context, id int64, jobType string, h Handler, data []byte) (err error) {
	ctx, span := r.tracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int64("job.id", id),
			attribute.String("job.typ", jobType),
		))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err = Error.New("job panicked: %v", p)
		}
	}()

	return h(ctx, data)
}
