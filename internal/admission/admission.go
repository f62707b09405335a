// Package admission orchestrates a conversion request end to end:
// per-user slot acquisition, the atomic rate-check-and-debit, hand-off to
// the worker pool, and finalization. A job that fails anywhere after the
// debit is always refunded.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ambotlabs/ambot/internal/metrics"
	"github.com/ambotlabs/ambot/internal/queue"
	"github.com/ambotlabs/ambot/internal/ratelimit"
	"github.com/ambotlabs/ambot/internal/storage"
)

// Artifact is the converted media file produced by the pipeline.
// Cleanup, when set, removes the underlying temp files.
type Artifact struct {
	Path     string
	Filename string
	Cleanup  func()
}

// Pipeline is the external conversion collaborator. Either method
// failing triggers the refund path.
type Pipeline interface {
	Convert(ctx context.Context, kind storage.JobKind, title string, quality int) (*Artifact, error)
	Deliver(ctx context.Context, userID int64, artifact *Artifact) error
}

// Events receives job lifecycle notifications for relaying to the user.
// A refunded failure must be presented distinctly from a plain failure so
// the user knows their balance is restored.
type Events interface {
	JobStarted(ctx context.Context, job *storage.Job)
	JobSucceeded(ctx context.Context, job *storage.Job)
	JobFailed(ctx context.Context, job *storage.Job, cause error, refunded bool)
}

// Controller runs the admission state machine.
type Controller struct {
	store    *storage.Storage
	limiter  *ratelimit.Limiter
	pool     *queue.Pool
	pipeline Pipeline
	events   Events
	metrics  *metrics.Metrics
	log      *slog.Logger

	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// New creates a Controller.
func New(store *storage.Storage, limiter *ratelimit.Limiter, pool *queue.Pool, pipeline Pipeline, events Events, m *metrics.Metrics, log *slog.Logger) *Controller {
	return &Controller{
		store:    store,
		limiter:  limiter,
		pool:     pool,
		pipeline: pipeline,
		events:   events,
		metrics:  m,
		log:      log,
		Now:      time.Now,
	}
}

// Request admits a conversion for the user. On success the job has been
// debited and queued, and the returned Job is Pending. Denials come back
// as queue.ErrBusy, ratelimit.ErrCooldownActive,
// ratelimit.ErrDailyLimitReached or storage.ErrInsufficientFunds, with no
// balance change.
//
// The slot is claimed before the admission transaction so that the
// check-then-debit sequence is exclusive per user; it is held until the
// job reaches a terminal state.
func (c *Controller) Request(ctx context.Context, userID int64, kind storage.JobKind, title string, quality int, cost int64) (*storage.Job, error) {
	if err := c.pool.Acquire(userID); err != nil {
		c.metrics.Denied.WithLabelValues(DenialReason(err)).Inc()
		return nil, err
	}

	job := &storage.Job{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		Title:   title,
		Quality: quality,
		Cost:    cost,
	}

	if _, err := c.store.AdmitConversion(ctx, job, c.limiter.Check, c.Now()); err != nil {
		c.pool.Release(userID)
		if reason := DenialReason(err); reason != "" {
			c.metrics.Denied.WithLabelValues(reason).Inc()
		}
		return nil, err
	}

	c.metrics.Admitted.Inc()
	c.metrics.Active.Inc()
	c.log.Info("job admitted",
		"job_id", job.ID,
		"user_id", userID,
		"kind", kind,
		"quality", quality,
		"cost", cost,
	)

	if err := c.pool.Submit(ctx, func() { c.run(job) }); err != nil {
		// Debited but never queued: treat like a pipeline failure.
		c.finalizeFailure(context.Background(), job, err)
		c.pool.Release(userID)
		c.metrics.Active.Dec()
		return nil, err
	}

	return job, nil
}

// run executes a dequeued job on a pool worker. It owns the user's slot
// and releases it when the job reaches a terminal state.
func (c *Controller) run(job *storage.Job) {
	// Update contexts die with their request; job execution outlives it.
	ctx := context.Background()

	defer func() {
		c.pool.Release(job.UserID)
		c.metrics.Active.Dec()
	}()

	if err := c.store.MarkJobRunning(ctx, job.ID); err != nil {
		c.log.Error("mark job running", "job_id", job.ID, "error", err)
	}
	job.Status = storage.JobRunning
	c.events.JobStarted(ctx, job)

	artifact, err := c.pipeline.Convert(ctx, job.Kind, job.Title, job.Quality)
	if err == nil {
		if artifact.Cleanup != nil {
			defer artifact.Cleanup()
		}
		err = c.pipeline.Deliver(ctx, job.UserID, artifact)
	}

	if err != nil {
		c.finalizeFailure(ctx, job, err)
		return
	}

	if err := c.store.MarkJobSucceeded(ctx, job.ID, c.Now()); err != nil {
		c.log.Error("mark job succeeded", "job_id", job.ID, "error", err)
	}
	job.Status = storage.JobSucceeded
	c.metrics.Succeeded.Inc()
	c.log.Info("job succeeded", "job_id", job.ID, "user_id", job.UserID)
	c.events.JobSucceeded(ctx, job)
}

// finalizeFailure walks the job through Failed -> Refunded and credits
// the cost back. Cancellation and timeouts land here too.
func (c *Controller) finalizeFailure(ctx context.Context, job *storage.Job, cause error) {
	c.log.Warn("job failed", "job_id", job.ID, "user_id", job.UserID, "error", cause)

	if err := c.store.MarkJobFailed(ctx, job.ID, c.Now()); err != nil {
		c.log.Error("mark job failed", "job_id", job.ID, "error", err)
	}
	job.Status = storage.JobFailed

	if _, err := c.store.RefundJob(ctx, job.ID, c.Now()); err != nil {
		c.log.Error("refund failed", "job_id", job.ID, "user_id", job.UserID, "error", err)
		c.events.JobFailed(ctx, job, cause, false)
		return
	}

	job.Status = storage.JobRefunded
	c.metrics.Refunded.Inc()
	c.log.Info("job refunded", "job_id", job.ID, "user_id", job.UserID, "cost", job.Cost)
	c.events.JobFailed(ctx, job, cause, true)
}

// DenialReason maps an admission error to its stable reason code, or ""
// for system-level failures.
func DenialReason(err error) string {
	switch {
	case errors.Is(err, queue.ErrBusy):
		return "busy"
	case errors.Is(err, ratelimit.ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, ratelimit.ErrDailyLimitReached):
		return "daily_limit_reached"
	case errors.Is(err, storage.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, storage.ErrNotFound):
		return "not_registered"
	default:
		return ""
	}
}
