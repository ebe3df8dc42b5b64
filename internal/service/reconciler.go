package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/observability/metrics"
	"github.com/target/job-launcher/internal/observability/statsd"
)

// JobLauncher launches one funded job.
type JobLauncher interface {
	Launch(ctx context.Context, job *model.Job) (*model.Job, error)
}

// ReconcilerOptions groups dependencies for Reconciler.
type ReconcilerOptions struct {
	Jobs     core.JobRepository      // Required: job repository
	Launcher JobLauncher             // Required: escrow launcher
	Config   config.ReconcilerConfig // Required: reconciler configuration
	Logger   *slog.Logger            // Optional: structured logger
	Metrics  statsd.Sink             // Optional: metrics sink
	Now      func() time.Time        // Optional: clock override for tests
}

// Reconciler periodically launches PAID jobs whose wait_until has passed and
// reports jobs stuck in PENDING or held for review.
//
// It owns retry policy: a failed launch is pushed back by RetryDelay and
// picked up again on a later tick, resuming from the job's recorded launch
// stage. Launches that may have left an unrecorded escrow are never retried;
// they are counted as held until an operator resolves them.
type Reconciler struct {
	jobs     core.JobRepository
	launcher JobLauncher
	config   config.ReconcilerConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// TickResult summarises one reconciler pass.
type TickResult struct {
	Due          int
	Launched     int
	Failed       int
	StalePending int64
	Held         int64
}

// NewReconciler constructs a new Reconciler.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("JobLauncher is required")
	}
	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reconciler")
	logger.Debug("Reconciler initialized",
		"interval", cfg.Interval,
		"batch_size", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
		"retry_delay", cfg.RetryDelay,
		"pending_max_age", cfg.PendingMaxAge,
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		jobs:     opts.Jobs,
		launcher: opts.Launcher,
		config:   cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      now,
	}, nil
}

// Run starts the reconcile loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reconciler", "interval", r.config.Interval)

	// Stagger instances that start together.
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	if _, err := r.Tick(ctx); err != nil {
		r.logTickError(ctx, err, "initial reconcile")
	}
	return r.runLoop(ctx, ticker)
}

// waitWithJitter sleeps for a random delay up to 10% of the interval.
func (r *Reconciler) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (r *Reconciler) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reconciler stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.logTickError(ctx, err, "reconcile")
			}
		}
	}
}

// Tick performs one reconcile pass: launch due jobs, then report stale PENDING
// jobs and held launches.
func (r *Reconciler) Tick(ctx context.Context) (TickResult, error) {
	start := r.now()
	var (
		res  TickResult
		errs []error
	)

	launched, failed, due, err := r.launchDue(ctx, start)
	res.Due, res.Launched, res.Failed = due, launched, failed
	if err != nil {
		errs = append(errs, fmt.Errorf("launch due jobs: %w", err))
	}

	stale, err := r.reportStalePending(ctx, start)
	res.StalePending = stale
	if err != nil {
		errs = append(errs, fmt.Errorf("count stale pending jobs: %w", err))
	}

	held, err := r.reportHeld(ctx)
	res.Held = held
	if err != nil {
		errs = append(errs, fmt.Errorf("count held launches: %w", err))
	}

	metrics.EmitReconcileTick(r.metrics, metrics.ReconcileMetric{
		Due:      res.Due,
		Launched: res.Launched,
		Failed:   res.Failed,
		Stale:    res.StalePending,
		Held:     res.Held,
		Duration: r.now().Sub(start),
	})

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return res, context.Canceled
		}
		return res, joined
	}
	return res, nil
}

func (r *Reconciler) launchDue(ctx context.Context, now time.Time) (int, int, int, error) {
	due, err := r.jobs.ListDueForLaunch(ctx, now, r.config.BatchSize)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(due) == 0 {
		return 0, 0, 0, nil
	}

	var launched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for _, job := range due {
		g.Go(func() error {
			// A failed launch never cancels its siblings.
			if err := r.launchOne(gctx, job); err != nil {
				failed.Add(1)
				return nil
			}
			launched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if n := launched.Load(); n > 0 {
		r.logger.InfoContext(ctx, "launched due jobs", "count", n, "failed", failed.Load())
	}
	return int(launched.Load()), int(failed.Load()), len(due), ctx.Err()
}

func (r *Reconciler) launchOne(ctx context.Context, job *model.Job) error {
	_, err := r.launcher.Launch(ctx, job)
	if err == nil {
		return nil
	}
	if isContextCancellation(err) && ctx.Err() != nil {
		return err
	}
	var launchErr *EscrowLaunchError
	if errors.As(err, &launchErr) && launchErr.NeedsReview() {
		r.logger.ErrorContext(ctx, "launch held for review, not rescheduling",
			"job_id", job.ID,
			"step", launchErr.Step,
		)
		return err
	}

	retryAt := r.now().Add(r.config.RetryDelay)
	r.logger.WarnContext(ctx, "launch failed, rescheduling",
		"job_id", job.ID,
		"retry_at", retryAt,
		"error", err,
	)
	if rerr := r.jobs.Reschedule(ctx, job.ID, retryAt); rerr != nil {
		r.logger.ErrorContext(ctx, "reschedule failed", "job_id", job.ID, "error", rerr)
	}
	return err
}

func (r *Reconciler) reportStalePending(ctx context.Context, now time.Time) (int64, error) {
	olderThan := now.Add(-r.config.PendingMaxAge)
	count, err := r.jobs.CountStalePending(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		r.logger.WarnContext(ctx, "jobs stuck in PENDING",
			"count", count,
			"max_age", r.config.PendingMaxAge,
		)
	}
	return count, nil
}

func (r *Reconciler) reportHeld(ctx context.Context) (int64, error) {
	count, err := r.jobs.CountHeldLaunches(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		r.logger.WarnContext(ctx, "launches held for review", "count", count)
	}
	return count, nil
}

func (r *Reconciler) logTickError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		r.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	r.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
