// Package reconciler provides adapters for running the launch reconciler.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/data"
	"github.com/target/job-launcher/internal/observability/statsd"
	"github.com/target/job-launcher/internal/service"
)

// Runner runs the reconcile loop that launches paid jobs left behind by the API.
type Runner struct {
	reconciler *service.Reconciler
	logger     *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	// DB backs the job repository when Jobs is nil.
	DB       *sql.DB
	Launcher service.JobLauncher
	Config   config.ReconcilerConfig
	Logger   *slog.Logger

	// Optional dependency injection for testing/decoupling
	Jobs    core.JobRepository
	Metrics statsd.Sink
}

// NewRunner creates a new reconciler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	rec, err := service.NewReconciler(service.ReconcilerOptions{
		Jobs:     opts.Jobs,
		Launcher: opts.Launcher,
		Config:   opts.Config,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reconciler service: %w", err)
	}

	return &Runner{
		reconciler: rec,
		logger:     opts.Logger,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Launcher == nil {
		return errors.New("job launcher is required")
	}
	if opts.Jobs == nil {
		if opts.DB == nil {
			return errors.New("database connection or job repository is required")
		}
		opts.Jobs = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the reconcile loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reconciler runner")
	return r.reconciler.Run(ctx)
}
