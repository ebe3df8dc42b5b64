package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/job-launcher/internal/data/pgxutil"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrStaleJob is returned when Save finds the stored status is not the
	// expected predecessor, usually because another writer got there first.
	ErrStaleJob = errors.New("job was modified concurrently")
)

// RepoConfig holds configuration options for the repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for funded jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

// amounts are read back as text so values above int64 survive the round trip.
const jobColumns = `
  id,
  user_id,
  chain_id,
  request_type,
  manifest_url,
  manifest_hash,
  fee::text,
  fund_amount::text,
  status,
  escrow_address,
  launch_stage,
  recorded_escrow_address,
  wait_until,
  created_at,
  updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j        model.Job
		escrow   sql.NullString
		recorded sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.UserID,
		&j.ChainID,
		&j.RequestType,
		&j.ManifestURL,
		&j.ManifestHash,
		&j.Fee,
		&j.FundAmount,
		&j.Status,
		&escrow,
		&j.LaunchStage,
		&recorded,
		&j.WaitUntil,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if escrow.Valid {
		j.EscrowAddress = &escrow.String
	}
	if recorded.Valid {
		j.RecordedEscrowAddress = &recorded.String
	}
	return &j, nil
}

// Create inserts a PENDING job.
func (r *JobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	if params.Fee == nil || params.FundAmount == nil {
		return nil, apperrors.Validation("fee and fund amount are required")
	}
	if !params.RequestType.Valid() {
		return nil, apperrors.ValidationField("request_type", "invalid request type")
	}

	now := r.timeProvider.Now().UTC()
	waitUntil := params.WaitUntil
	if waitUntil.IsZero() {
		waitUntil = now
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (
			user_id, chain_id, request_type, manifest_url, manifest_hash,
			fee, fund_amount, status, wait_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $10)
		RETURNING `+jobColumns,
		params.UserID,
		params.ChainID,
		params.RequestType,
		params.ManifestURL,
		params.ManifestHash,
		params.Fee.String(),
		params.FundAmount.String(),
		model.JobStatusPending,
		waitUntil,
		now,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	return job, nil
}

// GetByID returns a job by id.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// GetByEscrowAddress resolves a launched job by its escrow on a chain.
// Addresses are compared case-insensitively.
func (r *JobRepo) GetByEscrowAddress(ctx context.Context, chainID int64, address string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE chain_id = $1 AND lower(escrow_address) = lower($2)`,
		chainID, strings.TrimSpace(address),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get job by escrow: %w", err)
	}
	return job, nil
}

// Save writes job.Status and job.EscrowAddress when the stored status is the
// predecessor of job.Status. It returns ErrJobNotFound for unknown ids and
// ErrStaleJob when the stored status does not allow the transition.
func (r *JobRepo) Save(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if err := job.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}
	prev, ok := job.Status.Predecessor()
	if !ok {
		return nil, fmt.Errorf("%w: cannot save job into %s", model.ErrInvalidTransition, job.Status)
	}

	var saved *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				UPDATE jobs
				SET status = $2, escrow_address = $3, updated_at = $4
				WHERE id = $1 AND status = $5
				RETURNING `+jobColumns,
				job.ID, job.Status, job.EscrowAddress, r.timeProvider.Now().UTC(), prev,
			)
			var scanErr error
			saved, scanErr = scanJob(row)
			if scanErr == nil {
				return nil
			}
			if !errors.Is(scanErr, sql.ErrNoRows) {
				return scanErr
			}

			var current model.JobStatus
			lookupErr := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, job.ID).Scan(&current)
			if errors.Is(lookupErr, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			if lookupErr != nil {
				return lookupErr
			}
			return fmt.Errorf("%w: job %d is %s, expected %s", ErrStaleJob, job.ID, current, prev)
		},
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, jobNotFound()
		}
		if errors.Is(err, ErrStaleJob) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConflict, ErrStaleJob.Error())
		}
		return nil, apperrors.MapDBError(fmt.Errorf("save job %d: %w", job.ID, err))
	}
	return saved, nil
}

// RecordLaunchStage moves a PAID job from one launch stage to the next and
// stores escrowAddress as its recorded escrow. It returns ErrStaleJob when the job is no
// longer PAID at stage from.
func (r *JobRepo) RecordLaunchStage(
	ctx context.Context,
	id int64,
	from, to model.LaunchStage,
	escrowAddress *string,
) (*model.Job, error) {
	if !from.Valid() || !to.Valid() {
		return nil, apperrors.Validationf("invalid launch stage change %q -> %q", from, to)
	}
	if (to == model.LaunchStageEscrowCreated) != (escrowAddress != nil) {
		return nil, apperrors.ValidationField("escrow_address", "an escrow address is stored only with ESCROW_CREATED")
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET launch_stage = $3, recorded_escrow_address = $4, updated_at = $5
		WHERE id = $1 AND status = $6 AND launch_stage = $2
		RETURNING `+jobColumns,
		id, from, to, escrowAddress, r.timeProvider.Now().UTC(), model.JobStatusPaid,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.MapDBError(fmt.Errorf("record launch stage for job %d: %w", id, err))
	}

	var (
		status model.JobStatus
		stage  model.LaunchStage
	)
	lookupErr := r.DB.QueryRowContext(ctx, `SELECT status, launch_stage FROM jobs WHERE id = $1`, id).Scan(&status, &stage)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return nil, jobNotFound()
	}
	if lookupErr != nil {
		return nil, fmt.Errorf("record launch stage for job %d: %w", id, lookupErr)
	}
	stale := fmt.Errorf("%w: job %d is %s at %s, expected %s at %s",
		ErrStaleJob, id, status, stage, model.JobStatusPaid, from)
	return nil, apperrors.Wrap(stale, apperrors.ErrCodeConflict, ErrStaleJob.Error())
}

// ListByUser returns a page of a user's jobs, newest first.
func (r *JobRepo) ListByUser(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []any{opts.UserID}
	if opts.Status != nil {
		query += ` AND status = $2`
		args = append(args, *opts.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)

	return r.queryJobs(ctx, query, args...)
}

// ListDueForLaunch returns PAID jobs whose wait_until has passed, oldest first.
// Jobs whose escrow request has no recorded outcome are held for an operator
// and never returned.
func (r *JobRepo) ListDueForLaunch(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1 AND launch_stage <> $4 AND wait_until <= $2
		ORDER BY wait_until ASC, id ASC
		LIMIT $3`,
		model.JobStatusPaid, now, limit, model.LaunchStageEscrowRequested,
	)
}

// Reschedule moves a PAID job's wait_until.
func (r *JobRepo) Reschedule(ctx context.Context, id int64, waitUntil time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs SET wait_until = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, waitUntil, r.timeProvider.Now().UTC(), model.JobStatusPaid,
	)
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", id, err)
	}
	if n == 0 {
		return jobNotFound()
	}
	return nil
}

func jobNotFound() error {
	return apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, ErrJobNotFound.Error())
}

// CountStalePending counts PENDING jobs created before olderThan.
func (r *JobRepo) CountStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = $1 AND created_at < $2`,
		model.JobStatusPending, olderThan,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale pending jobs: %w", err)
	}
	return n, nil
}

// CountHeldLaunches counts PAID jobs whose escrow request has no recorded outcome.
func (r *JobRepo) CountHeldLaunches(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = $1 AND launch_stage = $2`,
		model.JobStatusPaid, model.LaunchStageEscrowRequested,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count held launches: %w", err)
	}
	return n, nil
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.WarnContext(ctx, "close job rows", "error", cerr)
		}
	}()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
