package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/observability/metrics"
	"github.com/target/job-launcher/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs      core.JobRepository     // Required: job repository
	Payments  core.PaymentRepository // Required: balance ledger
	Manifests *ManifestService       // Required: manifest store
	Rates     funding.Rates          // Required: fee percentages
	Bucket    string                 // Required: manifest bucket
	Logger    *slog.Logger           // Optional: structured logger
	Metrics   statsd.Sink            // Optional: metrics sink
	Now       func() time.Time       // Optional: clock override for tests
}

// JobService funds jobs from a user's balance.
//
// A job is created PENDING, the total amount is withdrawn from the user's
// balance, and the job moves to PAID. Escrow creation is handled separately by
// EscrowLauncher.
type JobService struct {
	jobs      core.JobRepository
	payments  core.PaymentRepository
	manifests *ManifestService
	rates     funding.Rates
	bucket    string
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Payments == nil {
		return nil, errors.New("PaymentRepository is required")
	}
	if opts.Manifests == nil {
		return nil, errors.New("ManifestService is required")
	}
	if err := opts.Rates.Validate(); err != nil {
		return nil, err
	}
	if opts.Bucket == "" {
		return nil, errors.New("manifest bucket is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &JobService{
		jobs:      opts.Jobs,
		payments:  opts.Payments,
		manifests: opts.Manifests,
		rates:     opts.Rates,
		bucket:    opts.Bucket,
		logger:    logger.With("component", "job_service"),
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// CreateFortuneJob funds a fortune job and returns its id.
func (s *JobService) CreateFortuneJob(ctx context.Context, userID int64, req *model.CreateFortuneJobRequest) (int64, error) {
	if req == nil {
		return 0, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	return s.create(ctx, userID, req.ChainID, req.FundAmount, func(b funding.Breakdown) *model.Manifest {
		return &model.Manifest{
			SubmissionsRequired:  req.FortunesRequired,
			RequesterTitle:       req.RequesterTitle,
			RequesterDescription: req.RequesterDescription,
			Fee:                  b.TotalFee.String(),
			FundAmount:           b.TotalAmount.String(),
			Mode:                 model.JobModeDescriptive,
			RequestType:          model.RequestTypeFortune,
		}
	})
}

// CreateCvatJob funds a binary image labeling job and returns its id.
func (s *JobService) CreateCvatJob(ctx context.Context, userID int64, req *model.CreateCvatJobRequest) (int64, error) {
	if req == nil {
		return 0, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	return s.create(ctx, userID, req.ChainID, req.FundAmount, func(b funding.Breakdown) *model.Manifest {
		return &model.Manifest{
			DataURL:                 req.DataURL,
			SubmissionsRequired:     req.AnnotationsPerImage,
			Labels:                  append([]string(nil), req.Labels...),
			RequesterDescription:    req.RequesterDescription,
			RequesterAccuracyTarget: req.RequesterAccuracyTarget,
			Fee:                     b.TotalFee.String(),
			FundAmount:              b.TotalAmount.String(),
			Mode:                    model.JobModeBatch,
			RequestType:             model.RequestTypeImageLabelBinary,
		}
	})
}

// create runs the shared funding flow. Steps are sequential and a failure
// stops the flow without undoing earlier steps.
func (s *JobService) create(
	ctx context.Context,
	userID, chainID int64,
	fundAmount json.Number,
	buildManifest func(funding.Breakdown) *model.Manifest,
) (int64, error) {
	if userID <= 0 {
		return 0, apperrors.Wrap(ErrUnauthorized, apperrors.ErrCodeUnauthorized, ErrUnauthorized.Error())
	}
	start := s.now()

	balance, err := s.payments.GetUserBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get user balance: %w", err)
	}

	breakdown, err := funding.FromDecimal(fundAmount.String(), s.rates)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	if balance.Cmp(breakdown.TotalAmount) <= 0 {
		s.logger.InfoContext(ctx, "not enough funds",
			"user_id", userID,
			"balance", balance.String(),
			"total_amount", breakdown.TotalAmount.String(),
		)
		return 0, apperrors.Wrap(ErrInsufficientFunds, apperrors.ErrCodeValidation, ErrInsufficientFunds.Error())
	}

	manifest := buildManifest(breakdown)
	manifestURL, manifestHash, err := s.manifests.Save(ctx, manifest, s.bucket)
	if err != nil {
		return 0, err
	}

	job, err := s.jobs.Create(ctx, model.CreateJobParams{
		UserID:       userID,
		ChainID:      chainID,
		RequestType:  manifest.RequestType,
		ManifestURL:  manifestURL,
		ManifestHash: manifestHash,
		Fee:          breakdown.TotalFee,
		FundAmount:   breakdown.TotalAmount,
		WaitUntil:    start,
	})
	if err != nil {
		s.emit(manifest.RequestType, metrics.TransitionCreate, err, 0)
		return 0, fmt.Errorf("create job: %w", err)
	}
	if job == nil {
		s.logger.ErrorContext(ctx, "job was not created", "user_id", userID)
		s.emit(manifest.RequestType, metrics.TransitionCreate, ErrJobNotCreated, 0)
		return 0, apperrors.Wrap(ErrJobNotCreated, apperrors.ErrCodeNotFound, ErrJobNotCreated.Error())
	}
	s.emit(manifest.RequestType, metrics.TransitionCreate, nil, 0)

	if err := s.withdraw(ctx, job, breakdown.TotalAmount); err != nil {
		s.emit(job.RequestType, metrics.TransitionPay, err, 0)
		return 0, err
	}

	paid := job.Clone()
	paid.Status = model.JobStatusPaid
	if _, err := s.jobs.Save(ctx, paid); err != nil {
		s.logger.ErrorContext(ctx, "job debited but not marked paid",
			"job_id", job.ID, "user_id", userID, "error", err)
		s.emit(job.RequestType, metrics.TransitionPay, err, 0)
		return 0, fmt.Errorf("mark job %d paid: %w", job.ID, err)
	}
	s.emit(job.RequestType, metrics.TransitionPay, nil, s.now().Sub(start))

	s.logger.InfoContext(ctx, "job funded",
		"job_id", job.ID,
		"user_id", userID,
		"chain_id", chainID,
		"request_type", job.RequestType,
		"total_amount", breakdown.TotalAmount.String(),
	)
	return job.ID, nil
}

func (s *JobService) withdraw(ctx context.Context, job *model.Job, amount *big.Int) error {
	jobID := job.ID
	_, err := s.payments.SavePayment(ctx, model.SavePaymentParams{
		UserID: job.UserID,
		JobID:  &jobID,
		Source: model.PaymentSourceBalance,
		Type:   model.PaymentTypeWithdrawal,
		Amount: amount,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "withdrawal failed after job creation",
			"job_id", job.ID, "user_id", job.UserID, "error", err)
		return fmt.Errorf("withdraw for job %d: %w", job.ID, err)
	}
	return nil
}

// GetByID returns a job owned by userID. Jobs owned by other users are
// reported as not found.
func (s *JobService) GetByID(ctx context.Context, userID, id int64) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, mapJobLookupError(err)
	}
	if job == nil || job.UserID != userID {
		return nil, apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, ErrJobNotFound.Error())
	}
	return job, nil
}

// ListForUser pages through a user's jobs, newest first.
func (s *JobService) ListForUser(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.UserID <= 0 {
		return nil, apperrors.Wrap(ErrUnauthorized, apperrors.ErrCodeUnauthorized, ErrUnauthorized.Error())
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid status %q", *opts.Status))
	}
	if opts.Offset < 0 {
		return nil, apperrors.ValidationField("offset", "offset must be non-negative")
	}
	return s.jobs.ListByUser(ctx, opts)
}

func (s *JobService) emit(requestType model.RequestType, transition string, err error, d time.Duration) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobTransition(s.metrics, metrics.JobMetric{
		RequestType: string(requestType),
		Transition:  transition,
		Result:      result,
		Duration:    d,
		Err:         err,
	})
}

func mapJobLookupError(err error) error {
	if apperrors.IsNotFound(err) {
		return apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, ErrJobNotFound.Error())
	}
	return err
}
