package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/observability/metrics"
	"github.com/target/job-launcher/internal/observability/statsd"
)

const defaultLaunchLockTTL = 5 * time.Minute

// EscrowSettings are the oracle settings written into every escrow.
type EscrowSettings struct {
	RecordingOracle     common.Address
	ReputationOracle    common.Address
	RecordingOracleFee  int64
	ReputationOracleFee int64
	TrustedHandlers     []common.Address
	// ExchangeOracleWebhookURL receives {escrowAddress, chainId} for labeling jobs.
	ExchangeOracleWebhookURL string
}

// EscrowLauncherOptions groups dependencies for EscrowLauncher.
type EscrowLauncherOptions struct {
	Jobs      core.JobRepository   // Required: job repository
	Ledger    core.Ledger          // Required: chain signer source
	Manifests *ManifestService     // Required: manifest store
	Webhooks  core.WebhookSender   // Required: oracle notifier
	Settings  EscrowSettings       // Required: oracle addresses and fees
	Locks     core.CacheRepository // Optional: per-job launch lock
	LockTTL   time.Duration        // Optional: defaults to 5m
	Logger    *slog.Logger         // Optional: structured logger
	Metrics   statsd.Sink          // Optional: metrics sink
}

// EscrowLauncher creates the on-chain escrow for a funded job.
type EscrowLauncher struct {
	jobs      core.JobRepository
	ledger    core.Ledger
	manifests *ManifestService
	webhooks  core.WebhookSender
	settings  EscrowSettings
	locks     core.CacheRepository
	lockTTL   time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewEscrowLauncher constructs a new EscrowLauncher.
func NewEscrowLauncher(opts EscrowLauncherOptions) (*EscrowLauncher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("Ledger is required")
	}
	if opts.Manifests == nil {
		return nil, errors.New("ManifestService is required")
	}
	if opts.Webhooks == nil {
		return nil, errors.New("WebhookSender is required")
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = defaultLaunchLockTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowLauncher{
		jobs:      opts.Jobs,
		ledger:    opts.Ledger,
		manifests: opts.Manifests,
		webhooks:  opts.Webhooks,
		settings:  opts.Settings,
		locks:     opts.Locks,
		lockTTL:   ttl,
		logger:    logger.With("component", "escrow_launcher"),
		metrics:   opts.Metrics,
	}, nil
}

// MustNewEscrowLauncher constructs a new EscrowLauncher and panics on error.
func MustNewEscrowLauncher(opts EscrowLauncherOptions) *EscrowLauncher {
	l, err := NewEscrowLauncher(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create EscrowLauncher: %v", err))
	}
	return l
}

// LaunchForUser launches a job owned by userID.
func (l *EscrowLauncher) LaunchForUser(ctx context.Context, userID, jobID int64) (*model.Job, error) {
	job, err := l.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapJobLookupError(err)
	}
	if job == nil || job.UserID != userID {
		return nil, apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, ErrJobNotFound.Error())
	}
	return l.Launch(ctx, job)
}

// Launch creates and configures an escrow for a PAID job, marks it LAUNCHED,
// and notifies the exchange oracle when the job kind requires it.
//
// Progress is recorded on the job before and after escrow creation. A job
// whose escrow address is already recorded resumes at the LAUNCHED
// transition, and a job whose escrow request has no recorded outcome is
// refused until an operator resolves it with ResolveHeld.
//
// Failures after the preconditions are returned as *EscrowLaunchError.
// Nothing is rolled back: an escrow that was created stays recorded even if
// the notification fails.
func (l *EscrowLauncher) Launch(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job == nil {
		return nil, apperrors.Validation("job is required")
	}
	if job.Status != model.JobStatusPaid {
		return nil, apperrors.Validationf("job %d is %s, only PAID jobs can be launched", job.ID, job.Status)
	}
	if job.LaunchStage == model.LaunchStageEscrowRequested {
		return nil, apperrors.Wrap(ErrLaunchNeedsReview, apperrors.ErrCodeConflict,
			fmt.Sprintf("job %d: %s", job.ID, ErrLaunchNeedsReview.Error()))
	}
	if job.EscrowAddress != nil && *job.EscrowAddress != "" {
		return nil, apperrors.Validationf("job %d already has an escrow", job.ID)
	}

	release, err := l.acquire(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	launched, err := l.launch(ctx, job)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		var launchErr *EscrowLaunchError
		if errors.As(err, &launchErr) {
			l.logger.ErrorContext(ctx, "escrow launch failed",
				"job_id", job.ID,
				"chain_id", job.ChainID,
				"step", launchErr.Step,
				"needs_review", launchErr.NeedsReview(),
				"error", launchErr.Cause,
			)
		}
	}
	metrics.EmitJobTransition(l.metrics, metrics.JobMetric{
		RequestType: string(job.RequestType),
		Transition:  metrics.TransitionLaunch,
		Result:      result,
		Duration:    time.Since(start),
		Err:         err,
	})
	return launched, err
}

func (l *EscrowLauncher) launch(ctx context.Context, job *model.Job) (*model.Job, error) {
	fail := func(step LaunchStep, cause error) (*model.Job, error) {
		return nil, &EscrowLaunchError{JobID: job.ID, Step: step, Cause: cause}
	}

	current := job
	if !job.HasRecordedEscrow() {
		recorded, step, err := l.createEscrow(ctx, job)
		if err != nil {
			return fail(step, err)
		}
		current = recorded
	}
	addr := *current.RecordedEscrowAddress

	updated := current.Clone()
	updated.Status = model.JobStatusLaunched
	updated.EscrowAddress = &addr
	saved, err := l.jobs.Save(ctx, updated)
	if err != nil {
		return fail(StepPersist, err)
	}
	if saved != nil {
		updated = saved
	}
	l.logger.InfoContext(ctx, "escrow launched",
		"job_id", job.ID, "chain_id", job.ChainID, "escrow_address", addr)

	manifest, err := l.manifests.Load(ctx, job.ManifestURL)
	if err != nil {
		return fail(StepManifest, err)
	}

	if manifest.RequestType.NotifiesExchangeOracle() {
		payload := model.WebhookPayload{EscrowAddress: addr, ChainID: job.ChainID}
		if err := l.webhooks.Send(ctx, l.settings.ExchangeOracleWebhookURL, payload); err != nil {
			return fail(StepWebhook, fmt.Errorf("%w: %w", ErrWebhookDelivery, err))
		}
		metrics.EmitJobTransition(l.metrics, metrics.JobMetric{
			RequestType: string(manifest.RequestType),
			Transition:  metrics.TransitionNotify,
			Result:      metrics.ResultSuccess,
		})
	}
	return updated, nil
}

// createEscrow runs the escrow side effect between two recorded stages and
// returns the PAID job with its escrow address stored.
func (l *EscrowLauncher) createEscrow(ctx context.Context, job *model.Job) (*model.Job, LaunchStep, error) {
	signer, err := l.ledger.Signer(ctx, job.ChainID)
	if err != nil {
		return nil, StepSigner, err
	}

	from := job.LaunchStage
	if from == "" {
		from = model.LaunchStageNotStarted
	}
	if _, err := l.jobs.RecordLaunchStage(ctx, job.ID, from, model.LaunchStageEscrowRequested, nil); err != nil {
		return nil, StepRecord, err
	}

	cfg := model.EscrowConfig{
		RecordingOracle:     l.settings.RecordingOracle,
		ReputationOracle:    l.settings.ReputationOracle,
		RecordingOracleFee:  l.settings.RecordingOracleFee,
		ReputationOracleFee: l.settings.ReputationOracleFee,
		ManifestURL:         job.ManifestURL,
		ManifestHash:        job.ManifestHash,
	}
	escrow, err := signer.CreateAndSetupEscrow(ctx, signer.TokenAddress(), l.settings.TrustedHandlers, cfg)
	if err != nil {
		if errors.Is(err, core.ErrNoEscrowCreated) {
			l.reopen(ctx, job.ID)
			return nil, StepEscrow, err
		}
		return nil, StepEscrow, fmt.Errorf("%w: %w", ErrLaunchNeedsReview, err)
	}
	if escrow == (common.Address{}) {
		missing := apperrors.Wrap(ErrEscrowNotCreated, apperrors.ErrCodeUpstream, ErrEscrowNotCreated.Error())
		return nil, StepEscrow, fmt.Errorf("%w: %w", ErrLaunchNeedsReview, missing)
	}

	addr := escrow.Hex()
	recorded, err := l.jobs.RecordLaunchStage(ctx, job.ID,
		model.LaunchStageEscrowRequested, model.LaunchStageEscrowCreated, &addr)
	if err != nil {
		l.logger.ErrorContext(ctx, "escrow created but not recorded",
			"job_id", job.ID, "chain_id", job.ChainID, "escrow_address", addr, "error", err)
		return nil, StepRecord, fmt.Errorf("%w: escrow %s: %w", ErrLaunchNeedsReview, addr, err)
	}
	if recorded == nil {
		recorded = job.Clone()
		recorded.LaunchStage = model.LaunchStageEscrowCreated
		recorded.RecordedEscrowAddress = &addr
	}
	return recorded, "", nil
}

// reopen returns a job to NOT_STARTED after the ledger reported that no
// escrow exists. If that fails the job stays held for review.
func (l *EscrowLauncher) reopen(ctx context.Context, jobID int64) {
	_, err := l.jobs.RecordLaunchStage(ctx, jobID,
		model.LaunchStageEscrowRequested, model.LaunchStageNotStarted, nil)
	if err != nil {
		l.logger.WarnContext(ctx, "could not reopen job after failed escrow request",
			"job_id", jobID, "error", err)
	}
}

// ResolveHeld settles a job whose escrow request has no recorded outcome.
// An empty escrowAddress declares that no escrow exists and reopens the job
// for a fresh launch; otherwise the address is recorded and the next launch
// resumes at the LAUNCHED transition.
func (l *EscrowLauncher) ResolveHeld(ctx context.Context, jobID int64, escrowAddress string) (*model.Job, error) {
	escrowAddress = strings.TrimSpace(escrowAddress)
	if escrowAddress == "" {
		job, err := l.jobs.RecordLaunchStage(ctx, jobID,
			model.LaunchStageEscrowRequested, model.LaunchStageNotStarted, nil)
		if err != nil {
			return nil, err
		}
		l.logger.InfoContext(ctx, "held job reopened", "job_id", jobID)
		return job, nil
	}
	if !common.IsHexAddress(escrowAddress) {
		return nil, apperrors.ValidationField("escrow_address", "invalid escrow address")
	}
	addr := common.HexToAddress(escrowAddress).Hex()
	job, err := l.jobs.RecordLaunchStage(ctx, jobID,
		model.LaunchStageEscrowRequested, model.LaunchStageEscrowCreated, &addr)
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "held job escrow recorded", "job_id", jobID, "escrow_address", addr)
	return job, nil
}

// acquire takes the per-job launch lock. Without a lock store, or when the
// store is unreachable, the repository's status guard is the only protection.
func (l *EscrowLauncher) acquire(ctx context.Context, jobID int64) (func(), error) {
	noop := func() {}
	if l.locks == nil {
		return noop, nil
	}

	key := core.LaunchLockKey(jobID)
	token := []byte(uuid.NewString())
	ok, err := l.locks.SetIfNotExists(ctx, key, token, l.lockTTL)
	if err != nil {
		l.logger.WarnContext(ctx, "launch lock unavailable", "job_id", jobID, "error", err)
		return noop, nil
	}
	if !ok {
		return nil, apperrors.Wrap(ErrLaunchInProgress, apperrors.ErrCodeConflict, ErrLaunchInProgress.Error())
	}

	return func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := l.locks.DeleteIfValue(relCtx, key, token); err != nil {
			l.logger.WarnContext(ctx, "launch lock release failed", "job_id", jobID, "error", err)
		}
	}, nil
}
