package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/mocks"
	"github.com/target/job-launcher/internal/observability/statsd"
)

var (
	testEscrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testTokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testSettings   = EscrowSettings{
		RecordingOracle:          common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		ReputationOracle:         common.HexToAddress("0x00000000000000000000000000000000000000c2"),
		RecordingOracleFee:       1,
		ReputationOracleFee:      2,
		TrustedHandlers:          []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000d1")},
		ExchangeOracleWebhookURL: "http://exchange.oracle/webhook",
	}
)

type launcherFixture struct {
	launcher *EscrowLauncher
	jobs     *mocks.MockJobRepository
	ledger   *mocks.MockLedger
	signer   *mocks.MockLedgerSigner
	storage  *mocks.MockObjectStorage
	webhooks *mocks.MockWebhookSender
	locks    *mocks.MockCacheRepository
	metrics  *statsd.Recorder
}

func newLauncherFixture(t *testing.T, withLocks bool) *launcherFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &launcherFixture{
		jobs:     mocks.NewMockJobRepository(ctrl),
		ledger:   mocks.NewMockLedger(ctrl),
		signer:   mocks.NewMockLedgerSigner(ctrl),
		storage:  mocks.NewMockObjectStorage(ctrl),
		webhooks: mocks.NewMockWebhookSender(ctrl),
		locks:    mocks.NewMockCacheRepository(ctrl),
		metrics:  &statsd.Recorder{},
	}
	opts := EscrowLauncherOptions{
		Jobs:      f.jobs,
		Ledger:    f.ledger,
		Manifests: newTestManifestService(t, f.storage, nil),
		Webhooks:  f.webhooks,
		Settings:  testSettings,
		Metrics:   f.metrics,
	}
	if withLocks {
		opts.Locks = f.locks
	}
	f.launcher = MustNewEscrowLauncher(opts)
	return f
}

func (f *launcherFixture) expectSigner(job *model.Job) {
	f.ledger.EXPECT().Signer(gomock.Any(), job.ChainID).Return(f.signer, nil)
	f.signer.EXPECT().TokenAddress().Return(testTokenAddr).AnyTimes()
}

// expectRequested records NOT_STARTED -> ESCROW_REQUESTED for job.
func (f *launcherFixture) expectRequested(job *model.Job) {
	f.jobs.EXPECT().
		RecordLaunchStage(gomock.Any(), job.ID, model.LaunchStageNotStarted, model.LaunchStageEscrowRequested, nil).
		DoAndReturn(func(_ context.Context, _ int64, _, to model.LaunchStage, _ *string) (*model.Job, error) {
			j := job.Clone()
			j.LaunchStage = to
			return j, nil
		})
}

// expectRecorded records ESCROW_REQUESTED -> ESCROW_CREATED with the test escrow.
func (f *launcherFixture) expectRecorded(t *testing.T, job *model.Job) {
	t.Helper()
	f.jobs.EXPECT().
		RecordLaunchStage(gomock.Any(), job.ID, model.LaunchStageEscrowRequested, model.LaunchStageEscrowCreated, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, _, to model.LaunchStage, addr *string) (*model.Job, error) {
			require.NotNil(t, addr)
			assert.Equal(t, testEscrowAddr.Hex(), *addr)
			j := job.Clone()
			j.LaunchStage = to
			j.RecordedEscrowAddress = addr
			return j, nil
		})
}

func (f *launcherFixture) expectCreate(job *model.Job, addr common.Address, err error) {
	f.signer.EXPECT().
		CreateAndSetupEscrow(gomock.Any(), testTokenAddr, testSettings.TrustedHandlers, model.EscrowConfig{
			RecordingOracle:     testSettings.RecordingOracle,
			ReputationOracle:    testSettings.ReputationOracle,
			RecordingOracleFee:  1,
			ReputationOracleFee: 2,
			ManifestURL:         job.ManifestURL,
			ManifestHash:        job.ManifestHash,
		}).
		Return(addr, err)
}

// expectEscrow wires a successful signer, escrow creation, and both stage records for job.
func (f *launcherFixture) expectEscrow(t *testing.T, job *model.Job) {
	t.Helper()
	f.expectSigner(job)
	f.expectRequested(job)
	f.expectCreate(job, testEscrowAddr, nil)
	f.expectRecorded(t, job)
}

func (f *launcherFixture) expectSave() {
	f.jobs.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *model.Job) (*model.Job, error) { return j, nil })
}

func (f *launcherFixture) expectManifest(t *testing.T, job *model.Job) {
	t.Helper()
	m := fortuneManifest()
	m.RequestType = job.RequestType
	f.storage.EXPECT().DownloadFileFromURL(gomock.Any(), job.ManifestURL).Return(mustManifestJSON(t, m), nil)
}

func TestNewEscrowLauncher(t *testing.T) {
	_, err := NewEscrowLauncher(EscrowLauncherOptions{})
	require.Error(t, err)
	assert.Panics(t, func() { MustNewEscrowLauncher(EscrowLauncherOptions{}) })
}

func TestEscrowLauncher_Launch_Fortune(t *testing.T) {
	f := newLauncherFixture(t, false)
	ctx := context.Background()
	job := paidJob(1, model.RequestTypeFortune)

	f.expectEscrow(t, job)
	f.jobs.EXPECT().Save(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, j *model.Job) (*model.Job, error) {
			assert.Equal(t, model.JobStatusLaunched, j.Status)
			require.NotNil(t, j.EscrowAddress)
			assert.Equal(t, testEscrowAddr.Hex(), *j.EscrowAddress)
			return j, nil
		})
	f.expectManifest(t, job)
	// no webhook for fortune jobs: MockWebhookSender fails on any Send

	got, err := f.launcher.Launch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusLaunched, got.Status)
	assert.Equal(t, model.JobStatusPaid, job.Status, "input job is not mutated")
	assert.Nil(t, job.EscrowAddress)

	transitions := f.metrics.Named("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "success", transitions[0].Tags["result"])
}

func TestEscrowLauncher_Launch_CvatNotifiesExchangeOracle(t *testing.T) {
	f := newLauncherFixture(t, false)
	ctx := context.Background()
	job := paidJob(2, model.RequestTypeImageLabelBinary)

	f.expectEscrow(t, job)
	f.expectSave()
	f.expectManifest(t, job)
	f.webhooks.EXPECT().
		Send(ctx, testSettings.ExchangeOracleWebhookURL, model.WebhookPayload{
			EscrowAddress: testEscrowAddr.Hex(),
			ChainID:       job.ChainID,
		}).
		Return(nil).
		Times(1)

	got, err := f.launcher.Launch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, testEscrowAddr.Hex(), *got.EscrowAddress)
}

func TestEscrowLauncher_Launch_Failures(t *testing.T) {
	ctx := context.Background()

	assertLaunchErr := func(t *testing.T, err error, step LaunchStep) *EscrowLaunchError {
		t.Helper()
		var launchErr *EscrowLaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, step, launchErr.Step)
		assert.Equal(t, "escrow launch failed", err.Error())
		return launchErr
	}

	t.Run("signer unavailable", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(3, model.RequestTypeFortune)
		f.ledger.EXPECT().Signer(gomock.Any(), job.ChainID).Return(nil, errors.New("unsupported chain"))

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepSigner)
		assert.False(t, launchErr.NeedsReview())
		assert.Equal(t, "escrow_launch_signer", f.metrics.Named("job.transition")[0].Tags["error_class"])
	})

	t.Run("another launcher requested the escrow first", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(4, model.RequestTypeFortune)
		f.expectSigner(job)
		f.jobs.EXPECT().RecordLaunchStage(gomock.Any(), job.ID, gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, apperrors.Conflict("job was modified concurrently"))
		// MockLedgerSigner fails on any CreateAndSetupEscrow call

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepRecord)
		assert.False(t, launchErr.NeedsReview())
	})

	t.Run("escrow outcome unknown", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(5, model.RequestTypeFortune)
		f.expectSigner(job)
		f.expectRequested(job)
		f.expectCreate(job, common.Address{}, errors.New("wait for 0xabc: context deadline exceeded"))

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepEscrow)
		assert.True(t, launchErr.NeedsReview(), "the job stays ESCROW_REQUESTED")
		require.ErrorIs(t, err, ErrLaunchNeedsReview)
	})

	t.Run("ledger reports no escrow created", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(6, model.RequestTypeFortune)
		f.expectSigner(job)
		f.expectRequested(job)
		f.expectCreate(job, common.Address{}, fmt.Errorf("%w: createEscrow reverted", core.ErrNoEscrowCreated))
		f.jobs.EXPECT().
			RecordLaunchStage(gomock.Any(), job.ID, model.LaunchStageEscrowRequested, model.LaunchStageNotStarted, nil).
			Return(job, nil)

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepEscrow)
		assert.False(t, launchErr.NeedsReview(), "the job is reopened for a later retry")
	})

	t.Run("empty escrow address", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(7, model.RequestTypeFortune)
		f.expectSigner(job)
		f.expectRequested(job)
		f.expectCreate(job, common.Address{}, nil)

		got, err := f.launcher.Launch(ctx, job)
		assert.Nil(t, got)
		assertLaunchErr(t, err, StepEscrow)
		require.ErrorIs(t, err, ErrEscrowNotCreated)
		assert.Equal(t, model.JobStatusPaid, job.Status)
		assert.Nil(t, job.EscrowAddress)
	})

	t.Run("escrow created but not recorded", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(8, model.RequestTypeFortune)
		f.expectSigner(job)
		f.expectRequested(job)
		f.expectCreate(job, testEscrowAddr, nil)
		f.jobs.EXPECT().
			RecordLaunchStage(gomock.Any(), job.ID, model.LaunchStageEscrowRequested, model.LaunchStageEscrowCreated, gomock.Any()).
			Return(nil, errors.New("connection reset"))

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepRecord)
		assert.True(t, launchErr.NeedsReview())
		assert.Contains(t, launchErr.Detail(), testEscrowAddr.Hex())
	})

	t.Run("persist fails after escrow is recorded", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(9, model.RequestTypeFortune)
		f.expectEscrow(t, job)
		f.jobs.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil, apperrors.Conflict("stale"))

		_, err := f.launcher.Launch(ctx, job)
		launchErr := assertLaunchErr(t, err, StepPersist)
		assert.False(t, launchErr.NeedsReview(), "a retry resumes from the recorded escrow")
	})

	t.Run("manifest missing", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(10, model.RequestTypeImageLabelBinary)
		f.expectEscrow(t, job)
		f.expectSave()
		f.storage.EXPECT().DownloadFileFromURL(gomock.Any(), job.ManifestURL).Return(nil, nil)

		_, err := f.launcher.Launch(ctx, job)
		assertLaunchErr(t, err, StepManifest)
		require.ErrorIs(t, err, ErrManifestNotFound)
	})

	t.Run("webhook fails after escrow is recorded", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		job := paidJob(11, model.RequestTypeImageLabelBinary)
		f.expectEscrow(t, job)
		f.expectSave()
		f.expectManifest(t, job)
		f.webhooks.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("502"))

		_, err := f.launcher.Launch(ctx, job)
		assertLaunchErr(t, err, StepWebhook)
		require.ErrorIs(t, err, ErrWebhookDelivery)
	})
}

func TestEscrowLauncher_Launch_ResumesRecordedEscrow(t *testing.T) {
	f := newLauncherFixture(t, false)
	ctx := context.Background()
	job := paidJob(12, model.RequestTypeImageLabelBinary)
	addr := testEscrowAddr.Hex()
	job.LaunchStage = model.LaunchStageEscrowCreated
	job.RecordedEscrowAddress = &addr

	// no Signer or CreateAndSetupEscrow: the escrow already exists
	f.jobs.EXPECT().Save(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, j *model.Job) (*model.Job, error) {
			assert.Equal(t, model.JobStatusLaunched, j.Status)
			assert.Equal(t, addr, *j.EscrowAddress)
			return j, nil
		})
	f.expectManifest(t, job)
	f.webhooks.EXPECT().
		Send(ctx, testSettings.ExchangeOracleWebhookURL, model.WebhookPayload{EscrowAddress: addr, ChainID: job.ChainID}).
		Return(nil)

	got, err := f.launcher.Launch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusLaunched, got.Status)
	assert.Nil(t, job.EscrowAddress, "input job is not mutated")
}

func TestEscrowLauncher_ResolveHeld(t *testing.T) {
	ctx := context.Background()

	t.Run("no escrow reopens the job", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		reopened := paidJob(13, model.RequestTypeFortune)
		f.jobs.EXPECT().
			RecordLaunchStage(ctx, int64(13), model.LaunchStageEscrowRequested, model.LaunchStageNotStarted, nil).
			Return(reopened, nil)

		got, err := f.launcher.ResolveHeld(ctx, 13, "")
		require.NoError(t, err)
		assert.Equal(t, reopened, got)
	})

	t.Run("known escrow is recorded checksummed", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		f.jobs.EXPECT().
			RecordLaunchStage(ctx, int64(14), model.LaunchStageEscrowRequested, model.LaunchStageEscrowCreated, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ int64, _, _ model.LaunchStage, addr *string) (*model.Job, error) {
				require.NotNil(t, addr)
				assert.Equal(t, testEscrowAddr.Hex(), *addr)
				return &model.Job{ID: 14, Status: model.JobStatusPaid, LaunchStage: model.LaunchStageEscrowCreated, RecordedEscrowAddress: addr}, nil
			})

		got, err := f.launcher.ResolveHeld(ctx, 14, strings.ToLower(testEscrowAddr.Hex()))
		require.NoError(t, err)
		assert.True(t, got.HasRecordedEscrow())
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newLauncherFixture(t, false)
		_, err := f.launcher.ResolveHeld(ctx, 15, "0x123")
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestEscrowLauncher_Launch_Lock(t *testing.T) {
	ctx := context.Background()

	t.Run("held lock is a conflict", func(t *testing.T) {
		f := newLauncherFixture(t, true)
		job := paidJob(10, model.RequestTypeFortune)
		f.locks.EXPECT().SetIfNotExists(ctx, core.LaunchLockKey(10), gomock.Any(), 5*time.Minute).Return(false, nil)

		_, err := f.launcher.Launch(ctx, job)
		require.ErrorIs(t, err, ErrLaunchInProgress)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("lock released with owner token", func(t *testing.T) {
		f := newLauncherFixture(t, true)
		job := paidJob(11, model.RequestTypeFortune)

		var token []byte
		f.locks.EXPECT().SetIfNotExists(ctx, core.LaunchLockKey(11), gomock.Any(), 5*time.Minute).
			DoAndReturn(func(_ context.Context, _ string, v []byte, _ time.Duration) (bool, error) {
				token = v
				return true, nil
			})
		f.expectEscrow(t, job)
		f.expectSave()
		f.expectManifest(t, job)
		f.locks.EXPECT().DeleteIfValue(gomock.Any(), core.LaunchLockKey(11), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, v []byte) (bool, error) {
				assert.Equal(t, token, v)
				return true, nil
			})

		_, err := f.launcher.Launch(ctx, job)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("lock store down falls back to status guard", func(t *testing.T) {
		f := newLauncherFixture(t, true)
		job := paidJob(12, model.RequestTypeFortune)
		f.locks.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(false, errors.New("redis down"))
		f.expectEscrow(t, job)
		f.expectSave()
		f.expectManifest(t, job)

		_, err := f.launcher.Launch(ctx, job)
		require.NoError(t, err)
	})
}

func TestEscrowLauncher_Launch_Preconditions(t *testing.T) {
	ctx := context.Background()
	addr := testEscrowAddr.Hex()

	pending := paidJob(30, model.RequestTypeFortune)
	pending.Status = model.JobStatusPending
	withEscrow := paidJob(31, model.RequestTypeFortune)
	withEscrow.EscrowAddress = &addr
	held := paidJob(32, model.RequestTypeFortune)
	held.LaunchStage = model.LaunchStageEscrowRequested

	f := newLauncherFixture(t, false)

	_, err := f.launcher.Launch(ctx, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.launcher.Launch(ctx, pending)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.launcher.Launch(ctx, withEscrow)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.launcher.Launch(ctx, held)
	require.ErrorIs(t, err, ErrLaunchNeedsReview)
	assert.True(t, apperrors.IsConflict(err))
	assert.Empty(t, f.metrics.Named("job.transition"), "refused launches are not attempts")
}

func TestEscrowLauncher_LaunchForUser(t *testing.T) {
	f := newLauncherFixture(t, false)
	ctx := context.Background()
	job := paidJob(20, model.RequestTypeFortune)

	f.jobs.EXPECT().GetByID(ctx, int64(20)).Return(job, nil)
	_, err := f.launcher.LaunchForUser(ctx, 99, 20)
	require.ErrorIs(t, err, ErrJobNotFound)

	f.jobs.EXPECT().GetByID(ctx, int64(21)).Return(nil, apperrors.NotFound("job not found"))
	_, err = f.launcher.LaunchForUser(ctx, 1, 21)
	assert.True(t, apperrors.IsNotFound(err))
}
