package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/mocks"
	"github.com/target/job-launcher/internal/observability/statsd"
)

type jobServiceFixture struct {
	svc      *JobService
	jobs     *mocks.MockJobRepository
	payments *mocks.MockPaymentRepository
	storage  *mocks.MockObjectStorage
	metrics  *statsd.Recorder
	now      time.Time
}

func newJobServiceFixture(t *testing.T) *jobServiceFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &jobServiceFixture{
		jobs:     mocks.NewMockJobRepository(ctrl),
		payments: mocks.NewMockPaymentRepository(ctrl),
		storage:  mocks.NewMockObjectStorage(ctrl),
		metrics:  &statsd.Recorder{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = MustNewJobService(JobServiceOptions{
		Jobs:      f.jobs,
		Payments:  f.payments,
		Manifests: newTestManifestService(t, f.storage, nil),
		Rates:     testRates,
		Bucket:    testBucket,
		Metrics:   f.metrics,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func fortuneRequest(amount string) *model.CreateFortuneJobRequest {
	return &model.CreateFortuneJobRequest{
		ChainID:              80001,
		FortunesRequired:     2,
		RequesterTitle:       "Fortune",
		RequesterDescription: "Tell me a fortune",
		FundAmount:           json.Number(amount),
	}
}

func cvatRequest(amount string) *model.CreateCvatJobRequest {
	return &model.CreateCvatJobRequest{
		ChainID:                 80001,
		DataURL:                 "https://bucket.example/images/",
		AnnotationsPerImage:     3,
		Labels:                  []string{"cat", "dog"},
		RequesterDescription:    "Label pets",
		RequesterAccuracyTarget: 0.9,
		FundAmount:              json.Number(amount),
	}
}

func TestNewJobService(t *testing.T) {
	ctrl := gomock.NewController(t)
	storage := mocks.NewMockObjectStorage(ctrl)
	base := JobServiceOptions{
		Jobs:      mocks.NewMockJobRepository(ctrl),
		Payments:  mocks.NewMockPaymentRepository(ctrl),
		Manifests: newTestManifestService(t, storage, nil),
		Rates:     testRates,
		Bucket:    testBucket,
	}

	_, err := NewJobService(base)
	require.NoError(t, err)

	tests := map[string]func(o *JobServiceOptions){
		"missing jobs":     func(o *JobServiceOptions) { o.Jobs = nil },
		"missing payments": func(o *JobServiceOptions) { o.Payments = nil },
		"missing manifest": func(o *JobServiceOptions) { o.Manifests = nil },
		"bad rates":        func(o *JobServiceOptions) { o.Rates.Launcher = 101 },
		"missing bucket":   func(o *JobServiceOptions) { o.Bucket = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := base
			mutate(&opts)
			_, err := NewJobService(opts)
			require.Error(t, err)
		})
	}

	assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
}

func TestJobService_CreateFortuneJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()
	url := manifestURL("abc")

	created := &model.Job{
		ID:           7,
		UserID:       1,
		ChainID:      80001,
		RequestType:  model.RequestTypeFortune,
		ManifestURL:  url,
		ManifestHash: "abc",
		Fee:          tokens(3).String(),
		FundAmount:   tokens(103).String(),
		Status:       model.JobStatusPending,
	}

	gomock.InOrder(
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(200), nil),
		f.storage.EXPECT().UploadFiles(ctx, gomock.Len(1), testBucket).
			DoAndReturn(func(_ context.Context, payloads [][]byte, _ string) ([]model.UploadedFile, error) {
				var m model.Manifest
				require.NoError(t, json.Unmarshal(payloads[0], &m))
				assert.Equal(t, 2, m.SubmissionsRequired)
				assert.Equal(t, model.JobModeDescriptive, m.Mode)
				assert.Equal(t, model.RequestTypeFortune, m.RequestType)
				assert.Equal(t, tokens(3).String(), m.Fee)
				assert.Equal(t, tokens(103).String(), m.FundAmount)
				return []model.UploadedFile{{URL: url, Hash: "abc"}}, nil
			}),
		f.jobs.EXPECT().Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, p model.CreateJobParams) (*model.Job, error) {
				assert.Equal(t, int64(1), p.UserID)
				assert.Equal(t, int64(80001), p.ChainID)
				assert.Equal(t, url, p.ManifestURL)
				assert.Equal(t, "abc", p.ManifestHash)
				assert.Equal(t, 0, tokens(3).Cmp(p.Fee))
				assert.Equal(t, 0, tokens(103).Cmp(p.FundAmount))
				assert.Equal(t, f.now, p.WaitUntil)
				return created, nil
			}),
		f.payments.EXPECT().SavePayment(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, p model.SavePaymentParams) (*model.Payment, error) {
				assert.Equal(t, model.PaymentTypeWithdrawal, p.Type)
				assert.Equal(t, model.PaymentSourceBalance, p.Source)
				require.NotNil(t, p.JobID)
				assert.Equal(t, int64(7), *p.JobID)
				assert.Equal(t, 0, tokens(103).Cmp(p.Amount))
				return &model.Payment{ID: 1}, nil
			}),
		f.jobs.EXPECT().Save(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, j *model.Job) (*model.Job, error) {
				assert.Equal(t, model.JobStatusPaid, j.Status)
				assert.Equal(t, int64(7), j.ID)
				return j, nil
			}),
	)

	id, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, model.JobStatusPending, created.Status, "repository result is not mutated")
	assert.Len(t, f.metrics.Named("job.transition"), 2)
}

func TestJobService_CreateCvatJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(50), nil)
	f.storage.EXPECT().UploadFiles(ctx, gomock.Len(1), testBucket).
		DoAndReturn(func(_ context.Context, payloads [][]byte, _ string) ([]model.UploadedFile, error) {
			var m model.Manifest
			require.NoError(t, json.Unmarshal(payloads[0], &m))
			assert.Equal(t, model.JobModeBatch, m.Mode)
			assert.Equal(t, model.RequestTypeImageLabelBinary, m.RequestType)
			assert.Equal(t, 3, m.SubmissionsRequired)
			assert.Equal(t, []string{"cat", "dog"}, m.Labels)
			assert.Equal(t, "https://bucket.example/images/", m.DataURL)
			assert.InDelta(t, 0.9, m.RequesterAccuracyTarget, 0)
			return []model.UploadedFile{{URL: manifestURL("def"), Hash: "def"}}, nil
		})
	f.jobs.EXPECT().Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, p model.CreateJobParams) (*model.Job, error) {
			assert.Equal(t, model.RequestTypeImageLabelBinary, p.RequestType)
			return &model.Job{ID: 9, UserID: 1, Status: model.JobStatusPending, Fee: "0", FundAmount: "0"}, nil
		})
	f.payments.EXPECT().SavePayment(ctx, gomock.Any()).Return(&model.Payment{ID: 2}, nil)
	f.jobs.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, j *model.Job) (*model.Job, error) { return j, nil })

	id, err := f.svc.CreateCvatJob(ctx, 1, cvatRequest("10"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}

func TestJobService_InsufficientFunds(t *testing.T) {
	ctx := context.Background()

	t.Run("balance equal to total", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(103), nil)

		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("one unit above total proceeds", func(t *testing.T) {
		f := newJobServiceFixture(t)
		balance := new(big.Int).Add(tokens(103), big.NewInt(1))
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(balance, nil)
		f.storage.EXPECT().UploadFiles(ctx, gomock.Len(1), testBucket).
			Return([]model.UploadedFile{{URL: manifestURL("abc"), Hash: "abc"}}, nil)
		f.jobs.EXPECT().Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, p model.CreateJobParams) (*model.Job, error) {
				assert.Equal(t, 0, tokens(103).Cmp(p.FundAmount))
				return &model.Job{ID: 8, UserID: 1, Status: model.JobStatusPending, Fee: p.Fee.String(), FundAmount: p.FundAmount.String()}, nil
			})
		f.payments.EXPECT().SavePayment(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, p model.SavePaymentParams) (*model.Payment, error) {
				assert.Equal(t, 0, tokens(103).Cmp(p.Amount))
				return &model.Payment{ID: 3}, nil
			})
		f.jobs.EXPECT().Save(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, j *model.Job) (*model.Job, error) {
				assert.Equal(t, model.JobStatusPaid, j.Status)
				return j, nil
			})

		id, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
		require.NoError(t, err)
		assert.Equal(t, int64(8), id)
	})

	t.Run("cvat uses the same classification", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(1), nil)

		_, err := f.svc.CreateCvatJob(ctx, 1, cvatRequest("100"))
		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("zero balance", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(0), nil)

		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("0.000000000000000001"))
		require.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestJobService_CreateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid request", func(t *testing.T) {
		f := newJobServiceFixture(t)
		req := fortuneRequest("100")
		req.FortunesRequired = 0
		_, err := f.svc.CreateFortuneJob(ctx, 1, req)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("invalid amount", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(200), nil)
		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("1e3"))
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("anonymous user", func(t *testing.T) {
		f := newJobServiceFixture(t)
		_, err := f.svc.CreateFortuneJob(ctx, 0, fortuneRequest("1"))
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("balance lookup fails", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(nil, errors.New("db down"))
		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("1"))
		require.Error(t, err)
	})

	t.Run("manifest upload fails", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(200), nil)
		f.storage.EXPECT().UploadFiles(ctx, gomock.Any(), testBucket).Return(nil, errors.New("s3 down"))

		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
		require.ErrorIs(t, err, ErrManifestUpload)
	})

	t.Run("job not created", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(200), nil)
		f.storage.EXPECT().UploadFiles(ctx, gomock.Any(), testBucket).
			Return([]model.UploadedFile{{URL: manifestURL("abc"), Hash: "abc"}}, nil)
		f.jobs.EXPECT().Create(ctx, gomock.Any()).Return(nil, nil)

		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
		require.ErrorIs(t, err, ErrJobNotCreated)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("withdrawal fails leaves job pending", func(t *testing.T) {
		f := newJobServiceFixture(t)
		f.payments.EXPECT().GetUserBalance(ctx, int64(1)).Return(tokens(200), nil)
		f.storage.EXPECT().UploadFiles(ctx, gomock.Any(), testBucket).
			Return([]model.UploadedFile{{URL: manifestURL("abc"), Hash: "abc"}}, nil)
		f.jobs.EXPECT().Create(ctx, gomock.Any()).
			Return(&model.Job{ID: 3, UserID: 1, Status: model.JobStatusPending, Fee: "0", FundAmount: "0"}, nil)
		f.payments.EXPECT().SavePayment(ctx, gomock.Any()).Return(nil, errors.New("insufficient balance"))

		_, err := f.svc.CreateFortuneJob(ctx, 1, fortuneRequest("100"))
		require.Error(t, err)
	})
}

func TestJobService_GetByID(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()
	job := paidJob(5, model.RequestTypeFortune)

	f.jobs.EXPECT().GetByID(ctx, int64(5)).Return(job, nil).Times(2)

	got, err := f.svc.GetByID(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = f.svc.GetByID(ctx, 2, 5)
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.True(t, apperrors.IsNotFound(err))

	f.jobs.EXPECT().GetByID(ctx, int64(6)).Return(nil, apperrors.NotFound("job not found"))
	_, err = f.svc.GetByID(ctx, 1, 6)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobService_ListForUser(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	opts := model.JobListOptions{UserID: 1, Limit: 10}
	f.jobs.EXPECT().ListByUser(ctx, opts).Return([]*model.Job{paidJob(1, model.RequestTypeFortune)}, nil)
	jobs, err := f.svc.ListForUser(ctx, opts)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	bad := model.JobStatus("DONE")
	_, err = f.svc.ListForUser(ctx, model.JobListOptions{UserID: 1, Status: &bad})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.ListForUser(ctx, model.JobListOptions{})
	assert.True(t, apperrors.IsUnauthorized(err))
}
