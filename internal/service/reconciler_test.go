package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/mocks"
	"github.com/target/job-launcher/internal/observability/statsd"
)

type launchFunc func(ctx context.Context, job *model.Job) (*model.Job, error)

func (f launchFunc) Launch(ctx context.Context, job *model.Job) (*model.Job, error) {
	return f(ctx, job)
}

func testReconcilerConfig() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		Interval:      time.Minute,
		BatchSize:     10,
		Concurrency:   2,
		RetryDelay:    5 * time.Minute,
		PendingMaxAge: 15 * time.Minute,
	}
}

func TestNewReconciler(t *testing.T) {
	_, err := NewReconciler(ReconcilerOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = NewReconciler(ReconcilerOptions{Jobs: mocks.NewMockJobRepository(ctrl)})
	require.Error(t, err)
}

func TestReconciler_Tick(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobRepository(ctrl)
	rec := &statsd.Recorder{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		launched []int64
	)
	launcher := launchFunc(func(_ context.Context, job *model.Job) (*model.Job, error) {
		mu.Lock()
		launched = append(launched, job.ID)
		mu.Unlock()
		if job.ID == 2 {
			return nil, &EscrowLaunchError{JobID: 2, Step: StepEscrow, Cause: errors.New("reverted")}
		}
		if job.ID == 4 {
			return nil, &EscrowLaunchError{JobID: 4, Step: StepEscrow, Cause: fmt.Errorf("%w: %w", ErrLaunchNeedsReview, context.DeadlineExceeded)}
		}
		return job, nil
	})

	r, err := NewReconciler(ReconcilerOptions{
		Jobs:     jobs,
		Launcher: launcher,
		Config:   testReconcilerConfig(),
		Metrics:  rec,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	due := []*model.Job{
		paidJob(1, model.RequestTypeFortune),
		paidJob(2, model.RequestTypeFortune),
		paidJob(3, model.RequestTypeImageLabelBinary),
		paidJob(4, model.RequestTypeFortune),
	}
	jobs.EXPECT().ListDueForLaunch(ctx, now, 10).Return(due, nil)
	// job 4 may own an unrecorded escrow, so only job 2 is rescheduled
	jobs.EXPECT().Reschedule(gomock.Any(), int64(2), now.Add(5*time.Minute)).Return(nil)
	jobs.EXPECT().CountStalePending(ctx, now.Add(-15*time.Minute)).Return(int64(4), nil)
	jobs.EXPECT().CountHeldLaunches(ctx).Return(int64(1), nil)

	res, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Due: 4, Launched: 2, Failed: 2, StalePending: 4, Held: 1}, res)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, launched)

	stale := rec.Named("jobs.pending.stale")
	require.Len(t, stale, 1)
	assert.InDelta(t, 4, stale[0].Value, 0)
}

func TestReconciler_Tick_NothingDue(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobRepository(ctrl)
	ctx := context.Background()

	r, err := NewReconciler(ReconcilerOptions{
		Jobs: jobs,
		Launcher: launchFunc(func(context.Context, *model.Job) (*model.Job, error) {
			t.Fatal("launcher must not be called")
			return nil, nil
		}),
		Config: testReconcilerConfig(),
	})
	require.NoError(t, err)

	jobs.EXPECT().ListDueForLaunch(ctx, gomock.Any(), 10).Return(nil, nil)
	jobs.EXPECT().CountStalePending(ctx, gomock.Any()).Return(int64(0), nil)
	jobs.EXPECT().CountHeldLaunches(ctx).Return(int64(0), nil)

	res, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{}, res)
}

func TestReconciler_Tick_RepositoryErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobRepository(ctrl)
	ctx := context.Background()

	r, err := NewReconciler(ReconcilerOptions{
		Jobs:     jobs,
		Launcher: launchFunc(func(_ context.Context, j *model.Job) (*model.Job, error) { return j, nil }),
		Config:   testReconcilerConfig(),
	})
	require.NoError(t, err)

	jobs.EXPECT().ListDueForLaunch(ctx, gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))
	jobs.EXPECT().CountStalePending(ctx, gomock.Any()).Return(int64(0), errors.New("db down"))
	jobs.EXPECT().CountHeldLaunches(ctx).Return(int64(0), errors.New("db down"))

	_, err = r.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch due jobs")
	assert.Contains(t, err.Error(), "count stale pending jobs")
	assert.Contains(t, err.Error(), "count held launches")
}

func TestReconciler_Run_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobRepository(ctrl)

	cfg := testReconcilerConfig()
	cfg.Interval = 5 * time.Second
	r, err := NewReconciler(ReconcilerOptions{
		Jobs:     jobs,
		Launcher: launchFunc(func(_ context.Context, j *model.Job) (*model.Job, error) { return j, nil }),
		Config:   cfg,
	})
	require.NoError(t, err)

	jobs.EXPECT().ListDueForLaunch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	jobs.EXPECT().CountStalePending(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()
	jobs.EXPECT().CountHeldLaunches(gomock.Any()).Return(int64(0), nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
