package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/observability/statsd"
)

func TestEmitJobTransition(t *testing.T) {
	var rec statsd.Recorder
	EmitJobTransition(&rec, JobMetric{
		RequestType: "FORTUNE",
		Transition:  TransitionLaunch,
		Result:      ResultError,
		Duration:    2 * time.Millisecond,
		Err:         apperrors.Wrap(errors.New("boom"), apperrors.ErrCodeUpstream, "boom"),
	})

	counts := rec.Named("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, "app_upstream", counts[0].Tags["error_class"])
	assert.Equal(t, "FORTUNE", counts[0].Tags["request_type"])
	require.Len(t, rec.Named("job.duration"), 1)

	EmitJobTransition(nil, JobMetric{})
}

func TestEmitJobTransition_SuccessHasNoClass(t *testing.T) {
	var rec statsd.Recorder
	EmitJobTransition(&rec, JobMetric{Transition: TransitionPay, Result: ResultSuccess, Err: errors.New("ignored")})
	counts := rec.Named("job.transition")
	require.Len(t, counts, 1)
	assert.NotContains(t, counts[0].Tags, "error_class")
	assert.Empty(t, rec.Named("job.duration"))
}

func TestEmitReconcileTick(t *testing.T) {
	var rec statsd.Recorder
	EmitReconcileTick(&rec, ReconcileMetric{Due: 3, Launched: 2, Failed: 1, Stale: 4, Held: 1})

	stale := rec.Named("jobs.pending.stale")
	require.Len(t, stale, 1)
	assert.InDelta(t, 4, stale[0].Value, 0)
	held := rec.Named("jobs.launch.held")
	require.Len(t, held, 1)
	assert.InDelta(t, 1, held[0].Value, 0)
	assert.Len(t, rec.Named("reconciler.launched"), 1)
	assert.Len(t, rec.Named("reconciler.failed"), 1)
	assert.Empty(t, rec.Named("reconciler.tick"))
}
