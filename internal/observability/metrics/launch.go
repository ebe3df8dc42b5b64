// Package metrics emits the job launcher's business metrics through a statsd.Sink.
package metrics

import (
	"time"

	obserrors "github.com/target/job-launcher/internal/observability/errors"
	"github.com/target/job-launcher/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names emitted for the job lifecycle.
const (
	TransitionCreate = "create"
	TransitionPay    = "pay"
	TransitionLaunch = "launch"
	TransitionNotify = "notify"
)

// JobMetric captures a single lifecycle step of a job.
type JobMetric struct {
	RequestType string
	Transition  string
	Result      string
	Duration    time.Duration
	Err         error
}

// EmitJobTransition emits job.transition and, when timed, job.duration.
func EmitJobTransition(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"request_type": in.RequestType,
		"transition":   in.Transition,
		"result":       in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ReconcileMetric summarises one reconciler tick.
type ReconcileMetric struct {
	Due      int
	Launched int
	Failed   int
	Stale    int64
	Held     int64
	Duration time.Duration
}

// EmitReconcileTick emits per-tick reconciler counters and the stale PENDING
// and held launch gauges.
func EmitReconcileTick(sink statsd.Sink, in ReconcileMetric) {
	if sink == nil {
		return
	}
	sink.Gauge("reconciler.due", float64(in.Due), nil)
	if in.Launched > 0 {
		sink.Count("reconciler.launched", int64(in.Launched), nil)
	}
	if in.Failed > 0 {
		sink.Count("reconciler.failed", int64(in.Failed), nil)
	}
	sink.Gauge("jobs.pending.stale", float64(in.Stale), nil)
	sink.Gauge("jobs.launch.held", float64(in.Held), nil)
	if in.Duration > 0 {
		sink.Timing("reconciler.tick", in.Duration, nil)
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
