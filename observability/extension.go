package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/ext"
	"github.com/ledgerline/taskbus/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/ledgerline/taskbus/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobStarted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.JobPaused      = (*MetricsExtension)(nil)
	_ ext.JobResumed     = (*MetricsExtension)(nil)
	_ ext.EventPublished = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle transition counters and job
// durations. All instruments carry a job_type attribute (or channel,
// for events) so dashboards can break figures down per type.
type MetricsExtension struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	events      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this to inject a specific MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	transitions, tErr := meter.Int64Counter(
		"taskbus.job.transitions",
		metric.WithDescription("Job lifecycle transitions"),
		metric.WithUnit("{transition}"),
	)
	_ = tErr // noop fallback guaranteed by OTel API contract

	duration, dErr := meter.Float64Histogram(
		"taskbus.job.terminal_duration",
		metric.WithDescription("Time from claim to terminal state in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	events, eErr := meter.Int64Counter(
		"taskbus.event.published",
		metric.WithDescription("Events published to the bus"),
		metric.WithUnit("{event}"),
	)
	_ = eErr

	return &MetricsExtension{
		transitions: transitions,
		duration:    duration,
		events:      events,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) record(ctx context.Context, j *job.Job, transition string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("transition", transition),
	))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.record(ctx, j, "enqueued")
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.record(ctx, j, "started")
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.record(ctx, j, "completed")
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("status", "completed"),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.record(ctx, j, "failed")
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.record(ctx, j, "cancelled")
	return nil
}

// OnJobPaused implements ext.JobPaused.
func (m *MetricsExtension) OnJobPaused(ctx context.Context, j *job.Job) error {
	m.record(ctx, j, "paused")
	return nil
}

// OnJobResumed implements ext.JobResumed.
func (m *MetricsExtension) OnJobResumed(ctx context.Context, j *job.Job) error {
	m.record(ctx, j, "resumed")
	return nil
}

// OnEventPublished implements ext.EventPublished.
func (m *MetricsExtension) OnEventPublished(ctx context.Context, evt *event.Event) error {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", evt.Channel),
	))
	return nil
}
