package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics instruments the reference backend's generation worker.
type JobMetrics struct {
	jobsEnqueuedCounter  metric.Int64Counter
	jobsCompletedCounter metric.Int64Counter
	jobsFailedCounter    metric.Int64Counter
	jobDurationHistogram metric.Float64Histogram
	jobsActiveGauge      metric.Int64UpDownCounter
}

// NewJobMetrics creates a new job metrics collector
func NewJobMetrics() (*JobMetrics, error) {
	jobsEnqueuedCounter, err := meter.Int64Counter(
		"xyn.backend.jobs.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsCompletedCounter, err := meter.Int64Counter(
		"xyn.backend.jobs.completed",
		metric.WithDescription("Total number of jobs completed successfully"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsFailedCounter, err := meter.Int64Counter(
		"xyn.backend.jobs.failed",
		metric.WithDescription("Total number of jobs that failed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobDurationHistogram, err := meter.Float64Histogram(
		"xyn.backend.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	jobsActiveGauge, err := meter.Int64UpDownCounter(
		"xyn.backend.jobs.active",
		metric.WithDescription("Number of currently running jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		jobsEnqueuedCounter:  jobsEnqueuedCounter,
		jobsCompletedCounter: jobsCompletedCounter,
		jobsFailedCounter:    jobsFailedCounter,
		jobDurationHistogram: jobDurationHistogram,
		jobsActiveGauge:      jobsActiveGauge,
	}, nil
}

// RecordJobEnqueued records a job accepted into the queue
func (jm *JobMetrics) RecordJobEnqueued(ctx context.Context, jobType string) {
	if jm == nil {
		return
	}
	jm.jobsEnqueuedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("job.type", jobType)))
}

// RecordJobStarted marks a job as running
func (jm *JobMetrics) RecordJobStarted(ctx context.Context, jobType string) {
	if jm == nil {
		return
	}
	jm.jobsActiveGauge.Add(ctx, 1, metric.WithAttributes(attribute.String("job.type", jobType)))
}

// RecordJobCompleted records a successful job completion
func (jm *JobMetrics) RecordJobCompleted(ctx context.Context, jobType string, duration time.Duration) {
	if jm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job.type", jobType),
		attribute.String("status", "completed"),
	)
	jm.jobsCompletedCounter.Add(ctx, 1, attrs)
	jm.jobDurationHistogram.Record(ctx, duration.Seconds(), attrs)
	jm.jobsActiveGauge.Add(ctx, -1, metric.WithAttributes(attribute.String("job.type", jobType)))
}

// RecordJobFailed records a failed job execution
func (jm *JobMetrics) RecordJobFailed(ctx context.Context, jobType string, duration time.Duration) {
	if jm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job.type", jobType),
		attribute.String("status", "failed"),
	)
	jm.jobsFailedCounter.Add(ctx, 1, attrs)
	jm.jobDurationHistogram.Record(ctx, duration.Seconds(), attrs)
	jm.jobsActiveGauge.Add(ctx, -1, metric.WithAttributes(attribute.String("job.type", jobType)))
}
