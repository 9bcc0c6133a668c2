package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("xyn-console")

// SessionMetrics instruments the draft session state machine.
type SessionMetrics struct {
	pollsActive      metric.Int64UpDownCounter
	pollFetches      metric.Int64Counter
	staleDiscards    metric.Int64Counter
	actionsCounter   metric.Int64Counter
	rejectedCounter  metric.Int64Counter
	notFoundCounter  metric.Int64Counter
}

// NewSessionMetrics creates the state machine instruments.
func NewSessionMetrics() (*SessionMetrics, error) {
	pollsActive, err := meter.Int64UpDownCounter(
		"xyn.console.polls.active",
		metric.WithDescription("Number of running session poll loops"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	pollFetches, err := meter.Int64Counter(
		"xyn.console.poll.fetches",
		metric.WithDescription("Session fetches issued by poll loops"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	staleDiscards, err := meter.Int64Counter(
		"xyn.console.fetch.discarded",
		metric.WithDescription("Fetch results dropped because a newer request or selection superseded them"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	actionsCounter, err := meter.Int64Counter(
		"xyn.console.actions",
		metric.WithDescription("Session actions sent to the backend"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	rejectedCounter, err := meter.Int64Counter(
		"xyn.console.actions.rejected",
		metric.WithDescription("Session actions rejected locally before any request"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	notFoundCounter, err := meter.Int64Counter(
		"xyn.console.sessions.gone",
		metric.WithDescription("Selected sessions found deleted during reconciliation"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		pollsActive:     pollsActive,
		pollFetches:     pollFetches,
		staleDiscards:   staleDiscards,
		actionsCounter:  actionsCounter,
		rejectedCounter: rejectedCounter,
		notFoundCounter: notFoundCounter,
	}, nil
}

// NewSessionMetricsOrNoop never fails; instruments that cannot be created are left nil.
func NewSessionMetricsOrNoop() *SessionMetrics {
	m, err := NewSessionMetrics()
	if err != nil {
		return nil
	}
	return m
}

func (m *SessionMetrics) RecordPollStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollsActive.Add(ctx, 1)
}

func (m *SessionMetrics) RecordPollStopped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.pollsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *SessionMetrics) RecordPollFetch(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollFetches.Add(ctx, 1)
}

func (m *SessionMetrics) RecordDiscarded(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.staleDiscards.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *SessionMetrics) RecordAction(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.actionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *SessionMetrics) RecordRejected(ctx context.Context, action, reason string) {
	if m == nil {
		return
	}
	m.rejectedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("reason", reason),
		),
	)
}

func (m *SessionMetrics) RecordSessionGone(ctx context.Context) {
	if m == nil {
		return
	}
	m.notFoundCounter.Add(ctx, 1)
}
