// internal/telemetry/telemetry.go
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github-jira-sync"

type Options struct {
	Enabled     bool
	Stdout      bool
	ServiceName string
	Version     string
}

// Init installs the global meter provider and returns its shutdown func.
// When telemetry is disabled a no-op provider is installed.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if !opts.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns the service meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// Metrics holds the service's instruments.
type Metrics struct {
	jobs        metric.Int64Counter
	jobDuration metric.Float64Histogram
	submissions metric.Int64Counter
	webhooks    metric.Int64Counter
	siteErrors  metric.Int64Counter
}

func NewMetrics(m metric.Meter) (*Metrics, error) {
	jobs, err1 := m.Int64Counter("sync.queue.jobs",
		metric.WithDescription("Queue job lifecycle events by lane and kind"),
	)
	jobDuration, err2 := m.Float64Histogram("sync.queue.job.duration",
		metric.WithDescription("Job handler duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	submissions, err3 := m.Int64Counter("sync.jira.submissions",
		metric.WithDescription("Jira bulk submissions by kind and outcome"),
	)
	webhooks, err4 := m.Int64Counter("sync.github.webhooks",
		metric.WithDescription("GitHub webhooks received by event type"),
	)
	siteErrors, err5 := m.Int64Counter("sync.github.webhook.site_failures",
		metric.WithDescription("Jira sites a webhook could not be delivered to, by event type and outcome"),
	)
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	return &Metrics{
		jobs:        jobs,
		jobDuration: jobDuration,
		submissions: submissions,
		webhooks:    webhooks,
		siteErrors:  siteErrors,
	}, nil
}

// NewNoopMetrics returns instruments that record nothing.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(metricnoop.NewMeterProvider().Meter(instrumentationScope))
	return m
}

func (m *Metrics) RecordSubmission(ctx context.Context, kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attrKind.String(kind),
		attrOutcome.String(outcome),
	))
}

func (m *Metrics) RecordWebhook(ctx context.Context, event string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attrEvent.String(event)))
}

// RecordWebhookSiteFailure counts one Jira site a webhook was not delivered to.
// Outcome is "skipped" for sites without an enabled installation, "error" otherwise.
func (m *Metrics) RecordWebhookSiteFailure(ctx context.Context, event, outcome string) {
	m.siteErrors.Add(ctx, 1, metric.WithAttributes(
		attrEvent.String(event),
		attrOutcome.String(outcome),
	))
}
