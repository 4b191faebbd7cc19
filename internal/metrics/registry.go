// Package metrics holds the OpenTelemetry instruments for the reporting
// pipeline.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Report pipeline metrics
	ReportDuration metric.Float64Histogram
	ReportRuns     metric.Int64Counter

	// Pixel delivery metrics
	PixelsFired   metric.Int64Counter
	PixelFailures metric.Int64Counter

	// Storage metrics
	QueryDataFetchDuration metric.Float64Histogram
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error

	r.ReportDuration, err = meter.Float64Histogram(
		"dbp.report.duration",
		metric.WithDescription("Weekly report computation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	r.ReportRuns, err = meter.Int64Counter(
		"dbp.report.runs_total",
		metric.WithDescription("Total weekly report runs attempted"),
	)
	if err != nil {
		return nil, err
	}

	r.PixelsFired, err = meter.Int64Counter(
		"dbp.pixel.fired_total",
		metric.WithDescription("Total pixels fired"),
	)
	if err != nil {
		return nil, err
	}

	r.PixelFailures, err = meter.Int64Counter(
		"dbp.pixel.failure_total",
		metric.WithDescription("Total pixel delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	r.QueryDataFetchDuration, err = meter.Float64Histogram(
		"dbp.storage.query_data_fetch_duration",
		metric.WithDescription("Broker query data fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordReportRun records one weekly report attempt
func (r *Registry) RecordReportRun(ctx context.Context, seconds float64, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.ReportDuration.Record(ctx, seconds, attrs)
	r.ReportRuns.Add(ctx, 1, attrs)
}

// RecordPixel records one pixel delivery attempt
func (r *Registry) RecordPixel(ctx context.Context, kind string, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	)
	r.PixelsFired.Add(ctx, 1, attrs)
	if !success {
		r.PixelFailures.Add(ctx, 1, attrs)
	}
}

// RecordQueryDataFetch records a snapshot load from storage
func (r *Registry) RecordQueryDataFetch(ctx context.Context, seconds float64, success bool) {
	r.QueryDataFetchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.Bool("success", success)))
}
