// Package telemetry holds the process-wide prometheus collectors and the
// optional OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationPrefix = "github.com/emilianohg/clickmirror/"

var (
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_fetch_requests_total",
		Help: "Remote API requests by route and status code",
	}, []string{"route", "code"})

	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_fetch_retries_total",
		Help: "Retried remote API requests by reason",
	}, []string{"reason"})

	LimiterWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clickmirror_limiter_wait_seconds",
		Help:    "Time spent waiting for a rate limiter token",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_structure_cache_lookups_total",
		Help: "Structure cache lookups by result",
	}, []string{"result"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_sync_runs_total",
		Help: "Sync runs by mode and outcome",
	}, []string{"mode", "outcome"})

	SyncTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_sync_tasks_total",
		Help: "Tasks processed by sync, by result",
	}, []string{"result"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clickmirror_sync_duration_seconds",
		Help:    "Wall time of completed sync runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clickmirror_job_transitions_total",
		Help: "Job state transitions",
	}, []string{"state"})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clickmirror_jobs_active",
		Help: "Jobs queued or running",
	})
)

// Tracer returns a named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}

// MetricsHandler serves the default prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// InitTracing installs a tracer provider that writes spans to w. When
// disabled the global no-op provider stays in place.
func InitTracing(w io.Writer, enabled bool, version string) (shutdown func(context.Context) error, err error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "clickmirror"),
		attribute.String("service.version", version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
