package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/devbundle"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal       metric.Int64Counter
	BuildErrorsTotal  metric.Int64Counter
	BuildDuration     metric.Float64Histogram
	ModulesBundled    metric.Int64Histogram
	ArtifactBytes     metric.Int64Histogram
	RebuildsCoalesced metric.Int64Counter

	// Dev server metrics
	ActiveSessions    metric.Int64UpDownCounter
	NotificationsSent metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for build spans
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"devbundle.builds.total",
		metric.WithDescription("Total number of builds and rebuilds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"devbundle.builds.errors.total",
		metric.WithDescription("Total number of failed builds"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"devbundle.builds.duration",
		metric.WithDescription("Duration of graph build and emit"),
		metric.WithUnit("ms"),
	)

	m.ModulesBundled, _ = meter.Int64Histogram(
		"devbundle.builds.modules",
		metric.WithDescription("Number of modules in each emitted bundle"),
		metric.WithUnit("{module}"),
	)

	m.ArtifactBytes, _ = meter.Int64Histogram(
		"devbundle.artifact.size",
		metric.WithDescription("Size of the emitted bundle"),
		metric.WithUnit("By"),
	)

	m.RebuildsCoalesced, _ = meter.Int64Counter(
		"devbundle.rebuilds.coalesced.total",
		metric.WithDescription("Total number of change events folded into a pending rebuild"),
		metric.WithUnit("{event}"),
	)

	m.ActiveSessions, _ = meter.Int64UpDownCounter(
		"devbundle.devserver.sessions.active",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{session}"),
	)

	m.NotificationsSent, _ = meter.Int64Counter(
		"devbundle.devserver.notifications.total",
		metric.WithDescription("Total number of live reload messages delivered to clients"),
		metric.WithUnit("{message}"),
	)

	return m
}
