// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/peelcal/services/peel/ephem"
)

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// Exporter names.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the peelcal configuration.
type Config struct {
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required"`

	// Environment is reported as deployment.environment.
	Environment string `yaml:"environment" json:"environment"`

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the gRPC collector address used by the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`

	OTLPInsecure bool `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// DefaultConfig returns the workstation defaults: no tracing, Prometheus
// metrics.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "peelcal",
		Environment:    "development",
		TraceExporter:  ExporterNone,
		MetricExporter: ExporterPrometheus,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

// Observation identifies the data a process calibrates. It is attached
// to every span and metric as resource attributes.
type Observation struct {
	// Version is the peelcal build.
	Version string

	Observer ephem.Observer

	// Frequency is the operating frequency in Hz.
	Frequency float64
}

// Resource attribute keys for the observation.
const (
	AttrLatitude  = attribute.Key("peel.site.latitude")
	AttrLongitude = attribute.Key("peel.site.longitude")
	AttrElevation = attribute.Key("peel.site.elevation_m")
	AttrObserved  = attribute.Key("peel.observed")
	AttrFrequency = attribute.Key("peel.frequency_hz")
)

// Resource builds the OTel resource for cfg and obs.
func Resource(cfg Config, obs Observation) *resource.Resource {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", obs.Version),
		attribute.String("deployment.environment", cfg.Environment),
		AttrLatitude.Float64(obs.Observer.Latitude),
		AttrLongitude.Float64(obs.Observer.Longitude),
		AttrElevation.Float64(obs.Observer.Elevation),
		AttrFrequency.Float64(obs.Frequency),
	}
	if !obs.Observer.Time.IsZero() {
		attrs = append(attrs, AttrObserved.String(obs.Observer.Time.UTC().Format(time.RFC3339)))
	}
	return resource.NewWithAttributes("", attrs...)
}

// Providers holds the providers Init installed.
//
// Thread Safety: Safe for concurrent use after Init returns.
type Providers struct {
	name    string
	tracer  *trace.TracerProvider
	meter   *metric.MeterProvider
	handler http.Handler
}

// Init installs the global TracerProvider and MeterProvider for a
// validated telemetry config.
//
// Description:
//
//	After Init returns, otel.Tracer and otel.Meter report through the
//	configured exporters with the observation attached as resource
//	attributes. An exporter of "none" leaves the corresponding global
//	provider untouched.
//
// Inputs:
//
//	ctx - Used for exporter connections.
//	cfg - The telemetry section, already validated by config.Validate.
//	obs - The observation to attach to every span and metric.
//
// Outputs:
//
//	*Providers - Call Shutdown to flush and close exporters.
//	error - Non-nil for an unknown exporter or a failed exporter.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config, obs Observation) (*Providers, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	res := Resource(cfg, obs)
	p := &Providers{name: cfg.ServiceName}

	if cfg.TraceExporter != ExporterNone {
		exporter, err := traceExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		p.tracer = trace.NewTracerProvider(
			trace.WithBatcher(exporter),
			trace.WithResource(res),
		)
		otel.SetTracerProvider(p.tracer)
	}

	if cfg.MetricExporter != ExporterNone {
		reader, handler, err := metricReader(cfg)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		p.meter = metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		p.handler = handler
		otel.SetMeterProvider(p.meter)
	}
	return p, nil
}

// Meter returns the peelcal meter. Without a metric exporter it comes
// from the global provider.
func (p *Providers) Meter() otelmetric.Meter {
	if p.meter != nil {
		return p.meter.Meter(p.name)
	}
	return otel.Meter(p.name)
}

// MetricsHandler returns the /metrics handler, or nil unless the
// Prometheus exporter is in use.
func (p *Providers) MetricsHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.handler
}

// Shutdown flushes and closes every installed provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracer != nil {
		errs = append(errs, p.tracer.Shutdown(ctx))
	}
	if p.meter != nil {
		errs = append(errs, p.meter.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return nil
}

func traceExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

// metricReader builds the reader for cfg. The Prometheus reader gets its
// own registry so repeated Init calls do not collide.
func metricReader(cfg Config) (metric.Reader, http.Handler, error) {
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		registry := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewPeriodicReader(exporter), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}
