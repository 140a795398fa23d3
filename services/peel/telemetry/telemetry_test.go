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
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/peelcal/services/peel/ephem"
)

func testObservation() Observation {
	return Observation{
		Version:   "test",
		Observer:  ephem.OVRO(time.Date(2015, 4, 9, 14, 34, 51, 0, time.UTC)),
		Frequency: 47.004e6,
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "peelcal", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter, "the environment does not override config")
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
}

func TestResource_CarriesObservation(t *testing.T) {
	res := Resource(DefaultConfig(), testObservation())
	set := res.Set()

	lat, ok := set.Value(AttrLatitude)
	require.True(t, ok)
	assert.InDelta(t, 37.2397808, lat.AsFloat64(), 1e-9)

	freq, ok := set.Value(AttrFrequency)
	require.True(t, ok)
	assert.Equal(t, 47.004e6, freq.AsFloat64())

	observed, ok := set.Value(AttrObserved)
	require.True(t, ok)
	assert.Equal(t, "2015-04-09T14:34:51Z", observed.AsString())

	name, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "peelcal", name.AsString())
}

func TestResource_OmitsZeroTime(t *testing.T) {
	obs := testObservation()
	obs.Observer.Time = time.Time{}
	_, ok := Resource(DefaultConfig(), obs).Set().Value(AttrObserved)
	assert.False(t, ok)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig(), testObservation())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoopExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	prov, err := Init(context.Background(), cfg, testObservation())
	require.NoError(t, err)
	assert.Nil(t, prov.MetricsHandler())
	assert.NotNil(t, prov.Meter())
	assert.NoError(t, prov.Shutdown(context.Background()))
}

func TestInit_PrometheusServesObservation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone

	for i := 0; i < 2; i++ {
		prov, err := Init(context.Background(), cfg, testObservation())
		require.NoError(t, err, "repeated Init must not collide")
		require.NotNil(t, prov.MetricsHandler())

		m, err := NewMetrics(prov.Meter())
		require.NoError(t, err)
		m.RecordRing(context.Background(), "prepeel")

		w := httptest.NewRecorder()
		prov.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "peel_rings_completed_total")
		assert.Contains(t, w.Body.String(), "peel_site_latitude")
		require.NoError(t, prov.Shutdown(context.Background()))
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "jaeger"
	cfg.MetricExporter = ExporterNone

	_, err := Init(context.Background(), cfg, testObservation())
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = "smoke-signals"
	_, err = Init(context.Background(), cfg, testObservation())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestProviders_NilReceiver(t *testing.T) {
	var p *Providers
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.NotNil(t, m.RingsCompleted)
	assert.NotNil(t, m.BaselinesFlagged)
	assert.NotNil(t, m.RunsTotal)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.HTTPActiveRequests)

	ctx := context.Background()
	m.RecordRing(ctx, "prepeel")
	m.RecordFlagged(ctx, "length", 3)
	m.RecordRun(ctx, "success", 1.5)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordRing(ctx, "peel")
		m.RecordFlagged(ctx, "self", 1)
		m.RecordRun(ctx, "failed", 0)
	})
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	for _, metrics := range []*Metrics{m, nil} {
		router := gin.New()
		router.Use(MetricsMiddleware(metrics))
		router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pong", w.Body.String())
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	LoggerWithTrace(ctx, logger).Info("hello")
	out := buf.String()
	assert.True(t, strings.Contains(out, "trace_id=0102030405060708090a0b0c0d0e0f10"), out)
	assert.True(t, strings.Contains(out, "span_id=0102030405060708"), out)
}
