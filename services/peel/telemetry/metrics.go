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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pipeline and API instruments.
//
// Description:
//
//	Stage and solver timings are owned by the dag and gain packages; the
//	instruments here cover rings, flagging, whole runs and HTTP. All
//	metrics use the "peel_" prefix.
//
//	The Record helpers accept a nil receiver so callers can leave metrics
//	unset.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Pipeline Metrics ---

	// RingsCompleted counts finished rings by phase.
	RingsCompleted metric.Int64Counter

	// BaselinesFlagged counts flagged baselines by flagger.
	BaselinesFlagged metric.Int64Counter

	// RunsTotal counts pipeline runs by status.
	RunsTotal metric.Int64Counter

	// RunDuration records whole-run duration in seconds.
	RunDuration metric.Float64Histogram

	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts API requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records API request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight API requests.
	HTTPActiveRequests metric.Int64UpDownCounter
}

// NewMetrics registers every instrument with meter.
//
// Inputs:
//
//	meter - The OTel meter to register with.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RingsCompleted, err = meter.Int64Counter(
		"peel_rings_completed_total",
		metric.WithDescription("Rings completed by phase"),
		metric.WithUnit("{ring}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rings_completed_total: %w", err)
	}

	m.BaselinesFlagged, err = meter.Int64Counter(
		"peel_baselines_flagged_total",
		metric.WithDescription("Baselines flagged by flagger"),
		metric.WithUnit("{baseline}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create baselines_flagged_total: %w", err)
	}

	m.RunsTotal, err = meter.Int64Counter(
		"peel_runs_total",
		metric.WithDescription("Pipeline runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"peel_run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"peel_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"peel_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"peel_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	return m, nil
}

// RecordRing counts one finished ring.
func (m *Metrics) RecordRing(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.RingsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordFlagged counts baselines one flagger removed.
func (m *Metrics) RecordFlagged(ctx context.Context, flagger string, baselines int) {
	if m == nil || baselines == 0 {
		return
	}
	m.BaselinesFlagged.Add(ctx, int64(baselines), metric.WithAttributes(attribute.String("flagger", flagger)))
}

// RecordRun counts one run and its duration.
func (m *Metrics) RecordRun(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, seconds, attrs)
}
