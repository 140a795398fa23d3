// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry for peelcal.
//
// Init installs the global TracerProvider and MeterProvider; the stage
// graph, gain solver and results API then use otel.Tracer and otel.Meter
// directly. Every span and metric carries the observing site and the
// operating frequency as resource attributes.
//
// # Traces
//
// "otlp" exports over gRPC, "stdout" pretty-prints spans, "none" disables
// tracing.
//
// # Metrics
//
// "prometheus" serves a private registry through
// Providers.MetricsHandler. "stdout" prints periodically. "none" disables
// metrics.
//
// # Usage
//
//	prov, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Observation(peel.ServiceVersion))
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer prov.Shutdown(context.Background())
//
//	metrics, err := telemetry.NewMetrics(prov.Meter())
package telemetry
