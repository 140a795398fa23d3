// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/peelcal/services/peel/telemetry"
)

// RegisterRoutes registers the /v1/peel endpoints on rg.
//
// Endpoints:
//
//	GET /v1/peel/health - Store health and version
//	GET /v1/peel/runs - Stored runs, newest first
//	GET /v1/peel/runs/:id - One run summary
//	GET /v1/peel/runs/:id/rings - Every ring of a run
//	GET /v1/peel/runs/:id/rings/:ring - One ring
//	GET /v1/peel/stream - Websocket of run summaries
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	peel := rg.Group("/peel")
	peel.GET("/health", h.HandleHealth)
	peel.GET("/runs", h.HandleListRuns)
	peel.GET("/runs/:id", h.HandleGetRun)
	peel.GET("/runs/:id/rings", h.HandleListRings)
	peel.GET("/runs/:id/rings/:ring", h.HandleGetRing)
	peel.GET("/stream", h.HandleStream)
}

// RouterOption configures NewRouter.
type RouterOption func(*routerOptions)

type routerOptions struct {
	limiter *rate.Limiter
}

// WithRateLimit limits /v1 to ratePerSecond with burst. Zero disables it.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(o *routerOptions) { o.limiter = NewLimiter(ratePerSecond, burst) }
}

// NewRouter builds the results API engine.
//
// Description:
//
//	Adds recovery, otelgin tracing and request metrics, then mounts the
//	API under /v1, behind the rate limiter when one is configured. When
//	metricsHandler is non-nil it is served at /metrics.
func NewRouter(h *Handlers, metrics *telemetry.Metrics, metricsHandler http.Handler, opts ...RouterOption) *gin.Engine {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("peelcal"))
	router.Use(telemetry.MetricsMiddleware(metrics))

	v1 := router.Group("/v1")
	if o.limiter != nil {
		v1.Use(RateLimit(o.limiter))
	}
	RegisterRoutes(v1, h)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return router
}
