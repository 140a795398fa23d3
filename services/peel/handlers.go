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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/peelcal/services/peel/store"
)

// HealthResponse is the response for GET /v1/peel/health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RunsResponse is the response for GET /v1/peel/runs.
type RunsResponse struct {
	Runs  []store.Summary `json:"runs"`
	Count int             `json:"count"`
}

// RingsResponse is the response for GET /v1/peel/runs/:id/rings.
type RingsResponse struct {
	RunID string             `json:"run_id"`
	Rings []store.RingRecord `json:"rings"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// DefaultPollInterval is how often the run stream checks for new runs.
const DefaultPollInterval = 2 * time.Second

// Handlers serves stored runs.
type Handlers struct {
	store        *store.RunStore
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewHandlers creates handlers reading from s. A nil logger uses
// slog.Default().
func NewHandlers(s *store.RunStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: s, logger: logger, pollInterval: DefaultPollInterval}
}

// WithPollInterval sets the run stream poll interval and returns h.
func (h *Handlers) WithPollInterval(d time.Duration) *Handlers {
	if d > 0 {
		h.pollInterval = d
	}
	return h
}

// HandleHealth handles GET /v1/peel/health.
//
// Response:
//
//	200 OK: HealthResponse, "healthy" when the store answers
//	503 Service Unavailable: HealthResponse, "degraded"
func (h *Handlers) HandleHealth(c *gin.Context) {
	if _, err := h.store.ListRuns(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Version: ServiceVersion})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleListRuns handles GET /v1/peel/runs.
//
// Query:
//
//	status - Optional filter, "succeeded" or "failed".
//	limit - Optional maximum number of runs, newest first.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_LIMIT"})
			return
		}
		limit = n
	}
	status := store.Status(c.Query("status"))
	if status != "" && status != store.StatusSucceeded && status != store.StatusFailed {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status", Code: "INVALID_STATUS"})
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context())
	if err != nil {
		h.internalError(c, "list runs", err)
		return
	}

	filtered := make([]store.Summary, 0, len(runs))
	for _, run := range runs {
		if status != "" && run.Status != status {
			continue
		}
		filtered = append(filtered, run)
		if limit > 0 && len(filtered) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: filtered, Count: len(filtered)})
}

// HandleGetRun handles GET /v1/peel/runs/:id.
//
// Response:
//
//	200 OK: store.Summary
//	404 Not Found: ErrorResponse
func (h *Handlers) HandleGetRun(c *gin.Context) {
	sum, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupError(c, "get run", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// HandleListRings handles GET /v1/peel/runs/:id/rings.
func (h *Handlers) HandleListRings(c *gin.Context) {
	id := c.Param("id")
	rings, err := h.store.Rings(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "list rings", err)
		return
	}
	c.JSON(http.StatusOK, RingsResponse{RunID: id, Rings: rings})
}

// HandleGetRing handles GET /v1/peel/runs/:id/rings/:ring.
//
// Response:
//
//	200 OK: store.RingRecord
//	400 Bad Request: ring is not a non-negative integer
//	404 Not Found: ErrorResponse
func (h *Handlers) HandleGetRing(c *gin.Context) {
	ring, err := strconv.Atoi(c.Param("ring"))
	if err != nil || ring < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ring must be a non-negative integer", Code: "INVALID_RING"})
		return
	}
	rec, err := h.store.GetRing(c.Request.Context(), c.Param("id"), ring)
	if err != nil {
		h.lookupError(c, "get ring", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) lookupError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, store.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_ID"})
	default:
		h.internalError(c, op, err)
	}
}

func (h *Handlers) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("results api error",
		slog.String("op", op),
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
}
