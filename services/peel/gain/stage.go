// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gain solves for and applies per-antenna Jones matrices.
//
// The least-squares kernel sits behind the Solver interface. Stage
// prepares its inputs and keeps only the Jones estimate; ApplyGains and
// ApplyInverseGains move data between the calibrated and uncalibrated
// frames.
package gain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

var meter = otel.Meter("peelcal.gain")

// Request is one call to a gain solver. Data and Model must already be
// flagged.
type Request struct {
	Data          *visibility.Tensor
	Model         *visibility.Tensor
	Prior         *visibility.Jones
	StandFlags    []int8
	Eps           float64
	MaxIterations int
	L2Reg         float64
}

// Response is a solver result. Data is solver scratch and may be nil.
type Response struct {
	Data       *visibility.Tensor
	Jones      *visibility.Jones
	Iterations int
	Converged  bool
}

// Solver estimates Jones matrices relating data to a model.
type Solver interface {
	Solve(ctx context.Context, req Request) (Response, error)
}

// Params are the solver settings used for every solve in a run.
type Params struct {
	// Eps is the relative-change convergence threshold.
	Eps float64 `yaml:"eps" json:"eps" validate:"gt=0"`

	// MaxIterations bounds the solver loop.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" validate:"gte=1"`

	// L2Reg is the ridge weight added to each normal matrix.
	L2Reg float64 `yaml:"l2reg" json:"l2reg" validate:"gte=0"`
}

// DefaultParams returns eps 0.5, ten iterations and no regularization.
func DefaultParams() Params {
	return Params{Eps: 0.5, MaxIterations: 10, L2Reg: 0}
}

// Stage wraps a Solver with the array's stand flags and fixed params.
//
// Thread Safety:
//
//	Safe for concurrent use if the underlying Solver is.
type Stage struct {
	solver Solver
	arr    *array.Array
	params Params
	logger *slog.Logger

	metricsOnce sync.Once
	duration    metric.Float64Histogram
}

// NewStage creates a Stage. A nil logger uses slog.Default().
func NewStage(solver Solver, arr *array.Array, params Params, logger *slog.Logger) (*Stage, error) {
	if solver == nil {
		return nil, ErrNilSolver
	}
	if arr == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{solver: solver, arr: arr, params: params, logger: logger}, nil
}

// Params returns the solver settings.
func (s *Stage) Params() Params {
	return s.params
}

func (s *Stage) initMetrics() {
	s.metricsOnce.Do(func() {
		var err error
		s.duration, err = meter.Float64Histogram("peel_solver_duration_seconds",
			metric.WithDescription("Time spent in the gain solver"),
			metric.WithUnit("s"),
		)
		if err != nil {
			s.logger.Error("failed to create solver metric", slog.String("error", err.Error()))
		}
	})
}

// Solve runs the solver on flagged data and model, starting from prior.
// The prior is copied; the solver's output data is discarded.
func (s *Stage) Solve(ctx context.Context, data, model *visibility.Tensor, prior *visibility.Jones) (*visibility.Jones, error) {
	if data == nil || model == nil || prior == nil {
		return nil, ErrInvalidInput
	}
	if !data.SameShape(model) {
		return nil, fmt.Errorf("%w: data %s, model %s", visibility.ErrShapeMismatch, data.Shape(), model.Shape())
	}
	if !prior.Compatible(data) || prior.Stands != s.arr.Stands() {
		return nil, fmt.Errorf("%w: prior [%d times, %d stands], data %s",
			ErrIncompatibleJones, prior.Times, prior.Stands, data.Shape())
	}
	s.initMetrics()

	start := time.Now()
	resp, err := s.solver.Solve(ctx, Request{
		Data:          data,
		Model:         model,
		Prior:         prior.Clone(),
		StandFlags:    s.arr.StandFlags(),
		Eps:           s.params.Eps,
		MaxIterations: s.params.MaxIterations,
		L2Reg:         s.params.L2Reg,
	})
	elapsed := time.Since(start)
	if s.duration != nil {
		s.duration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.Bool("failed", err != nil)))
	}
	if err != nil {
		return nil, fmt.Errorf("gain solve: %w", err)
	}
	if resp.Jones == nil || resp.Jones.Times != prior.Times || resp.Jones.Stands != prior.Stands {
		return nil, fmt.Errorf("%w: solver returned a jones array of the wrong shape", ErrIncompatibleJones)
	}

	s.logger.Debug("gain solve finished",
		slog.Int("iterations", resp.Iterations),
		slog.Bool("converged", resp.Converged),
		slog.Duration("duration", elapsed),
	)
	return resp.Jones, nil
}
